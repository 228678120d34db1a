// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists the knowledge graph and its temporal history
// outside the process.
//
// The graph itself is in-memory. A Snapshot is a point-in-time copy that
// can be written to an embedded BadgerDB (warm, local) or a GCS bucket
// (cold, shared) and restored on startup.
package snapshot

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/temporal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.regkg.snapshot")

// FormatVersion is bumped on incompatible encoding changes.
const FormatVersion = 1

var (
	// ErrNotFound is returned when a named snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrFormat is returned when a snapshot cannot be decoded or has an
	// unsupported FormatVersion.
	ErrFormat = errors.New("unsupported snapshot format")
)

// Snapshot is a self-contained copy of the graph and its history.
type Snapshot struct {
	FormatVersion int
	TakenAt       time.Time
	Revision      uint64
	Graph         graph.Dump
	History       map[string][]temporal.VersionedNode
}

// Info describes a stored snapshot without loading it.
type Info struct {
	Name     string    `json:"name"`
	TakenAt  time.Time `json:"taken_at"`
	Revision uint64    `json:"revision"`
	Nodes    int       `json:"nodes"`
	Edges    int       `json:"edges"`
	Size     int64     `json:"size"`
}

// Store persists encoded snapshots by name.
type Store interface {
	Save(ctx context.Context, name string, s *Snapshot) (Info, error)
	Load(ctx context.Context, name string) (*Snapshot, error)
	List(ctx context.Context) ([]Info, error)
	Close() error
}

// Capture copies g and t.
//
// Description:
//
//	The graph is copied under its read lock. The history is copied
//	afterwards under the tracker's own lock, so a mutation committed
//	in between can appear in the history without its graph state.
//	Restoring such a snapshot only leaves an extra closed version.
func Capture(ctx context.Context, g *graph.Graph, t *temporal.Tracker) *Snapshot {
	_, span := tracer.Start(ctx, "snapshot.Capture")
	defer span.End()

	s := &Snapshot{
		FormatVersion: FormatVersion,
		TakenAt:       time.Now().UTC(),
		Graph:         g.Export(ctx),
		Revision:      g.Revision(),
	}
	if t != nil {
		s.History = t.Export()
	}
	span.SetAttributes(
		attribute.Int("snapshot.nodes", len(s.Graph.Nodes)),
		attribute.Int("snapshot.edges", len(s.Graph.Edges)),
	)
	return s
}

// Restore replaces the contents of g and t with s.
//
// The graph is restored first. If that fails t is left untouched.
func (s *Snapshot) Restore(ctx context.Context, g *graph.Graph, t *temporal.Tracker) error {
	_, span := tracer.Start(ctx, "snapshot.Restore")
	defer span.End()

	if err := g.Restore(ctx, s.Graph); err != nil {
		span.RecordError(err)
		return fmt.Errorf("restoring graph: %w", err)
	}
	if t != nil {
		t.Import(s.History)
	}
	return nil
}

func (s *Snapshot) info(name string, size int) Info {
	return Info{
		Name:     name,
		TakenAt:  s.TakenAt,
		Revision: s.Revision,
		Nodes:    len(s.Graph.Nodes),
		Edges:    len(s.Graph.Edges),
		Size:     int64(size),
	}
}

// Encode serializes s with gob.
func Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if s.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, s.FormatVersion)
	}
	return &s, nil
}

func validName(name string) error {
	if name == "" {
		return &graph.ValidationError{Field: "name", Reason: "snapshot name is required"}
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return &graph.ValidationError{Field: "name", Value: name, Reason: "only letters, digits, '-', '_' and '.' are allowed"}
		}
	}
	return nil
}
