// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the regulatory knowledge graph store.
//
// The graph is a directed multigraph whose nodes are regulatory entities
// (frameworks, requirements, authorities, concepts) and whose edges are
// typed relationships (dependency, conflict, supersession, implication).
// Multiple edges of any type may connect the same ordered pair and cycles
// are permitted.
//
// # Storage Model
//
// Nodes and edges live in arenas of slots addressed by generational
// references (NodeRef, EdgeRef). A removed slot bumps its generation, so a
// stale ref is detected instead of silently aliasing a new entity. A map
// from external entity ID to NodeRef gives stable identity lookup: there is
// exactly one node per entity ID.
//
// # Thread Safety
//
// Graph uses a single-writer, multiple-reader discipline:
//   - Update runs a transaction under the exclusive lock. Mutations are
//     atomic: a returned error rolls every change in the transaction back.
//   - View runs a read callback under the shared lock. The whole callback
//     observes one consistent state.
//
// Pointers handed out by Reader are only valid inside the callback that
// produced them.
package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
var (
	// ErrValidation is the class of every input validation failure,
	// including references to entity IDs that are not in the index.
	ErrValidation = errors.New("validation failed")

	// ErrInternal marks a violated store post-condition. It indicates a bug
	// in the store, not bad input, and must not be swallowed.
	ErrInternal = errors.New("internal invariant violated")

	// ErrNotImplemented is returned by capability placeholders so callers
	// cannot mistake "not computed" for "nothing found".
	ErrNotImplemented = errors.New("not implemented")

	// ErrNodeNotFound is returned when an entity ID or NodeRef does not
	// resolve to a live node. It is always wrapped in a ValidationError.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned when an EdgeRef does not resolve to a
	// live edge.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrStaleVersion is returned when a framework is re-ingested with a
	// version older than the one already stored.
	ErrStaleVersion = errors.New("stale framework version")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph has reached its
	// configured edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")
)

// ValidationError describes rejected input.
//
// It matches both ErrValidation and its Err cause with errors.Is.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation failed: %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap exposes ErrValidation and the optional cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// InternalError reports a broken store invariant.
type InternalError struct {
	Op     string
	Detail string
}

// Error implements error.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %s", e.Op, e.Detail)
}

// Unwrap returns ErrInternal.
func (e *InternalError) Unwrap() error {
	return ErrInternal
}

// NotFound returns the ValidationError used for unknown entity IDs.
func NotFound(entityID string) error {
	return &ValidationError{
		Field:  "entity_id",
		Value:  entityID,
		Reason: "not present in the index",
		Err:    ErrNodeNotFound,
	}
}

func invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
