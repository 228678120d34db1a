// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict finds explicit and implicit contradictions between
// regulatory entities and proposes resolutions.
//
// Explicit conflicts come from ConflictsWith and Contradicts edges.
// Implicit conflicts are inferred from structure: near-duplicate mandatory
// requirements sharing a neighbour (semantic), edges that take effect
// after their target was last revised (temporal), and mutual precedence
// claims (authority).
package conflict

import (
	"context"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
)

// Kind names the rule that produced a conflict.
type Kind string

const (
	KindExplicit  Kind = "explicit"
	KindSemantic  Kind = "semantic"
	KindTemporal  Kind = "temporal"
	KindAuthority Kind = "authority"
)

// ConflictStep is one hop of the evidence behind a conflict.
type ConflictStep struct {
	StepID              int                    `json:"step_id"`
	FromEntity          string                 `json:"from_entity"`
	ToEntity            string                 `json:"to_entity"`
	RelationshipType    graph.RelationshipType `json:"relationship_type"`
	ConflictDescription string                 `json:"conflict_description"`
	Confidence          float64                `json:"confidence"`
}

// ConflictPath is a detected conflict between two entities.
type ConflictPath struct {
	ConflictID            string         `json:"conflict_id"`
	Kind                  Kind           `json:"kind"`
	SourceEntity          string         `json:"source_entity"`
	TargetEntity          string         `json:"target_entity"`
	ConflictSteps         []ConflictStep `json:"conflict_steps"`
	ConflictSeverity      float64        `json:"conflict_severity"`
	ResolutionSuggestions []string       `json:"resolution_suggestions"`
}

// Detector finds conflicts in a knowledge graph.
type Detector interface {
	// DetectConflicts returns every conflict, at most one per unordered
	// entity pair, sorted by descending severity.
	DetectConflicts(ctx context.Context) ([]ConflictPath, error)
}

// Unimplemented is a Detector that reports graph.ErrNotImplemented.
//
// It lets callers wire a detector slot before a real one is configured
// without mistaking "not run" for "no conflicts".
type Unimplemented struct{}

// DetectConflicts always fails with graph.ErrNotImplemented.
func (Unimplemented) DetectConflicts(context.Context) ([]ConflictPath, error) {
	return nil, graph.ErrNotImplemented
}

var (
	_ Detector = (*GraphDetector)(nil)
	_ Detector = Unimplemented{}
)
