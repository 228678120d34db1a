// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regkg

import (
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/inference"
)

// ServiceVersion is the regkg service version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// UpsertNodeRequest is the body for PUT /v1/regkg/nodes/:id.
type UpsertNodeRequest struct {
	// Type is a pointer because the zero NodeType is Framework.
	Type       *graph.NodeType `json:"node_type" binding:"required"`
	Properties map[string]any  `json:"properties"`
}

// AddEdgeRequest is the body for POST /v1/regkg/edges. The edge fields
// are inlined next to the endpoints.
type AddEdgeRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
	graph.KnowledgeEdge
}

// ComplianceRequest is the body for POST /v1/regkg/compliance.
type ComplianceRequest struct {
	EntityID     string   `json:"entity_id" binding:"required"`
	FrameworkIDs []string `json:"framework_ids" binding:"required,min=1"`
}

// SnapshotRequest is the body for POST /v1/regkg/snapshot.
type SnapshotRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

// IngestResponse reports the entity created by POST /v1/regkg/frameworks.
type IngestResponse struct {
	EntityID     string `json:"entity_id"`
	Requirements int    `json:"requirements"`
	Revision     uint64 `json:"revision"`
}

// InferenceResponse wraps an inference run.
type InferenceResponse struct {
	inference.InferenceResult
	Applied int `json:"applied"`
}

// HealthResponse is returned by GET /v1/regkg/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Nodes    int    `json:"nodes"`
	Edges    int    `json:"edges"`
	Revision uint64 `json:"revision"`
}
