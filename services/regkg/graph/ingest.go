// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/mod/semver"
)

// Provenance labels attached to edges wired during framework ingestion.
const (
	EvidenceDirectSpecification = "direct_specification"
	EvidenceFrameworkSpec       = "framework_specification"
	EvidenceSupersession        = "supersession_declaration"
)

// Confidence assigned to optional requirements. Mandatory ones get 1.0.
const optionalRequirementConfidence = 0.8

// =============================================================================
// Inbound Records
// =============================================================================

// Requirement is one obligation within a framework.
type Requirement struct {
	ID               string   `json:"id" yaml:"id" validate:"required"`
	Title            string   `json:"title" yaml:"title" validate:"required"`
	Description      string   `json:"description" yaml:"description"`
	Mandatory        bool     `json:"mandatory" yaml:"mandatory"`
	Priority         string   `json:"priority,omitempty" yaml:"priority" validate:"omitempty,oneof=Critical High Medium Low critical high medium low"`
	Category         string   `json:"category,omitempty" yaml:"category"`
	Conditions       []string `json:"conditions,omitempty" yaml:"conditions"`
	Exceptions       []string `json:"exceptions,omitempty" yaml:"exceptions"`
	EvidenceRequired []string `json:"evidence_required,omitempty" yaml:"evidence_required"`
}

// NormativeFramework is a regulation, standard or policy as delivered by an
// external catalog.
//
// Dependencies and Supersedes reference other frameworks by ID. References
// to IDs not yet in the graph are skipped during ingestion; re-ingest after
// the referenced framework arrives to resolve them.
type NormativeFramework struct {
	ID             string            `json:"id" yaml:"id" validate:"required"`
	Title          string            `json:"title" yaml:"title" validate:"required"`
	Description    string            `json:"description" yaml:"description"`
	NormativeType  string            `json:"normative_type" yaml:"normative_type"`
	Jurisdiction   string            `json:"jurisdiction" yaml:"jurisdiction"`
	Authority      string            `json:"authority" yaml:"authority"`
	Sector         string            `json:"sector,omitempty" yaml:"sector"`
	EffectiveDate  time.Time         `json:"effective_date" yaml:"effective_date"`
	ExpirationDate *time.Time        `json:"expiration_date,omitempty" yaml:"expiration_date"`
	Version        string            `json:"version" yaml:"version"`
	Status         string            `json:"status" yaml:"status"`
	Tags           []string          `json:"tags,omitempty" yaml:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata"`
	Requirements   []Requirement     `json:"requirements" yaml:"requirements" validate:"dive"`
	Dependencies   []string          `json:"dependencies,omitempty" yaml:"dependencies"`
	Supersedes     []string          `json:"supersedes,omitempty" yaml:"supersedes"`
}

var recordValidate = validator.New()

// Validate checks the record's structural constraints.
//
// Outputs:
//   - error: ValidationError describing the first failing field, or nil.
func (f *NormativeFramework) Validate() error {
	if err := recordValidate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return invalid(fe.Namespace(), fmt.Sprint(fe.Value()), "failed "+fe.Tag())
		}
		return invalid("framework", f.ID, err.Error())
	}
	if f.ExpirationDate != nil && !f.EffectiveDate.IsZero() && !f.ExpirationDate.After(f.EffectiveDate) {
		return invalid("expiration_date", f.ExpirationDate.Format(time.RFC3339), "must be after effective_date")
	}
	seen := make(map[string]bool, len(f.Requirements))
	for _, r := range f.Requirements {
		if seen[r.ID] {
			return invalid("requirements.id", r.ID, "duplicate requirement")
		}
		if r.ID == f.ID {
			return invalid("requirements.id", r.ID, "collides with framework id")
		}
		seen[r.ID] = true
	}
	return nil
}

// Properties returns the node properties of the framework.
func (f *NormativeFramework) Properties() map[string]any {
	props := map[string]any{
		"title":          f.Title,
		"description":    f.Description,
		"authority":      f.Authority,
		"jurisdiction":   f.Jurisdiction,
		"normative_type": f.NormativeType,
		"effective_date": f.EffectiveDate.UTC(),
		"version":        f.Version,
		"status":         f.Status,
	}
	if f.ExpirationDate != nil {
		props["expiration_date"] = f.ExpirationDate.UTC()
	}
	if f.Sector != "" {
		props["sector"] = f.Sector
	}
	if len(f.Tags) > 0 {
		props["tags"] = slices.Clone(f.Tags)
	}
	if len(f.Metadata) > 0 {
		props["metadata"] = f.Metadata
	}
	return props
}

// Properties returns the node properties of the requirement.
func (r *Requirement) Properties(frameworkID string) map[string]any {
	props := map[string]any{
		"title":        r.Title,
		"description":  r.Description,
		"mandatory":    r.Mandatory,
		"priority":     r.Priority,
		"category":     r.Category,
		"framework_id": frameworkID,
	}
	if len(r.Conditions) > 0 {
		props["conditions"] = slices.Clone(r.Conditions)
	}
	if len(r.Exceptions) > 0 {
		props["exceptions"] = slices.Clone(r.Exceptions)
	}
	if len(r.EvidenceRequired) > 0 {
		props["evidence_required"] = slices.Clone(r.EvidenceRequired)
	}
	return props
}

// =============================================================================
// Ingestion
// =============================================================================

// IngestFramework applies a framework in one atomic transaction.
//
// Description:
//
//	Upserts the framework node and one node per requirement, wires a
//	Requires edge framework -> requirement, and wires DependsOn and
//	Supersedes edges to the declared framework IDs that are already
//	present. Unknown IDs are skipped. Edges already wired by an earlier
//	ingestion of the same framework are not duplicated.
//
//	A framework whose version is semver-older than the stored one is
//	rejected with ErrStaleVersion.
//
// Inputs:
//   - ctx: Context for tracing.
//   - f: The framework record. Validated before any mutation.
//
// Outputs:
//   - NodeRef: The framework node.
//   - error: ValidationError, or InternalError if a post-condition fails.
//
// Thread Safety: Safe for concurrent use. Holds the write lock.
func (g *Graph) IngestFramework(ctx context.Context, f *NormativeFramework) (NodeRef, error) {
	ctx, span := tracer.Start(ctx, "Graph.IngestFramework")
	defer span.End()
	span.SetAttributes(
		attribute.String("framework.id", f.ID),
		attribute.Int("framework.requirements", len(f.Requirements)),
	)

	if err := f.Validate(); err != nil {
		return NodeRef{}, err
	}

	var ref NodeRef
	err := g.Update(ctx, func(tx *Txn) error {
		var err error
		ref, err = tx.IngestFramework(f)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInternal) {
			g.logger.Error("framework ingestion violated store invariant",
				slog.String("framework_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
		span.RecordError(err)
		return NodeRef{}, err
	}

	recordFrameworkIngested(ctx, f.Jurisdiction)
	return ref, nil
}

// IngestFramework applies a framework inside an existing transaction.
//
// The caller must have validated f.
func (tx *Txn) IngestFramework(f *NormativeFramework) (NodeRef, error) {
	if err := tx.checkVersion(f); err != nil {
		return NodeRef{}, err
	}
	if tx.reason == "" {
		tx.SetReason("framework ingestion: " + f.ID)
	}

	if _, err := tx.UpsertNode(f.ID, NodeTypeFramework, f.Properties(), WithConfidence(1.0)); err != nil {
		return NodeRef{}, fmt.Errorf("upserting framework %s: %w", f.ID, err)
	}
	fw, ok := tx.Lookup(f.ID)
	if !ok {
		return NodeRef{}, &InternalError{Op: "IngestFramework", Detail: "framework node not found after creation: " + f.ID}
	}

	for i := range f.Requirements {
		req := &f.Requirements[i]
		conf := optionalRequirementConfidence
		if req.Mandatory {
			conf = 1.0
		}
		rref, err := tx.UpsertNode(req.ID, NodeTypeRequirement, req.Properties(f.ID), WithConfidence(conf))
		if err != nil {
			return NodeRef{}, fmt.Errorf("upserting requirement %s: %w", req.ID, err)
		}
		if _, err := tx.wireOnce(fw, rref, KnowledgeEdge{
			Relationship:   RelRequires,
			Weight:         1.0,
			Confidence:     1.0,
			Directionality: Directed,
			SourceEvidence: []string{EvidenceDirectSpecification},
		}); err != nil {
			return NodeRef{}, err
		}
	}

	for _, depID := range f.Dependencies {
		dep, ok := tx.Lookup(depID)
		if !ok || dep == fw {
			continue
		}
		if _, err := tx.wireOnce(fw, dep, KnowledgeEdge{
			Relationship:   RelDependsOn,
			Weight:         1.0,
			Confidence:     0.95,
			Directionality: Directed,
			SourceEvidence: []string{EvidenceFrameworkSpec},
		}); err != nil {
			return NodeRef{}, err
		}
	}

	for _, oldID := range f.Supersedes {
		old, ok := tx.Lookup(oldID)
		if !ok || old == fw {
			continue
		}
		start := f.EffectiveDate.UTC()
		validity := TemporalValidity{Start: &start}
		if f.ExpirationDate != nil {
			end := f.ExpirationDate.UTC()
			validity.End = &end
		}
		if _, err := tx.wireOnce(fw, old, KnowledgeEdge{
			Relationship:   RelSupersedes,
			Weight:         1.0,
			Confidence:     1.0,
			Directionality: Directed,
			Validity:       validity,
			SourceEvidence: []string{EvidenceSupersession},
		}); err != nil {
			return NodeRef{}, err
		}
	}

	return fw, nil
}

// wireOnce adds edge unless an edge with the same type and evidence already
// links from to to. Re-ingestion of a framework therefore converges.
func (tx *Txn) wireOnce(from, to NodeRef, edge KnowledgeEdge) (EdgeRef, error) {
	for _, ev := range tx.EdgesBetween(from, to) {
		if ev.Edge.Relationship == edge.Relationship && slices.Equal(ev.Edge.SourceEvidence, edge.SourceEvidence) {
			if !sameValidity(ev.Edge.Validity, edge.Validity) {
				continue
			}
			return ev.Ref, nil
		}
	}
	return tx.AddEdge(from, to, edge)
}

func sameValidity(a, b TemporalValidity) bool {
	eq := func(x, y *time.Time) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.Equal(*y)
	}
	return eq(a.Start, b.Start) && eq(a.End, b.End)
}

// checkVersion rejects a framework older than the stored version, or one
// whose ID already names a node of another type.
//
// Versions that are not valid semver (after adding a "v" prefix) are not
// compared.
func (tx *Txn) checkVersion(f *NormativeFramework) error {
	_, node, ok := tx.NodeByID(f.ID)
	if !ok {
		return nil
	}
	if node.Type != NodeTypeFramework {
		return invalid("id", f.ID, "already used by a "+node.Type.String()+" node")
	}
	if f.Version == "" {
		return nil
	}
	stored, _ := node.Properties.String("version")
	prev, next := canonicalVersion(stored), canonicalVersion(f.Version)
	if prev == "" || next == "" {
		return nil
	}
	if semver.Compare(next, prev) < 0 {
		return &ValidationError{
			Field:  "version",
			Value:  f.Version,
			Reason: "older than stored version " + stored,
			Err:    ErrStaleVersion,
		}
	}
	return nil
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
