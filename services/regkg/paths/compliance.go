// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package paths

import (
	"context"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultEstimateDays is the flat completion estimate of FixedCostModel.
const DefaultEstimateDays = 90

// CostModel estimates how long an entity needs to close its compliance
// gaps.
type CostModel interface {
	// EstimateDays returns the estimated days to completion given the
	// required and still-missing requirement IDs.
	EstimateDays(required, missing []string) int
}

// FixedCostModel returns the same estimate regardless of the work left.
type FixedCostModel struct {
	Days int
}

// EstimateDays implements CostModel.
func (m FixedCostModel) EstimateDays(_, _ []string) int {
	return m.Days
}

// ComplianceSegment is the compliance state against one framework the
// entity reaches.
type ComplianceSegment struct {
	FrameworkID   string   `json:"framework_id"`
	IsComplete    bool     `json:"is_complete"`
	RequiredSteps []string `json:"required_steps"`
	MissingSteps  []string `json:"missing_steps"`
}

// CompliancePath summarises what an entity must still do to comply with
// a set of frameworks.
type CompliancePath struct {
	EntityID         string   `json:"entity_id"`
	TargetFrameworks []string `json:"target_frameworks"`
	RequiredSteps    []string `json:"required_steps"`
	MissingSteps     []string `json:"missing_steps"`

	// EstimatedCompletionTime is in days.
	EstimatedCompletionTime int                 `json:"estimated_completion_time"`
	RiskFactors             []string            `json:"risk_factors"`
	Segments                []ComplianceSegment `json:"segments"`
}

// AnalyzeCompliancePath classifies an entity's compliance with each target
// framework.
//
// Description:
//
//	A framework's requirements are the targets of its Requires and
//	Mandates edges. A requirement counts as addressed when the entity
//	reaches it within MaxPathDepth hops without passing through the
//	framework itself, so being subject to a framework is not mistaken
//	for satisfying it. Only frameworks the entity reaches get a segment.
//	A segment is complete when no requirement is missing; a complete
//	segment contributes its requirements to RequiredSteps and an
//	incomplete one contributes its gaps to MissingSteps. Unreachable
//	frameworks and IDs absent from the graph are reported as risk
//	factors.
//
// Inputs:
//   - ctx: Context for tracing.
//   - entityID: The entity being assessed.
//   - frameworkIDs: Target frameworks.
//
// Outputs:
//   - CompliancePath: Required and missing steps across all frameworks,
//     a completion estimate from the cost model, and risk factors.
//   - error: ValidationError if entityID is unknown.
func (f *Finder) AnalyzeCompliancePath(ctx context.Context, entityID string, frameworkIDs []string) (CompliancePath, error) {
	ctx, span := tracer.Start(ctx, "Finder.AnalyzeCompliancePath")
	defer span.End()

	cp := CompliancePath{
		EntityID:         entityID,
		TargetFrameworks: slices.Clone(frameworkIDs),
		RequiredSteps:    []string{},
		MissingSteps:     []string{},
		RiskFactors:      []string{},
		Segments:         []ComplianceSegment{},
	}
	err := f.g.View(ctx, func(r graph.Reader) error {
		entity, ok := r.Lookup(entityID)
		if !ok {
			return graph.NotFound(entityID)
		}
		for _, fwID := range frameworkIDs {
			fw, ok := r.Lookup(fwID)
			if !ok {
				cp.RiskFactors = append(cp.RiskFactors, fmt.Sprintf("Framework %s is not present in the knowledge graph", fwID))
				continue
			}
			if entity != fw && !reachable(r, entity, graph.NodeRef{})[fw] {
				cp.RiskFactors = append(cp.RiskFactors, fmt.Sprintf("No relationship links %s to framework %s", entityID, fwID))
				continue
			}
			seg, risks := segment(r, entity, fw, fwID)
			cp.Segments = append(cp.Segments, seg)
			if seg.IsComplete {
				cp.RequiredSteps = appendUnique(cp.RequiredSteps, seg.RequiredSteps...)
			} else {
				cp.MissingSteps = appendUnique(cp.MissingSteps, seg.MissingSteps...)
			}
			cp.RiskFactors = append(cp.RiskFactors, risks...)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return CompliancePath{}, err
	}

	cp.EstimatedCompletionTime = f.cost.EstimateDays(cp.RequiredSteps, cp.MissingSteps)
	span.SetAttributes(
		attribute.Int("compliance.required", len(cp.RequiredSteps)),
		attribute.Int("compliance.missing", len(cp.MissingSteps)),
	)
	return cp, nil
}

func segment(r graph.Reader, entity, fw graph.NodeRef, fwID string) (ComplianceSegment, []string) {
	seg := ComplianceSegment{
		FrameworkID:   fwID,
		RequiredSteps: []string{},
		MissingSteps:  []string{},
	}
	covered := reachable(r, entity, fw)

	var risks []string
	fwNode, _ := r.Node(fw)
	for _, req := range requirementsOf(r, fw) {
		n, _ := r.Node(req)
		seg.RequiredSteps = append(seg.RequiredSteps, n.ID)
		if covered[req] {
			continue
		}
		seg.MissingSteps = append(seg.MissingSteps, n.ID)
		if n.Mandatory() {
			risks = append(risks, fmt.Sprintf("Mandatory requirement %s (%s) of %s is not addressed", n.ID, n.Title(), fwNode.Title()))
		}
	}
	seg.IsComplete = len(seg.MissingSteps) == 0
	return seg, risks
}

// requirementsOf returns the distinct Requires and Mandates targets of fw.
func requirementsOf(r graph.Reader, fw graph.NodeRef) []graph.NodeRef {
	var out []graph.NodeRef
	for _, ev := range r.OutEdges(fw) {
		rel := ev.Edge.Relationship
		if (rel == graph.RelRequires || rel == graph.RelMandates) && ev.To != fw && !slices.Contains(out, ev.To) {
			out = append(out, ev.To)
		}
	}
	return out
}

// reachable returns the nodes reachable from start within MaxPathDepth
// hops, never entering avoid. A zero avoid blocks nothing.
func reachable(r graph.Reader, start, avoid graph.NodeRef) map[graph.NodeRef]bool {
	seen := map[graph.NodeRef]bool{start: true}
	frontier := []graph.NodeRef{start}
	for depth := 0; depth < MaxPathDepth && len(frontier) > 0; depth++ {
		var next []graph.NodeRef
		for _, at := range frontier {
			for _, a := range r.Arcs(at) {
				if seen[a.To] || (!avoid.IsZero() && a.To == avoid) {
					continue
				}
				seen[a.To] = true
				next = append(next, a.To)
			}
		}
		frontier = next
	}
	return seen
}

func appendUnique(dst []string, items ...string) []string {
	for _, s := range items {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
