// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"slices"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
)

// ContextRadius is the hop radius of a context neighbourhood.
const ContextRadius = 2

// RegulatoryContext summarizes the neighbourhood of an entity.
type RegulatoryContext struct {
	EntityID string         `json:"entity_id"`
	NodeType graph.NodeType `json:"node_type"`

	// RelationshipCounts counts edges incident to the entity by type.
	RelationshipCounts map[string]int `json:"relationship_counts"`

	// RelatedFrameworks and Jurisdictions are drawn from nodes within
	// ContextRadius hops, ignoring direction. Sorted.
	RelatedFrameworks     []string `json:"related_frameworks"`
	Jurisdictions         []string `json:"jurisdictions"`
	MandatoryRequirements int      `json:"mandatory_requirements"`
}

// ContextAnalyzer describes the regulatory surroundings of an entity.
type ContextAnalyzer interface {
	AnalyzeContext(ctx context.Context, entityID string) (RegulatoryContext, error)
}

// GraphContextAnalyzer reads contexts from a graph.
type GraphContextAnalyzer struct {
	g *graph.Graph
}

// NewGraphContextAnalyzer creates an analyzer over g.
func NewGraphContextAnalyzer(g *graph.Graph) *GraphContextAnalyzer {
	return &GraphContextAnalyzer{g: g}
}

// AnalyzeContext returns the context of entityID.
//
// Outputs:
//   - RegulatoryContext: The summary.
//   - error: ValidationError if entityID is unknown.
func (a *GraphContextAnalyzer) AnalyzeContext(ctx context.Context, entityID string) (RegulatoryContext, error) {
	_, span := tracer.Start(ctx, "GraphContextAnalyzer.AnalyzeContext")
	defer span.End()

	var out RegulatoryContext
	err := a.g.View(ctx, func(r graph.Reader) error {
		ref, n, ok := r.NodeByID(entityID)
		if !ok {
			return graph.NotFound(entityID)
		}
		out = RegulatoryContext{
			EntityID:           n.ID,
			NodeType:           n.Type,
			RelationshipCounts: map[string]int{},
			RelatedFrameworks:  []string{},
			Jurisdictions:      []string{},
		}
		for _, ev := range r.OutEdges(ref) {
			out.RelationshipCounts[ev.Edge.Relationship.String()]++
		}
		for _, ev := range r.InEdges(ref) {
			if ev.From != ref {
				out.RelationshipCounts[ev.Edge.Relationship.String()]++
			}
		}

		seen := map[graph.NodeRef]bool{ref: true}
		frontier := []graph.NodeRef{ref}
		for hop := 0; hop < ContextRadius; hop++ {
			var next []graph.NodeRef
			for _, cur := range frontier {
				for _, nb := range r.Adjacent(cur) {
					if seen[nb] {
						continue
					}
					seen[nb] = true
					next = append(next, nb)
					a.collect(r, nb, &out)
				}
			}
			frontier = next
		}
		if j, ok := n.Properties.String("jurisdiction"); ok && j != "" && !slices.Contains(out.Jurisdictions, j) {
			out.Jurisdictions = append(out.Jurisdictions, j)
		}
		slices.Sort(out.RelatedFrameworks)
		slices.Sort(out.Jurisdictions)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return RegulatoryContext{}, err
	}
	return out, nil
}

func (a *GraphContextAnalyzer) collect(r graph.Reader, ref graph.NodeRef, out *RegulatoryContext) {
	n, _ := r.Node(ref)
	switch n.Type {
	case graph.NodeTypeFramework:
		out.RelatedFrameworks = append(out.RelatedFrameworks, n.ID)
	case graph.NodeTypeRequirement:
		if n.Mandatory() {
			out.MandatoryRequirements++
		}
	}
	if j, ok := n.Properties.String("jurisdiction"); ok && j != "" && !slices.Contains(out.Jurisdictions, j) {
		out.Jurisdictions = append(out.Jurisdictions, j)
	}
}

// UnimplementedContextAnalyzer always returns graph.ErrNotImplemented.
type UnimplementedContextAnalyzer struct{}

// AnalyzeContext implements ContextAnalyzer.
func (UnimplementedContextAnalyzer) AnalyzeContext(context.Context, string) (RegulatoryContext, error) {
	return RegulatoryContext{}, graph.ErrNotImplemented
}

var (
	_ ContextAnalyzer = (*GraphContextAnalyzer)(nil)
	_ ContextAnalyzer = UnimplementedContextAnalyzer{}
)
