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

import "context"

// GraphStats summarizes the shape of the graph.
type GraphStats struct {
	NodeCount           int            `json:"node_count"`
	EdgeCount           int            `json:"edge_count"`
	NodesByType         map[string]int `json:"nodes_by_type"`
	EdgesByRelationship map[string]int `json:"edges_by_relationship"`

	// Density is E / (V * (V-1)) for the directed multigraph. Parallel
	// edges can push it above 1.
	Density float64 `json:"density"`

	// AverageDegree is 2E / V counting both endpoints.
	AverageDegree float64 `json:"average_degree"`

	// Components is the number of weakly connected components.
	Components int `json:"components"`

	Revision uint64 `json:"revision"`
}

// Stats computes GraphStats under the read lock.
func (g *Graph) Stats(ctx context.Context) GraphStats {
	var s GraphStats
	_ = g.View(ctx, func(r Reader) error {
		s = r.Stats()
		return nil
	})
	return s
}

// Stats computes GraphStats for the state visible to r.
func (r Reader) Stats() GraphStats {
	s := GraphStats{
		NodeCount:           r.NodeCount(),
		EdgeCount:           r.EdgeCount(),
		NodesByType:         make(map[string]int),
		EdgesByRelationship: make(map[string]int),
		Revision:            r.Revision(),
	}
	for _, n := range r.Nodes() {
		s.NodesByType[n.Type.String()]++
	}
	for ev := range r.Edges() {
		s.EdgesByRelationship[ev.Edge.Relationship.String()]++
	}

	v := float64(s.NodeCount)
	if s.NodeCount > 1 {
		s.Density = float64(s.EdgeCount) / (v * (v - 1))
	}
	if s.NodeCount > 0 {
		s.AverageDegree = 2 * float64(s.EdgeCount) / v
	}
	s.Components = r.weakComponents()
	return s
}

// weakComponents counts weakly connected components with union-find.
func (r Reader) weakComponents() int {
	parent := make(map[uint32]uint32, r.NodeCount())
	find := func(x uint32) uint32 {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for ref := range r.Nodes() {
		parent[ref.Index] = ref.Index
	}
	components := len(parent)
	for ev := range r.Edges() {
		a, b := find(ev.From.Index), find(ev.To.Index)
		if a != b {
			parent[a] = b
			components--
		}
	}
	return components
}
