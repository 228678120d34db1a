// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package centrality

import (
	"context"
	"fmt"
	"testing"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edge(dir graph.Directionality) graph.KnowledgeEdge {
	return graph.KnowledgeEdge{Relationship: graph.RelReferences, Weight: 1, Confidence: 1, Directionality: dir}
}

func buildGraph(t *testing.T, nodes []string, edges [][2]string, dir graph.Directionality) *graph.Graph {
	t.Helper()
	ctx := context.Background()
	g := graph.NewGraph(nil)
	for _, id := range nodes {
		_, err := g.UpsertNode(ctx, id, graph.NodeTypeConcept, map[string]any{"title": id})
		require.NoError(t, err)
	}
	for _, e := range edges {
		_, err := g.AddEdge(ctx, e[0], e[1], edge(dir))
		require.NoError(t, err)
	}
	return g
}

// starGraph links hub to four leaves with a directed edge each way.
func starGraph(t *testing.T) *graph.Graph {
	var edges [][2]string
	for _, leaf := range []string{"l1", "l2", "l3", "l4"} {
		edges = append(edges, [2]string{"hub", leaf}, [2]string{leaf, "hub"})
	}
	return buildGraph(t, []string{"hub", "l1", "l2", "l3", "l4"}, edges, graph.Directed)
}

func assertUnitRange(t *testing.T, id string, c graph.Centrality) {
	t.Helper()
	for name, v := range map[string]float64{
		"degree":      c.Degree,
		"betweenness": c.Betweenness,
		"closeness":   c.Closeness,
		"eigenvector": c.Eigenvector,
		"pagerank":    c.PageRank,
	} {
		assert.GreaterOrEqual(t, v, 0.0, "%s %s", id, name)
		assert.LessOrEqual(t, v, 1.0, "%s %s", id, name)
	}
}

func TestUpdate_StarGraph(t *testing.T) {
	ctx := context.Background()
	g := starGraph(t)
	a := NewAnalyzer(g, WithWorkers(3))

	res, err := a.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.NodeCount)

	hub, _ := g.GetNode("hub")
	assert.InDelta(t, 1.0, hub.Centrality.Degree, 1e-12)
	assert.InDelta(t, 1.0, hub.Centrality.Betweenness, 1e-12)
	assert.InDelta(t, 1.0, hub.Centrality.Closeness, 1e-12)

	for _, id := range []string{"l1", "l2", "l3", "l4"} {
		leaf, _ := g.GetNode(id)
		assert.Greater(t, hub.Centrality.PageRank, leaf.Centrality.PageRank, id)
		assert.InDelta(t, 0.25, leaf.Centrality.Degree, 1e-12)
		assert.Zero(t, leaf.Centrality.Betweenness)
		assert.InDelta(t, 4.0/7.0, leaf.Centrality.Closeness, 1e-12)
		assert.InDelta(t, 1.0, leaf.Centrality.Eigenvector, 1e-12)
	}
	assert.InDelta(t, 0.25, hub.Centrality.Eigenvector, 1e-12)
}

func TestUpdate_UndirectedMatchesBothWays(t *testing.T) {
	ctx := context.Background()
	g := buildGraph(t, []string{"hub", "l1", "l2", "l3"},
		[][2]string{{"hub", "l1"}, {"hub", "l2"}, {"l3", "hub"}}, graph.Undirected)

	_, err := NewAnalyzer(g).Update(ctx)
	require.NoError(t, err)

	hub, _ := g.GetNode("hub")
	l3, _ := g.GetNode("l3")
	assert.InDelta(t, 1.0, hub.Centrality.Betweenness, 1e-12)
	assert.InDelta(t, 1.0/3.0, l3.Centrality.Degree, 1e-12)
	assert.Greater(t, hub.Centrality.PageRank, l3.Centrality.PageRank)
}

func TestUpdate_DirectedPath(t *testing.T) {
	ctx := context.Background()
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}}, graph.Directed)

	_, err := NewAnalyzer(g).Update(ctx)
	require.NoError(t, err)

	a, _ := g.GetNode("a")
	b, _ := g.GetNode("b")
	c, _ := g.GetNode("c")
	// One pair (a, c) routes through b, over (V-1)(V-2)/2 = 1.
	assert.InDelta(t, 1.0, b.Centrality.Betweenness, 1e-12)
	assert.Zero(t, a.Centrality.Betweenness)
	assert.Zero(t, c.Centrality.Betweenness)
	assert.InDelta(t, 2.0/3.0, a.Centrality.Closeness, 1e-12)
	assert.InDelta(t, 1.0, b.Centrality.Closeness, 1e-12)
	assert.Zero(t, c.Centrality.Closeness)
	assert.Zero(t, c.Centrality.Degree)
	assert.Greater(t, c.Centrality.PageRank, a.Centrality.PageRank)
}

func TestUpdate_AllMeasuresInUnitRange(t *testing.T) {
	ctx := context.Background()
	nodes := make([]string, 12)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("n%02d", i)
	}
	var edges [][2]string
	for i := range nodes {
		edges = append(edges, [2]string{nodes[i], nodes[(i*5+3)%len(nodes)]})
		edges = append(edges, [2]string{nodes[i], nodes[(i+1)%len(nodes)]})
	}
	edges = append(edges, [2]string{"n00", "n00"}, [2]string{"n01", "n02"}, [2]string{"n01", "n02"})
	g := buildGraph(t, append(nodes, "isolated"), edges, graph.Directed)
	_, err := g.AddEdge(ctx, "n03", "n07", edge(graph.Bidirectional))
	require.NoError(t, err)

	_, err = NewAnalyzer(g, WithWorkers(4)).Update(ctx)
	require.NoError(t, err)

	_ = g.View(ctx, func(r graph.Reader) error {
		for _, n := range r.Nodes() {
			assertUnitRange(t, n.ID, n.Centrality)
		}
		return nil
	})

	iso, _ := g.GetNode("isolated")
	assert.Zero(t, iso.Centrality.Degree)
	assert.Zero(t, iso.Centrality.Closeness)
	assert.Zero(t, iso.Centrality.Eigenvector)
	assert.Greater(t, iso.Centrality.PageRank, 0.0)
}

func TestUpdate_PageRankSumsToOne(t *testing.T) {
	ctx := context.Background()
	g := buildGraph(t, []string{"a", "b", "c", "d"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"a", "d"}}, graph.Directed)

	_, err := NewAnalyzer(g).Update(ctx)
	require.NoError(t, err)

	sum := 0.0
	for _, id := range []string{"a", "b", "c", "d"} {
		n, _ := g.GetNode(id)
		sum += n.Centrality.PageRank
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestUpdate_EmptyAndSingleNode(t *testing.T) {
	ctx := context.Background()

	res, err := NewAnalyzer(graph.NewGraph(nil)).Update(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.NodeCount)

	g := buildGraph(t, []string{"only"}, nil, graph.Directed)
	_, err = NewAnalyzer(g).Update(ctx)
	require.NoError(t, err)
	n, _ := g.GetNode("only")
	assert.Zero(t, n.Centrality.Degree)
	assert.Zero(t, n.Centrality.Betweenness)
	assert.Zero(t, n.Centrality.Closeness)
	assert.InDelta(t, 1.0, n.Centrality.PageRank, 1e-12)
}

func TestUpdate_CancelledKeepsPreviousScores(t *testing.T) {
	g := starGraph(t)
	a := NewAnalyzer(g)
	_, err := a.Update(context.Background())
	require.NoError(t, err)
	before, _ := g.GetNode("hub")
	rev := g.Revision()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Update(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	after, _ := g.GetNode("hub")
	assert.Equal(t, before.Centrality, after.Centrality)
	assert.Equal(t, rev, g.Revision())
}

func TestTopK(t *testing.T) {
	ctx := context.Background()
	g := starGraph(t)
	a := NewAnalyzer(g)
	_, err := a.Update(ctx)
	require.NoError(t, err)

	top, err := a.TopK(ctx, MeasurePageRank, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "hub", top[0].EntityID)
	assert.Equal(t, "l1", top[1].EntityID)

	all, err := a.TopK(ctx, MeasureBetweenness, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestCompute_DoesNotStore(t *testing.T) {
	ctx := context.Background()
	g := starGraph(t)
	rev := g.Revision()

	var scores map[string]graph.Centrality
	err := g.View(ctx, func(r graph.Reader) error {
		var err error
		scores, err = Compute(ctx, r, 2)
		return err
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores["hub"].Betweenness, 1e-12)

	hub, _ := g.GetNode("hub")
	assert.Zero(t, hub.Centrality.Betweenness)
	assert.Equal(t, rev, g.Revision())
}

func TestParseMeasure(t *testing.T) {
	m, err := ParseMeasure(" PageRank ")
	require.NoError(t, err)
	assert.Equal(t, MeasurePageRank, m)
	assert.Equal(t, "pagerank", m.String())

	_, err = ParseMeasure("katz")
	assert.ErrorIs(t, err, graph.ErrValidation)
}
