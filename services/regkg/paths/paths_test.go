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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGraph struct {
	t *testing.T
	g *graph.Graph
}

func newTestGraph(t *testing.T, ids ...string) *testGraph {
	tg := &testGraph{t: t, g: graph.NewGraph(nil)}
	for _, id := range ids {
		tg.node(id, graph.NodeTypeConcept, map[string]any{"title": id})
	}
	return tg
}

func (tg *testGraph) node(id string, typ graph.NodeType, props map[string]any) *testGraph {
	tg.t.Helper()
	_, err := tg.g.UpsertNode(context.Background(), id, typ, props)
	require.NoError(tg.t, err)
	return tg
}

func (tg *testGraph) link(from, to string, rel graph.RelationshipType, w, c float64, dir graph.Directionality) *testGraph {
	tg.t.Helper()
	_, err := tg.g.AddEdge(context.Background(), from, to, graph.KnowledgeEdge{
		Relationship: rel, Weight: w, Confidence: c, Directionality: dir,
	})
	require.NoError(tg.t, err)
	return tg
}

func (tg *testGraph) edge(from, to string, rel graph.RelationshipType) *testGraph {
	return tg.link(from, to, rel, 1, 1, graph.Directed)
}

func TestFindRegulatoryPath_ThreeNodeChain(t *testing.T) {
	tg := newTestGraph(t, "a", "b", "c").
		link("a", "b", graph.RelRequires, 0.8, 0.9, graph.Directed).
		link("b", "c", graph.RelImplements, 0.5, 1.0, graph.Directed)

	paths, err := NewFinder(tg.g).FindRegulatoryPath(context.Background(), "a", "c")
	require.NoError(t, err)
	require.Len(t, paths, 1)

	p := paths[0]
	assert.Equal(t, []string{"a", "b", "c"}, p.Nodes)
	assert.Equal(t, []graph.RelationshipType{graph.RelRequires, graph.RelImplements}, p.Relationships)
	assert.InDelta(t, 0.8*0.9*0.5*1.0, p.PathStrength, 1e-12)
	assert.Equal(t, []string{
		"Mandatory requirements apply along this chain",
		"A provision is implemented by a more specific measure",
	}, p.RegulatoryImplications)
	assert.NotEmpty(t, p.PathID)
}

func TestFindRegulatoryPath_CycleTerminatesWithoutRepeats(t *testing.T) {
	tg := newTestGraph(t, "a", "b", "c", "d").
		edge("a", "b", graph.RelDependsOn).
		edge("b", "a", graph.RelDependsOn).
		edge("b", "c", graph.RelDependsOn).
		edge("c", "a", graph.RelDependsOn).
		edge("c", "b", graph.RelDependsOn).
		edge("a", "c", graph.RelDependsOn).
		edge("c", "d", graph.RelDependsOn)

	paths, err := NewFinder(tg.g).FindRegulatoryPath(context.Background(), "a", "d")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		seen := map[string]bool{}
		for _, id := range p.Nodes {
			assert.False(t, seen[id], "repeated node %s in %v", id, p.Nodes)
			seen[id] = true
		}
		assert.LessOrEqual(t, len(p.Relationships), MaxPathDepth)
	}
	// Equal strength, so the shorter path sorts first.
	assert.Equal(t, []string{"a", "c", "d"}, paths[0].Nodes)
	assert.Equal(t, []string{"a", "b", "c", "d"}, paths[1].Nodes)
}

func TestFindRegulatoryPath_SortedByStrength(t *testing.T) {
	tg := newTestGraph(t, "a", "b", "c").
		link("a", "c", graph.RelReferences, 0.2, 1, graph.Directed).
		link("a", "b", graph.RelReferences, 1, 1, graph.Directed).
		link("b", "c", graph.RelReferences, 0.9, 1, graph.Directed)

	paths, err := NewFinder(tg.g).FindRegulatoryPath(context.Background(), "a", "c")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.InDelta(t, 0.9, paths[0].PathStrength, 1e-12)
	assert.InDelta(t, 0.2, paths[1].PathStrength, 1e-12)
}

func TestFindRegulatoryPath_FollowsUndirectedEdgesBackwards(t *testing.T) {
	tg := newTestGraph(t, "a", "b", "c").
		edge("a", "b", graph.RelApplies).
		link("c", "b", graph.RelHarmonizes, 1, 1, graph.Undirected)

	f := NewFinder(tg.g)
	paths, err := f.FindRegulatoryPath(context.Background(), "a", "c")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"a", "b", "c"}, paths[0].Nodes)

	back, err := f.FindRegulatoryPath(context.Background(), "c", "a")
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestFindRegulatoryPath_ParallelEdgesAreDistinctPaths(t *testing.T) {
	tg := newTestGraph(t, "a", "b").
		edge("a", "b", graph.RelRequires).
		edge("a", "b", graph.RelReferences)

	paths, err := NewFinder(tg.g).FindRegulatoryPath(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestFindRegulatoryPath_MaxPaths(t *testing.T) {
	tg := newTestGraph(t, "a", "b").
		edge("a", "b", graph.RelRequires).
		edge("a", "b", graph.RelReferences).
		edge("a", "b", graph.RelSupports)

	paths, err := NewFinder(tg.g, WithMaxPaths(2)).FindRegulatoryPath(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestFindRegulatoryPath_DepthBound(t *testing.T) {
	ids := []string{"n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7"}
	tg := newTestGraph(t, ids...)
	for i := 0; i+1 < len(ids); i++ {
		tg.edge(ids[i], ids[i+1], graph.RelDerives)
	}
	f := NewFinder(tg.g)

	six, err := f.FindRegulatoryPath(context.Background(), "n0", "n6")
	require.NoError(t, err)
	assert.Len(t, six, 1)

	seven, err := f.FindRegulatoryPath(context.Background(), "n0", "n7")
	require.NoError(t, err)
	assert.Empty(t, seven)
}

func TestFindRegulatoryPath_Errors(t *testing.T) {
	tg := newTestGraph(t, "a")
	f := NewFinder(tg.g)

	_, err := f.FindRegulatoryPath(context.Background(), "a", "ghost")
	assert.ErrorIs(t, err, graph.ErrValidation)
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	_, err = f.FindRegulatoryPath(context.Background(), "ghost", "a")
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	same, err := f.FindRegulatoryPath(context.Background(), "a", "a")
	require.NoError(t, err)
	assert.NotNil(t, same)
	assert.Empty(t, same)
}

// =============================================================================
// Compliance
// =============================================================================

func complianceGraph(t *testing.T) *testGraph {
	return newTestGraph(t).
		node("acme", graph.NodeTypeEntity, map[string]any{"title": "Acme Bank"}).
		node("fw", graph.NodeTypeFramework, map[string]any{"title": "Data Protection Act"}).
		node("r1", graph.NodeTypeRequirement, map[string]any{"title": "Breach notification", "mandatory": true}).
		node("r2", graph.NodeTypeRequirement, map[string]any{"title": "Privacy notice", "mandatory": true}).
		node("r3", graph.NodeTypeRequirement, map[string]any{"title": "Annual training", "mandatory": false}).
		edge("fw", "r1", graph.RelRequires).
		edge("fw", "r2", graph.RelRequires).
		edge("fw", "r3", graph.RelRequires).
		edge("fw", "acme", graph.RelApplies).
		edge("acme", "fw", graph.RelApplies).
		edge("acme", "r1", graph.RelImplements)
}

func TestAnalyzeCompliancePath(t *testing.T) {
	tg := complianceGraph(t)

	cp, err := NewFinder(tg.g).AnalyzeCompliancePath(context.Background(), "acme", []string{"fw", "unknown-fw"})
	require.NoError(t, err)

	assert.Equal(t, "acme", cp.EntityID)
	assert.Equal(t, []string{"fw", "unknown-fw"}, cp.TargetFrameworks)
	assert.Empty(t, cp.RequiredSteps)
	assert.Equal(t, []string{"r2", "r3"}, cp.MissingSteps)
	assert.Equal(t, DefaultEstimateDays, cp.EstimatedCompletionTime)

	require.Len(t, cp.Segments, 1)
	assert.False(t, cp.Segments[0].IsComplete)
	assert.Equal(t, []string{"r1", "r2", "r3"}, cp.Segments[0].RequiredSteps)

	assert.Equal(t, []string{
		"Mandatory requirement r2 (Privacy notice) of Data Protection Act is not addressed",
		"Framework unknown-fw is not present in the knowledge graph",
	}, cp.RiskFactors)
}

func TestAnalyzeCompliancePath_Complete(t *testing.T) {
	tg := complianceGraph(t).
		edge("acme", "r2", graph.RelImplements).
		edge("acme", "r3", graph.RelValidates)

	cp, err := NewFinder(tg.g).AnalyzeCompliancePath(context.Background(), "acme", []string{"fw"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, cp.RequiredSteps)
	assert.Empty(t, cp.MissingSteps)
	assert.Empty(t, cp.RiskFactors)
	assert.True(t, cp.Segments[0].IsComplete)
}

func TestAnalyzeCompliancePath_UnreachableFramework(t *testing.T) {
	tg := newTestGraph(t).
		node("acme", graph.NodeTypeEntity, nil).
		node("fw", graph.NodeTypeFramework, map[string]any{"title": "Act"}).
		node("r1", graph.NodeTypeRequirement, map[string]any{"mandatory": true}).
		node("r2", graph.NodeTypeRequirement, nil).
		edge("fw", "r1", graph.RelRequires).
		edge("fw", "r2", graph.RelRequires)

	cp, err := NewFinder(tg.g).AnalyzeCompliancePath(context.Background(), "acme", []string{"fw"})
	require.NoError(t, err)
	assert.Empty(t, cp.Segments)
	assert.Empty(t, cp.RequiredSteps)
	assert.Empty(t, cp.MissingSteps)
	assert.Equal(t, []string{"No relationship links acme to framework fw"}, cp.RiskFactors)
}

type perStepCost struct{}

func (perStepCost) EstimateDays(_, missing []string) int { return 10 * len(missing) }

func TestAnalyzeCompliancePath_CostModel(t *testing.T) {
	tg := complianceGraph(t)
	cp, err := NewFinder(tg.g, WithCostModel(perStepCost{})).AnalyzeCompliancePath(context.Background(), "acme", []string{"fw"})
	require.NoError(t, err)
	assert.Equal(t, 20, cp.EstimatedCompletionTime)
}

func TestAnalyzeCompliancePath_UnknownEntity(t *testing.T) {
	tg := complianceGraph(t)
	_, err := NewFinder(tg.g).AnalyzeCompliancePath(context.Background(), "nobody", []string{"fw"})
	assert.ErrorIs(t, err, graph.ErrValidation)
}

// =============================================================================
// Gaps
// =============================================================================

func ingest(t *testing.T, g *graph.Graph, f *graph.NormativeFramework) {
	t.Helper()
	_, err := g.IngestFramework(context.Background(), f)
	require.NoError(t, err)
}

func TestDetectRegulatoryGaps(t *testing.T) {
	ctx := context.Background()
	g := graph.NewGraph(nil)

	ingest(t, g, &graph.NormativeFramework{
		ID: "eu-dpa", Title: "Data Protection Act", Description: "personal data processing",
		Jurisdiction: "EU", Sector: "privacy", EffectiveDate: time.Date(2018, 5, 25, 0, 0, 0, 0, time.UTC),
		Requirements: []graph.Requirement{
			{ID: "eu-dpa-r1", Title: "Breach notification", Mandatory: true},
			{ID: "eu-dpa-r2", Title: "Privacy notice"},
		},
	})
	exp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ingest(t, g, &graph.NormativeFramework{
		ID: "eu-old", Title: "Legacy Telecom Directive", Jurisdiction: "eu",
		EffectiveDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), ExpirationDate: &exp,
	})
	ingest(t, g, &graph.NormativeFramework{
		ID: "hipaa", Title: "Health Insurance Portability", Description: "medical records",
		Jurisdiction: "US", Tags: []string{"Healthcare"}, EffectiveDate: time.Date(1996, 8, 21, 0, 0, 0, 0, time.UTC),
		Requirements: []graph.Requirement{{ID: "hipaa-r1", Title: "Safeguard health information", Mandatory: true}},
	})
	_, err := g.UpsertNode(ctx, "edpb", graph.NodeTypeAuthority, map[string]any{"title": "European Data Protection Board"})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, "edpb", "eu-dpa", graph.KnowledgeEdge{Relationship: graph.RelEnforces, Weight: 1, Confidence: 1})
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	gaps, err := NewFinder(g, WithClock(clock)).DetectRegulatoryGaps(ctx, "EU", "healthcare")
	require.NoError(t, err)

	type key struct {
		typ GapType
		fw  string
	}
	var got []key
	for _, gap := range gaps {
		got = append(got, key{gap.GapType, gap.AffectedFramework})
	}
	assert.Equal(t, []key{
		{GapCompliance, "eu-dpa"},
		{GapJurisdictionalCoverage, "hipaa"},
		{GapEnforcement, "eu-old"},
		{GapRequirement, "eu-old"},
		{GapTemporal, "eu-old"},
	}, got)

	assert.InDelta(t, 1.0, gaps[0].Severity, 1e-12)
	assert.Equal(t, "Sector framework hipaa not covered in jurisdiction EU", gaps[1].Description)
	assert.Equal(t, "Implement jurisdiction-specific compliance framework", gaps[1].RecommendedAction)
	assert.InDelta(t, 1.0, gaps[1].Severity, 1e-12)
	assert.InDelta(t, 0.7, gaps[2].Severity, 1e-12)
}

func TestDetectRegulatoryGaps_LinkedFrameworkCoversSector(t *testing.T) {
	ctx := context.Background()
	g := graph.NewGraph(nil)
	ingest(t, g, &graph.NormativeFramework{ID: "local", Title: "Local Health Code", Jurisdiction: "CA", EffectiveDate: time.Now()})
	ingest(t, g, &graph.NormativeFramework{ID: "intl", Title: "International Medical Standard", Sector: "health", EffectiveDate: time.Now()})
	_, err := g.AddEdge(ctx, "local", "intl", graph.KnowledgeEdge{Relationship: graph.RelImplements, Weight: 1, Confidence: 1})
	require.NoError(t, err)

	gaps, err := NewFinder(g).DetectRegulatoryGaps(ctx, "CA", "health")
	require.NoError(t, err)
	for _, gap := range gaps {
		assert.NotEqual(t, GapJurisdictionalCoverage, gap.GapType)
	}
}

func TestDetectRegulatoryGaps_SupersededExpiredFramework(t *testing.T) {
	ctx := context.Background()
	g := graph.NewGraph(nil)
	exp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ingest(t, g, &graph.NormativeFramework{
		ID: "old", Title: "Old Rules", Jurisdiction: "UK",
		EffectiveDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), ExpirationDate: &exp,
	})
	ingest(t, g, &graph.NormativeFramework{
		ID: "new", Title: "New Rules", Jurisdiction: "UK",
		EffectiveDate: exp, Supersedes: []string{"old"},
	})

	gaps, err := NewFinder(g).DetectRegulatoryGaps(ctx, "UK", "")
	require.NoError(t, err)
	for _, gap := range gaps {
		assert.NotEqual(t, GapTemporal, gap.GapType)
		assert.NotEqual(t, GapJurisdictionalCoverage, gap.GapType)
	}
}

func TestDetectRegulatoryGaps_EmptyJurisdiction(t *testing.T) {
	_, err := NewFinder(graph.NewGraph(nil)).DetectRegulatoryGaps(context.Background(), " ", "health")
	assert.ErrorIs(t, err, graph.ErrValidation)
}
