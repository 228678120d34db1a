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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGraph struct {
	t *testing.T
	g *graph.Graph
}

func newTestGraph(t *testing.T) *testGraph {
	return &testGraph{t: t, g: graph.NewGraph(nil)}
}

func (tg *testGraph) node(id string, typ graph.NodeType, props map[string]any) *testGraph {
	tg.t.Helper()
	_, err := tg.g.UpsertNode(context.Background(), id, typ, props)
	require.NoError(tg.t, err)
	return tg
}

func (tg *testGraph) edge(from, to string, rel graph.RelationshipType, conf float64) *testGraph {
	tg.t.Helper()
	_, err := tg.g.AddEdge(context.Background(), from, to, graph.KnowledgeEdge{
		Relationship: rel, Weight: 1, Confidence: conf, Directionality: graph.Directed,
	})
	require.NoError(tg.t, err)
	return tg
}

const chainOntology = `
auto_rule_threshold: 0.5
relationships:
  - type: DependsOn
    transitive: true
`

func mustOntology(t *testing.T, src string) *Ontology {
	t.Helper()
	o, err := ParseOntology([]byte(src))
	require.NoError(t, err)
	return o
}

func chain(t *testing.T) *testGraph {
	tg := newTestGraph(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		tg.node(id, graph.NodeTypeFramework, nil)
	}
	return tg.
		edge("a", "b", graph.RelDependsOn, 0.9).
		edge("b", "c", graph.RelDependsOn, 0.9).
		edge("c", "d", graph.RelDependsOn, 0.9)
}

type triple struct {
	s, p, o string
}

func triples(res InferenceResult) []triple {
	out := make([]triple, len(res.Facts))
	for i, f := range res.Facts {
		out[i] = triple{f.Subject, f.Predicate.String(), f.Object}
	}
	return out
}

func TestPropagators(t *testing.T) {
	in := []float64{0.9, 0.8}
	tests := []struct {
		p    Propagator
		want float64
	}{
		{Multiplicative{}, 0.72},
		{Minimum{}, 0.8},
		{WeightedAverage{}, (0.81 + 0.64) / 1.7},
		{Bayesian{}, 36.0 / 37.0},
	}
	for _, tt := range tests {
		t.Run(tt.p.Name(), func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.p.Combine(in), 1e-12)
			assert.Zero(t, tt.p.Combine(nil))
		})
	}

	assert.InDelta(t, 0.5, Bayesian{}.Combine([]float64{0.5}), 1e-12)
	assert.InDelta(t, 1.0, Bayesian{}.Combine([]float64{1, 1}), 1e-6)
	assert.Zero(t, WeightedAverage{}.Combine([]float64{0, 0}))
}

func TestParsePropagator(t *testing.T) {
	for name, want := range map[string]string{
		"Multiplicative":   "multiplicative",
		"min":              "minimum",
		"":                 "weighted_average",
		"weighted-average": "weighted_average",
		"bayesian":         "bayesian",
	} {
		p, err := ParsePropagator(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, p.Name())
	}
	_, err := ParsePropagator("majority")
	assert.Error(t, err)
}

func TestInfer_TransitiveChain(t *testing.T) {
	tg := chain(t)
	e, err := NewEngine(tg.g, WithOntology(mustOntology(t, chainOntology)), WithPropagator(Multiplicative{}))
	require.NoError(t, err)

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []triple{
		{"a", "DependsOn", "c"},
		{"a", "DependsOn", "d"},
		{"b", "DependsOn", "d"},
	}, triples(res))
	assert.InDelta(t, 0.81, res.Facts[0].Confidence, 1e-12)
	assert.InDelta(t, 0.729, res.Facts[1].Confidence, 1e-12)
	assert.Equal(t, "transitive:dependson", res.Facts[0].RuleID)
	assert.Equal(t, []string{"a DependsOn b", "b DependsOn c"}, res.Facts[0].SupportingEvidence)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, tg.g.Revision(), res.Revision)
	assert.InDelta(t, (0.81+0.729+0.81)/3, res.ConfidenceScore, 1e-12)

	require.Len(t, res.ReasoningChain, 3)
	last := res.ReasoningChain[2]
	assert.Equal(t, 3, last.StepID)
	assert.Equal(t, 2, last.Round)
	assert.Equal(t, "a DependsOn d", last.ConclusionNode)
	assert.InDelta(t, 0.729, last.ConfidenceChange, 1e-12)
}

func TestInfer_ReasoningDepthBoundsChains(t *testing.T) {
	tg := chain(t)
	e, err := NewEngine(tg.g,
		WithOntology(mustOntology(t, chainOntology)),
		WithPropagator(Multiplicative{}),
		WithReasoningDepth(1))
	require.NoError(t, err)

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []triple{{"a", "DependsOn", "c"}, {"b", "DependsOn", "d"}}, triples(res))
	assert.Equal(t, 1, res.Rounds)
}

func TestInfer_ConfidenceThreshold(t *testing.T) {
	tg := chain(t)
	ont := mustOntology(t, strings.Replace(chainOntology, "0.5", "0.75", 1))
	e, err := NewEngine(tg.g, WithOntology(ont), WithPropagator(Multiplicative{}))
	require.NoError(t, err)

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	// a DependsOn d would be 0.729.
	assert.Equal(t, []triple{{"a", "DependsOn", "c"}, {"b", "DependsOn", "d"}}, triples(res))
}

func TestInfer_SkipsSelfLoopsAndStoredEdges(t *testing.T) {
	tg := newTestGraph(t).
		node("a", graph.NodeTypeFramework, nil).
		node("b", graph.NodeTypeFramework, nil).
		node("c", graph.NodeTypeFramework, nil).
		edge("a", "b", graph.RelDependsOn, 0.9).
		edge("b", "a", graph.RelDependsOn, 0.9).
		edge("b", "c", graph.RelDependsOn, 0.9).
		edge("a", "c", graph.RelDependsOn, 0.9)
	e, err := NewEngine(tg.g, WithOntology(mustOntology(t, chainOntology)))
	require.NoError(t, err)

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Facts)
	assert.NotNil(t, res.Facts)
	assert.Zero(t, res.ConfidenceScore)
	assert.Zero(t, res.Rounds)
}

func TestInfer_DefaultOntologySymmetry(t *testing.T) {
	tg := newTestGraph(t).
		node("a", graph.NodeTypeRequirement, nil).
		node("b", graph.NodeTypeRequirement, nil).
		edge("a", "b", graph.RelConflictsWith, 0.9)
	e, err := NewEngine(tg.g)
	require.NoError(t, err)
	assert.Equal(t, "weighted_average", e.Propagator().Name())

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	require.Equal(t, []triple{{"b", "ConflictsWith", "a"}}, triples(res))
	assert.InDelta(t, 0.9, res.Facts[0].Confidence, 1e-12)
	assert.Equal(t, "symmetric:conflictswith", res.Facts[0].RuleID)
}

func TestInfer_BidirectionalEdgesSeedBothDirections(t *testing.T) {
	tg := newTestGraph(t).
		node("a", graph.NodeTypeFramework, nil).
		node("b", graph.NodeTypeFramework, nil)
	_, err := tg.g.AddEdge(context.Background(), "a", "b", graph.KnowledgeEdge{
		Relationship: graph.RelHarmonizes, Weight: 1, Confidence: 0.9, Directionality: graph.Bidirectional,
	})
	require.NoError(t, err)
	e, err := NewEngine(tg.g)
	require.NoError(t, err)

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Facts)
}

func TestInfer_ConditionFiltersMatches(t *testing.T) {
	build := func(t *testing.T, governor graph.NodeType) *graph.Graph {
		return newTestGraph(t).
			node("auth", governor, nil).
			node("fw", graph.NodeTypeFramework, nil).
			node("req", graph.NodeTypeRequirement, nil).
			edge("auth", "fw", graph.RelGoverns, 0.9).
			edge("fw", "req", graph.RelRequires, 1.0).g
	}

	t.Run("authority", func(t *testing.T) {
		e, err := NewEngine(build(t, graph.NodeTypeAuthority))
		require.NoError(t, err)
		res, err := e.Infer(context.Background())
		require.NoError(t, err)
		require.Equal(t, []triple{{"auth", "Governs", "req"}}, triples(res))
		assert.InDelta(t, 1.81/1.9, res.Facts[0].Confidence, 1e-12)
		assert.Equal(t, "authority-governs-requirements", res.Facts[0].RuleID)
	})

	t.Run("jurisdiction", func(t *testing.T) {
		e, err := NewEngine(build(t, graph.NodeTypeJurisdiction))
		require.NoError(t, err)
		res, err := e.Infer(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Facts)
	})
}

func TestInfer_ConditionReadsProperties(t *testing.T) {
	build := func(t *testing.T, jc string) *graph.Graph {
		return newTestGraph(t).
			node("a", graph.NodeTypeFramework, map[string]any{"jurisdiction": "EU"}).
			node("b", graph.NodeTypeFramework, nil).
			node("c", graph.NodeTypeFramework, map[string]any{"jurisdiction": jc}).
			edge("a", "b", graph.RelHarmonizes, 0.9).
			edge("b", "c", graph.RelHarmonizes, 0.9).g
	}
	has := func(res InferenceResult, want triple) bool {
		for _, tr := range triples(res) {
			if tr == want {
				return true
			}
		}
		return false
	}

	e, err := NewEngine(build(t, "EU"), WithReasoningDepth(1))
	require.NoError(t, err)
	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	assert.True(t, has(res, triple{"a", "Harmonizes", "c"}))

	e, err = NewEngine(build(t, "US"), WithReasoningDepth(1))
	require.NoError(t, err)
	res, err = e.Infer(context.Background())
	require.NoError(t, err)
	assert.False(t, has(res, triple{"a", "Harmonizes", "c"}))
	assert.True(t, has(res, triple{"b", "Harmonizes", "a"}))
}

func TestInfer_DomainConstraint(t *testing.T) {
	for _, tt := range []struct {
		typ  graph.NodeType
		want int
	}{
		{graph.NodeTypeFramework, 1},
		{graph.NodeTypeConcept, 0},
	} {
		tg := newTestGraph(t).
			node("x", tt.typ, nil).
			node("y", tt.typ, nil).
			node("z", tt.typ, nil).
			edge("x", "y", graph.RelSupersedes, 0.9).
			edge("y", "z", graph.RelSupersedes, 0.9)
		e, err := NewEngine(tg.g)
		require.NoError(t, err)
		res, err := e.Infer(context.Background())
		require.NoError(t, err)
		assert.Len(t, res.Facts, tt.want, tt.typ.String())
	}
}

func TestInfer_CachedPerRevision(t *testing.T) {
	tg := chain(t)
	e, err := NewEngine(tg.g, WithOntology(mustOntology(t, chainOntology)))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := e.Infer(ctx)
	require.NoError(t, err)
	first.Facts[0].Subject = "mutated"

	second, err := e.Infer(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, second.ComputedAt)
	assert.Equal(t, "a", second.Facts[0].Subject)

	tg.node("e", graph.NodeTypeFramework, nil).edge("d", "e", graph.RelDependsOn, 0.9)
	third, err := e.Infer(ctx)
	require.NoError(t, err)
	assert.Greater(t, third.Revision, second.Revision)
	assert.Greater(t, len(third.Facts), len(second.Facts))
}

func TestInfer_Cancelled(t *testing.T) {
	e, err := NewEngine(chain(t).g, WithCacheSize(0))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Infer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApply_Idempotent(t *testing.T) {
	tg := chain(t)
	ctx := context.Background()
	e, err := NewEngine(tg.g, WithOntology(mustOntology(t, chainOntology)))
	require.NoError(t, err)

	res, err := e.Infer(ctx)
	require.NoError(t, err)
	require.Len(t, res.Facts, 3)

	added, err := e.Apply(ctx, res.Facts)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, 6, tg.g.EdgeCount())

	added, err = e.Apply(ctx, res.Facts)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 6, tg.g.EdgeCount())

	_ = tg.g.View(ctx, func(r graph.Reader) error {
		a, _ := r.Lookup("a")
		d, _ := r.Lookup("d")
		evs := r.EdgesBetween(a, d)
		require.Len(t, evs, 1)
		assert.Equal(t, []string{"inferred:transitive:dependson"}, evs[0].Edge.SourceEvidence)
		return nil
	})

	// Applied facts are now stored edges.
	again, err := e.Infer(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Facts)
}

func TestApply_UnknownEntityRollsBack(t *testing.T) {
	tg := chain(t)
	e, err := NewEngine(tg.g)
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), []InferredFact{
		{Subject: "a", Predicate: graph.RelDependsOn, Object: "d", Confidence: 0.9, RuleID: "r"},
		{Subject: "a", Predicate: graph.RelDependsOn, Object: "ghost", Confidence: 0.9, RuleID: "r"},
	})
	assert.ErrorIs(t, err, graph.ErrValidation)
	assert.Equal(t, 3, tg.g.EdgeCount())
}

func TestParseOntology_Errors(t *testing.T) {
	rule := func(body string) string {
		return "rules:\n  - id: r\n    type: Implication\n" + body
	}
	tests := map[string]string{
		"bad yaml":           "rules: [",
		"unknown relation":   "relationships:\n  - type: Loves\n",
		"bad domain":         "relationships:\n  - type: Governs\n    domain: [Robot]\n",
		"duplicate relation": "relationships:\n  - type: Governs\n  - type: Governs\n",
		"threshold range":    "auto_rule_threshold: 2\n",
		"unknown rule type": "rules:\n  - id: r\n    type: Magic\n    premises: [\"?a Requires ?b\"]\n" +
			"    conclusion: \"?a Requires ?b\"\n",
		"no premises":      rule("    conclusion: \"?a Requires ?b\"\n"),
		"short pattern":    rule("    premises: [\"?a Requires\"]\n    conclusion: \"?a Requires ?b\"\n"),
		"unbound variable": rule("    premises: [\"?a Requires ?b\"]\n    conclusion: \"?a Requires ?c\"\n"),
		"bad variable":     rule("    premises: [\"?1a Requires ?b\"]\n    conclusion: \"?b Requires ?b\"\n"),
		"bad condition": rule("    premises: [\"?a Requires ?b\"]\n    conclusion: \"?b Implies ?a\"\n" +
			"    condition: 'a.id =='\n"),
		"non-bool condition": rule("    premises: [\"?a Requires ?b\"]\n    conclusion: \"?b Implies ?a\"\n" +
			"    condition: 'a.id'\n"),
		"unknown condition var": rule("    premises: [\"?a Requires ?b\"]\n    conclusion: \"?b Implies ?a\"\n" +
			"    condition: 'z.id == \"x\"'\n"),
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOntology([]byte(src))
			assert.Error(t, err)
		})
	}

	dup := "relationships:\n  - type: DependsOn\n    transitive: true\n" +
		"rules:\n  - id: transitive:dependson\n    type: Implication\n" +
		"    premises: [\"?a DependsOn ?b\"]\n    conclusion: \"?b DependsOn ?a\"\n"
	_, err := ParseOntology([]byte(dup))
	assert.ErrorContains(t, err, "declared twice")
}

func TestParseOntology_GeneratedRules(t *testing.T) {
	o := mustOntology(t, `
relationships:
  - type: Governs
    inverse: Applies
    symmetric: true
  - type: DependsOn
    transitive: true
`)
	var ids []string
	for _, r := range o.Rules() {
		ids = append(ids, r.ID)
		assert.Equal(t, 0.5, r.ConfidenceThreshold)
	}
	assert.Equal(t, []string{"symmetric:governs", "inverse:governs", "transitive:dependson"}, ids)
	assert.Equal(t, "?b Applies ?a", o.Rules()[1].Conclusion.String())
	require.NotNil(t, o.Meta(graph.RelGoverns).Inverse)
	assert.Nil(t, o.Meta(graph.RelRequires))
}

func TestParsePattern_Literal(t *testing.T) {
	p, err := ParsePattern("gdpr Requires ?r")
	require.NoError(t, err)
	assert.Equal(t, "gdpr", p.Subject.Literal)
	assert.Equal(t, "r", p.Object.Var)
	assert.Equal(t, graph.RelRequires, p.Predicate)
}

func TestInfer_LiteralPattern(t *testing.T) {
	o := mustOntology(t, `
rules:
  - id: gdpr-implies
    type: Implication
    premises: ["gdpr Requires ?r"]
    conclusion: "?r Implements gdpr"
    confidence_threshold: 0.1
`)
	tg := newTestGraph(t).
		node("gdpr", graph.NodeTypeFramework, nil).
		node("ccpa", graph.NodeTypeFramework, nil).
		node("r1", graph.NodeTypeRequirement, nil).
		node("r2", graph.NodeTypeRequirement, nil).
		edge("gdpr", "r1", graph.RelRequires, 1).
		edge("ccpa", "r2", graph.RelRequires, 1)
	e, err := NewEngine(tg.g, WithOntology(o))
	require.NoError(t, err)

	res, err := e.Infer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []triple{{"r1", "Implements", "gdpr"}}, triples(res))
}

func TestLoadOntology(t *testing.T) {
	o, err := LoadOntology("")
	require.NoError(t, err)
	assert.NotEmpty(t, o.Rules())

	dir := t.TempDir()
	path := filepath.Join(dir, "ont.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainOntology), 0o600))
	o, err = LoadOntology(path)
	require.NoError(t, err)
	require.Len(t, o.Rules(), 1)

	big := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(big, make([]byte, MaxOntologyFileSize+1), 0o600))
	_, err = LoadOntology(big)
	assert.ErrorContains(t, err, "too large")

	_, err = LoadOntology(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestContextAnalyzer(t *testing.T) {
	tg := newTestGraph(t).
		node("fw", graph.NodeTypeFramework, map[string]any{"jurisdiction": "EU"}).
		node("fw2", graph.NodeTypeFramework, map[string]any{"jurisdiction": "US"}).
		node("r1", graph.NodeTypeRequirement, map[string]any{"mandatory": true}).
		node("r2", graph.NodeTypeRequirement, map[string]any{"mandatory": false}).
		node("ent", graph.NodeTypeEntity, nil).
		edge("fw", "r1", graph.RelRequires, 1).
		edge("fw", "r2", graph.RelRequires, 1).
		edge("fw", "ent", graph.RelApplies, 1).
		edge("fw2", "fw", graph.RelHarmonizes, 1)
	ctx := context.Background()

	got, err := NewGraphContextAnalyzer(tg.g).AnalyzeContext(ctx, "ent")
	require.NoError(t, err)
	assert.Equal(t, graph.NodeTypeEntity, got.NodeType)
	assert.Equal(t, map[string]int{"Applies": 1}, got.RelationshipCounts)
	assert.Equal(t, []string{"fw", "fw2"}, got.RelatedFrameworks)
	assert.Equal(t, []string{"EU", "US"}, got.Jurisdictions)
	assert.Equal(t, 1, got.MandatoryRequirements)

	_, err = NewGraphContextAnalyzer(tg.g).AnalyzeContext(ctx, "nobody")
	assert.ErrorIs(t, err, graph.ErrValidation)

	_, err = UnimplementedContextAnalyzer{}.AnalyzeContext(ctx, "ent")
	assert.ErrorIs(t, err, graph.ErrNotImplemented)
}
