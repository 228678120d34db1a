// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package paths answers derivation questions over the knowledge graph:
// how one entity leads to another, what an entity still lacks to comply
// with a set of frameworks, and where a jurisdiction's coverage has gaps.
package paths

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.regkg.paths")

const (
	// MaxPathDepth bounds the hops of a regulatory path.
	MaxPathDepth = 6

	// DefaultMaxPaths bounds the number of paths enumerated per query.
	DefaultMaxPaths = 1000
)

// RegulatoryPath is one simple path between two entities.
type RegulatoryPath struct {
	PathID                 string                   `json:"path_id"`
	Nodes                  []string                 `json:"nodes"`
	Relationships          []graph.RelationshipType `json:"relationships"`
	PathStrength           float64                  `json:"path_strength"`
	RegulatoryImplications []string                 `json:"regulatory_implications"`
}

// Option configures a Finder.
type Option func(*Finder)

// WithMaxPaths bounds path enumeration per query.
func WithMaxPaths(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.maxPaths = n
		}
	}
}

// WithCostModel replaces the compliance completion-time estimator.
func WithCostModel(m CostModel) Option {
	return func(f *Finder) {
		if m != nil {
			f.cost = m
		}
	}
}

// WithClock sets the time source used to judge expired frameworks.
func WithClock(clock func() time.Time) Option {
	return func(f *Finder) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithLogger sets the finder logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Finder) { f.logger = l }
}

// Finder runs path, compliance and gap queries against a graph.
//
// Thread Safety: Safe for concurrent use. Each query holds the graph read
// lock for its duration.
type Finder struct {
	g        *graph.Graph
	maxPaths int
	cost     CostModel
	clock    func() time.Time
	logger   *slog.Logger
}

// NewFinder creates a Finder over g.
func NewFinder(g *graph.Graph, opts ...Option) *Finder {
	f := &Finder{
		g:        g,
		maxPaths: DefaultMaxPaths,
		cost:     FixedCostModel{Days: DefaultEstimateDays},
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "regkg.paths"))
	return f
}

// FindRegulatoryPath enumerates the simple paths from source to target.
//
// Description:
//
//	Depth-first search over traversable arcs, at most MaxPathDepth hops.
//	A per-path visited set keeps every reported path free of repeated
//	nodes even when the graph has cycles. Parallel edges yield distinct
//	paths. Enumeration stops after the configured path budget.
//
// Inputs:
//   - ctx: Context for tracing and cancellation.
//   - sourceID, targetID: Entity IDs.
//
// Outputs:
//   - []RegulatoryPath: Sorted by descending strength, then by length.
//     Empty when source equals target or no path exists.
//   - error: ValidationError wrapping graph.ErrNodeNotFound for an
//     unknown ID, or ctx.Err().
func (f *Finder) FindRegulatoryPath(ctx context.Context, sourceID, targetID string) ([]RegulatoryPath, error) {
	ctx, span := tracer.Start(ctx, "Finder.FindRegulatoryPath")
	defer span.End()
	span.SetAttributes(attribute.String("path.source", sourceID), attribute.String("path.target", targetID))

	var out []RegulatoryPath
	truncated := false
	err := f.g.View(ctx, func(r graph.Reader) error {
		src, ok := r.Lookup(sourceID)
		if !ok {
			return graph.NotFound(sourceID)
		}
		dst, ok := r.Lookup(targetID)
		if !ok {
			return graph.NotFound(targetID)
		}
		out = []RegulatoryPath{}
		if src == dst {
			return nil
		}

		w := &walker{r: r, budget: f.maxPaths}
		w.visited = map[graph.NodeRef]bool{src: true}
		w.nodes = []graph.NodeRef{src}
		if err := w.walk(ctx, src, dst, 1.0, func(nodes []graph.NodeRef, edges []*graph.KnowledgeEdge, strength float64) {
			out = append(out, newPath(r, nodes, edges, strength))
		}); err != nil {
			return err
		}
		truncated = w.budget <= 0
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slices.SortFunc(out, func(a, b RegulatoryPath) int {
		if c := cmp.Compare(b.PathStrength, a.PathStrength); c != 0 {
			return c
		}
		if c := cmp.Compare(len(a.Nodes), len(b.Nodes)); c != 0 {
			return c
		}
		return cmp.Compare(strings.Join(a.Nodes, "\x00"), strings.Join(b.Nodes, "\x00"))
	})
	if truncated {
		f.logger.Warn("path enumeration truncated",
			slog.String("source", sourceID),
			slog.String("target", targetID),
			slog.Int("max_paths", f.maxPaths))
	}
	span.SetAttributes(attribute.Int("path.count", len(out)), attribute.Bool("path.truncated", truncated))
	return out, nil
}

// walker is the DFS state of one path query.
type walker struct {
	r       graph.Reader
	budget  int
	visited map[graph.NodeRef]bool
	nodes   []graph.NodeRef
	edges   []*graph.KnowledgeEdge
	steps   int
}

type emitFunc func(nodes []graph.NodeRef, edges []*graph.KnowledgeEdge, strength float64)

func (w *walker) walk(ctx context.Context, at, dst graph.NodeRef, strength float64, emit emitFunc) error {
	w.steps++
	if w.steps%1024 == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	for _, a := range w.r.Arcs(at) {
		if w.budget <= 0 {
			return nil
		}
		if w.visited[a.To] {
			continue
		}
		ev, ok := w.r.Edge(a.Edge)
		if !ok {
			continue
		}
		s := strength * ev.Edge.Strength()
		w.nodes = append(w.nodes, a.To)
		w.edges = append(w.edges, ev.Edge)
		if a.To == dst {
			emit(w.nodes, w.edges, s)
			w.budget--
		} else if len(w.edges) < MaxPathDepth {
			w.visited[a.To] = true
			if err := w.walk(ctx, a.To, dst, s, emit); err != nil {
				return err
			}
			w.visited[a.To] = false
		}
		w.nodes = w.nodes[:len(w.nodes)-1]
		w.edges = w.edges[:len(w.edges)-1]
	}
	return nil
}

func newPath(r graph.Reader, nodes []graph.NodeRef, edges []*graph.KnowledgeEdge, strength float64) RegulatoryPath {
	p := RegulatoryPath{
		PathID:        uuid.NewString(),
		Nodes:         make([]string, len(nodes)),
		Relationships: make([]graph.RelationshipType, len(edges)),
		PathStrength:  strength,
	}
	for i, ref := range nodes {
		n, _ := r.Node(ref)
		p.Nodes[i] = n.ID
	}
	for i, e := range edges {
		p.Relationships[i] = e.Relationship
	}
	p.RegulatoryImplications = Implications(p.Relationships)
	return p
}

// implications holds the canned reading of each relationship type.
var implications = [graph.NumRelationshipTypes]string{
	graph.RelDependsOn:     "Compliance depends on a prerequisite framework",
	graph.RelConflictsWith: "Conflicting obligations must be reconciled",
	graph.RelSupersedes:    "A newer provision replaces an older one",
	graph.RelComplements:   "Provisions complement each other and can share controls",
	graph.RelImplements:    "A provision is implemented by a more specific measure",
	graph.RelRequires:      "Mandatory requirements apply along this chain",
	graph.RelImplies:       "Obligations are implied by upstream provisions",
	graph.RelContradicts:   "Contradictory provisions create legal uncertainty",
	graph.RelHarmonizes:    "Harmonized provisions allow a single compliance approach",
	graph.RelReferences:    "Cross-references must be read together",
	graph.RelDerives:       "A provision derives its authority from another",
	graph.RelValidates:     "Evidence validates compliance with a provision",
	graph.RelEnforces:      "An authority enforces the provision",
	graph.RelExempts:       "An exemption may relieve the obligation",
	graph.RelApplies:       "The provision applies to the entity",
	graph.RelGoverns:       "A governing authority has precedence",
	graph.RelMandates:      "An explicit mandate creates an obligation",
	graph.RelProhibits:     "A prohibition restricts permitted activity",
	graph.RelRecommends:    "Recommended practice is advisory, not binding",
	graph.RelSupports:      "Supporting material assists interpretation",
}

// Implications returns the de-duplicated implications of rels in order of
// first appearance.
func Implications(rels []graph.RelationshipType) []string {
	out := make([]string, 0, len(rels))
	for _, rel := range rels {
		if !rel.Valid() {
			continue
		}
		if s := implications[rel]; !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
