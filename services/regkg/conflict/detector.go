// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/embedding"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.regkg.conflict")

const (
	// MaxConflictDepth bounds the hops of an explicit conflict path.
	MaxConflictDepth = 5

	// DefaultMaxPathsPerConflict bounds the paths enumerated per seed edge.
	DefaultMaxPathsPerConflict = 256

	// SemanticSimilarityThreshold is the exclusive lower bound on cosine
	// similarity for a semantic conflict.
	SemanticSimilarityThreshold = 0.8

	// SemanticSeverityFactor scales similarity into semantic severity.
	SemanticSeverityFactor = 0.7

	// TemporalSeverity is the fixed severity of a temporal conflict.
	TemporalSeverity = 0.8

	// AuthoritySeverity is the fixed severity of a mutual precedence claim.
	AuthoritySeverity = 0.9
)

// Severity returns the per-hop severity weight of a relationship type.
func Severity(rel graph.RelationshipType) float64 {
	switch rel {
	case graph.RelConflictsWith:
		return 1.0
	case graph.RelContradicts:
		return 0.95
	case graph.RelSupersedes:
		return 0.7
	case graph.RelRequires:
		return 0.5
	}
	return 0.2
}

// Option configures a GraphDetector.
type Option func(*GraphDetector)

// WithMaxPathsPerConflict bounds path enumeration per explicit conflict.
func WithMaxPathsPerConflict(n int) Option {
	return func(d *GraphDetector) {
		if n > 0 {
			d.maxPaths = n
		}
	}
}

// WithLogger sets the detector logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *GraphDetector) { d.logger = l }
}

// GraphDetector scans a graph.Graph for conflicts.
//
// Thread Safety: Safe for concurrent use. Each scan holds the graph read
// lock for its whole duration, so it observes one committed state.
type GraphDetector struct {
	g        *graph.Graph
	maxPaths int
	logger   *slog.Logger
}

// NewGraphDetector creates a detector over g.
func NewGraphDetector(g *graph.Graph, opts ...Option) *GraphDetector {
	d := &GraphDetector{g: g, maxPaths: DefaultMaxPathsPerConflict, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "regkg.conflict"))
	return d
}

// DetectConflicts runs the explicit and implicit scans.
//
// Description:
//
//	Explicit conflicts are collected first. Results are then
//	deduplicated by unordered entity pair: an explicit conflict always
//	wins over an implicit one for the same pair, otherwise the higher
//	severity wins. An empty graph yields an empty, non-nil slice.
//
// Inputs:
//   - ctx: Context for tracing and cancellation. Checked between nodes.
//
// Outputs:
//   - []ConflictPath: Sorted by descending severity, then by entity IDs.
//   - error: ctx.Err() on cancellation.
func (d *GraphDetector) DetectConflicts(ctx context.Context) ([]ConflictPath, error) {
	ctx, span := tracer.Start(ctx, "GraphDetector.DetectConflicts")
	defer span.End()
	start := time.Now()

	var found []ConflictPath
	err := d.g.View(ctx, func(r graph.Reader) error {
		s := &scan{r: r, maxPaths: d.maxPaths}
		explicit, err := s.explicit(ctx)
		if err != nil {
			return err
		}
		implicit, err := s.implicit(ctx)
		if err != nil {
			return err
		}
		found = dedupe(explicit, implicit)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slices.SortFunc(found, func(a, b ConflictPath) int {
		if c := cmp.Compare(b.ConflictSeverity, a.ConflictSeverity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SourceEntity, b.SourceEntity); c != 0 {
			return c
		}
		return cmp.Compare(a.TargetEntity, b.TargetEntity)
	})
	for i := range found {
		found[i].ConflictID = uuid.NewString()
		conflictsFound.WithLabelValues(string(found[i].Kind)).Inc()
	}

	elapsed := time.Since(start)
	scanDuration.Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("conflict.count", len(found)))
	d.logger.Debug("conflict scan complete",
		slog.Int("conflicts", len(found)),
		slog.Duration("duration", elapsed))
	return found, nil
}

// scan carries the per-call state of one detection pass.
type scan struct {
	r        graph.Reader
	maxPaths int
}

func (s *scan) id(ref graph.NodeRef) string {
	n, _ := s.r.Node(ref)
	return n.ID
}

func (s *scan) title(ref graph.NodeRef) string {
	n, _ := s.r.Node(ref)
	return n.Title()
}

func (s *scan) step(i int, from, to graph.NodeRef, e *graph.KnowledgeEdge) ConflictStep {
	return ConflictStep{
		StepID:              i,
		FromEntity:          s.id(from),
		ToEntity:            s.id(to),
		RelationshipType:    e.Relationship,
		ConflictDescription: fmt.Sprintf("%s %s %s", s.title(from), e.Relationship, s.title(to)),
		Confidence:          e.Confidence,
	}
}

// =============================================================================
// Explicit conflicts
// =============================================================================

// explicit emits one ConflictPath per ConflictsWith or Contradicts edge,
// scored by the best simple path between its endpoints.
func (s *scan) explicit(ctx context.Context) ([]ConflictPath, error) {
	var out []ConflictPath
	for ev := range s.r.Edges() {
		if !ev.Edge.Relationship.IsConflict() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hops, severity := s.bestPath(ev.From, ev.To)
		if hops == nil {
			// A self-loop conflict has no simple path; score the edge alone.
			hops = []hop{{from: ev.From, to: ev.To, edge: ev.Edge}}
			severity = Severity(ev.Edge.Relationship) * ev.Edge.Confidence
		}
		steps := make([]ConflictStep, len(hops))
		rels := make([]graph.RelationshipType, len(hops))
		for i, h := range hops {
			steps[i] = s.step(i, h.from, h.to, h.edge)
			rels[i] = h.edge.Relationship
		}
		out = append(out, ConflictPath{
			Kind:                  KindExplicit,
			SourceEntity:          s.id(ev.From),
			TargetEntity:          s.id(ev.To),
			ConflictSteps:         steps,
			ConflictSeverity:      severity,
			ResolutionSuggestions: suggestions(KindExplicit, rels...),
		})
	}
	return out, nil
}

type hop struct {
	from, to graph.NodeRef
	edge     *graph.KnowledgeEdge
}

// bestPath walks simple paths of at most MaxConflictDepth hops from src to
// dst and returns the one with the highest mean hop score.
func (s *scan) bestPath(src, dst graph.NodeRef) ([]hop, float64) {
	if src == dst {
		return nil, 0
	}
	var (
		best     []hop
		bestMean = -1.0
		explored int
		path     []hop
		visited  = map[graph.NodeRef]bool{src: true}
	)

	var walk func(at graph.NodeRef, sum float64)
	walk = func(at graph.NodeRef, sum float64) {
		if explored >= s.maxPaths {
			return
		}
		for _, a := range s.r.Arcs(at) {
			if visited[a.To] {
				continue
			}
			ev, ok := s.r.Edge(a.Edge)
			if !ok {
				continue
			}
			score := Severity(ev.Edge.Relationship) * ev.Edge.Confidence
			path = append(path, hop{from: at, to: a.To, edge: ev.Edge})
			if a.To == dst {
				explored++
				if mean := (sum + score) / float64(len(path)); mean > bestMean {
					bestMean = mean
					best = slices.Clone(path)
				}
			} else if len(path) < MaxConflictDepth {
				visited[a.To] = true
				walk(a.To, sum+score)
				visited[a.To] = false
			}
			path = path[:len(path)-1]
			if explored >= s.maxPaths {
				return
			}
		}
	}
	walk(src, 0)
	return best, bestMean
}

// =============================================================================
// Implicit conflicts
// =============================================================================

func (s *scan) implicit(ctx context.Context) ([]ConflictPath, error) {
	var out []ConflictPath
	for ref := range s.r.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, s.semantic(ref)...)
		out = append(out, s.temporal(ref)...)
		out = append(out, s.authority(ref)...)
	}
	return out, nil
}

// semantic reports pairs of mandatory neighbours of hub whose embeddings
// are near-duplicates.
func (s *scan) semantic(hub graph.NodeRef) []ConflictPath {
	var mandatory []graph.NodeRef
	for _, ref := range s.r.Adjacent(hub) {
		if n, ok := s.r.Node(ref); ok && n.Mandatory() {
			mandatory = append(mandatory, ref)
		}
	}

	var out []ConflictPath
	for i := 0; i < len(mandatory); i++ {
		a, _ := s.r.Node(mandatory[i])
		for j := i + 1; j < len(mandatory); j++ {
			b, _ := s.r.Node(mandatory[j])
			sim := embedding.CosineSimilarity(a.Embedding, b.Embedding)
			if sim <= SemanticSimilarityThreshold {
				continue
			}
			steps, rels := s.linkSteps(mandatory[i], hub, mandatory[j])
			out = append(out, ConflictPath{
				Kind:                  KindSemantic,
				SourceEntity:          a.ID,
				TargetEntity:          b.ID,
				ConflictSteps:         steps,
				ConflictSeverity:      sim * SemanticSeverityFactor,
				ResolutionSuggestions: suggestions(KindSemantic, rels...),
			})
		}
	}
	return out
}

// linkSteps describes how a and b both attach to hub.
func (s *scan) linkSteps(a, hub, b graph.NodeRef) ([]ConflictStep, []graph.RelationshipType) {
	var steps []ConflictStep
	var rels []graph.RelationshipType
	for _, pair := range [][2]graph.NodeRef{{a, hub}, {hub, b}} {
		evs := s.r.EdgesBetween(pair[0], pair[1])
		if len(evs) == 0 {
			evs = s.r.EdgesBetween(pair[1], pair[0])
		}
		if len(evs) == 0 {
			continue
		}
		ev := evs[0]
		steps = append(steps, s.step(len(steps), ev.From, ev.To, ev.Edge))
		rels = append(rels, ev.Edge.Relationship)
	}
	return steps, rels
}

// temporal reports outgoing edges of ref whose validity starts after the
// target node was last updated.
func (s *scan) temporal(ref graph.NodeRef) []ConflictPath {
	var out []ConflictPath
	for _, ev := range s.r.OutEdges(ref) {
		start := ev.Edge.Validity.Start
		if start == nil {
			continue
		}
		target, ok := s.r.Node(ev.To)
		if !ok || !start.After(target.LastUpdated) {
			continue
		}
		out = append(out, ConflictPath{
			Kind:                  KindTemporal,
			SourceEntity:          s.id(ev.From),
			TargetEntity:          target.ID,
			ConflictSteps:         []ConflictStep{s.step(0, ev.From, ev.To, ev.Edge)},
			ConflictSeverity:      TemporalSeverity,
			ResolutionSuggestions: suggestions(KindTemporal, ev.Edge.Relationship),
		})
	}
	return out
}

// authority reports mutual precedence claims. Each pair is emitted from
// the side with the lower entity ID only.
func (s *scan) authority(ref graph.NodeRef) []ConflictPath {
	self := s.id(ref)
	var out []ConflictPath
	seen := map[graph.NodeRef]bool{}
	for _, fwd := range s.r.OutEdges(ref) {
		if !fwd.Edge.Relationship.IsPrecedence() || fwd.To == ref || seen[fwd.To] {
			continue
		}
		other := s.id(fwd.To)
		if other < self {
			continue
		}
		back, ok := s.precedenceEdge(fwd.To, ref)
		if !ok {
			continue
		}
		seen[fwd.To] = true
		out = append(out, ConflictPath{
			Kind:         KindAuthority,
			SourceEntity: self,
			TargetEntity: other,
			ConflictSteps: []ConflictStep{
				s.step(0, fwd.From, fwd.To, fwd.Edge),
				s.step(1, back.From, back.To, back.Edge),
			},
			ConflictSeverity:      AuthoritySeverity,
			ResolutionSuggestions: suggestions(KindAuthority, fwd.Edge.Relationship, back.Edge.Relationship),
		})
	}
	return out
}

func (s *scan) precedenceEdge(from, to graph.NodeRef) (graph.EdgeView, bool) {
	for _, ev := range s.r.EdgesBetween(from, to) {
		if ev.Edge.Relationship.IsPrecedence() {
			return ev, true
		}
	}
	return graph.EdgeView{}, false
}

// =============================================================================
// Deduplication
// =============================================================================

// dedupe keeps one conflict per unordered entity pair. Explicit conflicts
// take precedence; among the rest the highest severity wins, and on a tie
// the first one found is kept.
func dedupe(explicit, implicit []ConflictPath) []ConflictPath {
	type pair struct{ a, b string }
	key := func(c *ConflictPath) pair {
		if c.SourceEntity <= c.TargetEntity {
			return pair{c.SourceEntity, c.TargetEntity}
		}
		return pair{c.TargetEntity, c.SourceEntity}
	}

	index := make(map[pair]int)
	out := make([]ConflictPath, 0, len(explicit)+len(implicit))
	for _, group := range [][]ConflictPath{explicit, implicit} {
		for i := range group {
			c := &group[i]
			k := key(c)
			at, dup := index[k]
			if !dup {
				index[k] = len(out)
				out = append(out, *c)
				continue
			}
			prev := &out[at]
			if prev.Kind == KindExplicit && c.Kind != KindExplicit {
				continue
			}
			if c.ConflictSeverity > prev.ConflictSeverity {
				*prev = *c
			}
		}
	}
	return out
}
