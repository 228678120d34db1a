// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package centrality computes structural importance scores for the
// regulatory knowledge graph.
//
// Five measures are produced per node: degree, betweenness, closeness, an
// eigenvector approximation, and PageRank. All are normalised to [0, 1].
// Traversal follows graph.Reader.Arcs, so Undirected and Bidirectional
// edges are walked in both directions and Directed edges forward only.
//
// Recompute is O(V·E) because of betweenness. It runs inside a single
// write transaction so readers never observe a half-updated score set.
package centrality

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.regkg.centrality")

// LargeGraphWarning is the node count above which a recompute logs a
// warning about quadratic betweenness cost.
const LargeGraphWarning = 5000

// Measure selects one of the centrality scores.
type Measure int

const (
	MeasureDegree Measure = iota
	MeasureBetweenness
	MeasureCloseness
	MeasureEigenvector
	MeasurePageRank
)

var measureNames = [...]string{"degree", "betweenness", "closeness", "eigenvector", "pagerank"}

func (m Measure) String() string {
	if m < 0 || int(m) >= len(measureNames) {
		return fmt.Sprintf("Measure(%d)", int(m))
	}
	return measureNames[m]
}

// ParseMeasure parses a measure name, case-insensitively.
func ParseMeasure(s string) (Measure, error) {
	i := slices.Index(measureNames[:], strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return 0, &graph.ValidationError{Field: "measure", Value: s, Reason: "unknown centrality measure"}
	}
	return Measure(i), nil
}

// Score returns the selected measure from c.
func (m Measure) Score(c graph.Centrality) float64 {
	switch m {
	case MeasureDegree:
		return c.Degree
	case MeasureBetweenness:
		return c.Betweenness
	case MeasureCloseness:
		return c.Closeness
	case MeasureEigenvector:
		return c.Eigenvector
	case MeasurePageRank:
		return c.PageRank
	}
	return 0
}

// Options configures an Analyzer.
type Options struct {
	// Workers bounds the goroutines used for betweenness. Defaults to
	// GOMAXPROCS.
	Workers int

	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithWorkers sets the betweenness worker count.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithLogger sets the analyzer logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Analyzer recomputes and queries centrality on a graph.
//
// Thread Safety: Safe for concurrent use. Concurrent Update calls
// serialise on the graph's write lock.
type Analyzer struct {
	g      *graph.Graph
	opts   Options
	logger *slog.Logger
}

// Result summarises one recompute.
type Result struct {
	NodeCount int           `json:"node_count"`
	Revision  uint64        `json:"revision"`
	Duration  time.Duration `json:"duration"`
}

// NewAnalyzer creates an analyzer over g.
func NewAnalyzer(g *graph.Graph, opts ...Option) *Analyzer {
	o := Options{Workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		g:      g,
		opts:   o,
		logger: logger.With(slog.String("component", "regkg.centrality")),
	}
}

// Update recomputes every centrality measure and stores the scores on the
// nodes.
//
// Description:
//
//	Takes a topology snapshot, computes all five measures, and writes
//	them back, all inside one write transaction. Cancelling ctx aborts
//	the computation and leaves the previous scores in place.
//
// Inputs:
//   - ctx: Context for tracing and cancellation.
//
// Outputs:
//   - Result: Node count, graph revision after the write, and duration.
//   - error: ctx.Err() on cancellation.
//
// Thread Safety: Holds the graph write lock for the whole computation.
func (a *Analyzer) Update(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "Analyzer.Update")
	defer span.End()
	start := time.Now()

	var res Result
	err := a.g.Update(ctx, func(tx *graph.Txn) error {
		topo := buildTopology(tx.Reader)
		if n := len(topo.refs); n > LargeGraphWarning {
			a.logger.Warn("centrality recompute on large graph",
				slog.Int("nodes", n),
				slog.Int("threshold", LargeGraphWarning))
		}

		scores, err := compute(ctx, topo, a.opts.Workers)
		if err != nil {
			return err
		}
		for i, ref := range topo.refs {
			if err := tx.SetCentrality(ref, scores[i]); err != nil {
				return err
			}
		}
		res.NodeCount = len(topo.refs)
		return nil
	})
	res.Duration = time.Since(start)
	recordRecompute(res.Duration, err)
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("centrality recompute aborted", slog.String("error", err.Error()))
		return Result{}, err
	}
	res.Revision = a.g.Revision()

	span.SetAttributes(
		attribute.Int("centrality.nodes", res.NodeCount),
		attribute.Int64("centrality.duration_ms", res.Duration.Milliseconds()),
	)
	a.logger.Debug("centrality recomputed",
		slog.Int("nodes", res.NodeCount),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// Ranked is one entry of a TopK ranking.
type Ranked struct {
	EntityID string         `json:"entity_id"`
	NodeType graph.NodeType `json:"node_type"`
	Score    float64        `json:"score"`
}

// TopK returns the k nodes with the highest stored score for m.
//
// Scores reflect the last Update; nodes added since then score 0. Ties
// are broken by entity ID. k <= 0 returns every node.
func (a *Analyzer) TopK(ctx context.Context, m Measure, k int) ([]Ranked, error) {
	var out []Ranked
	err := a.g.View(ctx, func(r graph.Reader) error {
		out = make([]Ranked, 0, r.NodeCount())
		for _, n := range r.Nodes() {
			out = append(out, Ranked{EntityID: n.ID, NodeType: n.Type, Score: m.Score(n.Centrality)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.EntityID, b.EntityID)
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Compute calculates centrality for the state visible to r without
// storing it. Scores are keyed by entity ID.
func Compute(ctx context.Context, r graph.Reader, workers int) (map[string]graph.Centrality, error) {
	topo := buildTopology(r)
	scores, err := compute(ctx, topo, max(workers, 1))
	if err != nil {
		return nil, err
	}
	out := make(map[string]graph.Centrality, len(scores))
	for i, id := range topo.ids {
		out[id] = scores[i]
	}
	return out, nil
}

// =============================================================================
// Topology snapshot
// =============================================================================

// topology is a dense-index copy of the graph's traversal structure.
type topology struct {
	refs []graph.NodeRef
	ids  []string

	// arcs keeps one entry per traversable arc, parallel edges and self
	// loops included.
	arcs [][]int32

	// nbrs holds distinct neighbours, self excluded.
	nbrs [][]int32
}

func buildTopology(r graph.Reader) topology {
	refs := r.NodeRefs()
	pos := make(map[graph.NodeRef]int32, len(refs))
	ids := make([]string, len(refs))
	for i, ref := range refs {
		pos[ref] = int32(i)
		n, _ := r.Node(ref)
		ids[i] = n.ID
	}

	t := topology{
		refs: refs,
		ids:  ids,
		arcs: make([][]int32, len(refs)),
		nbrs: make([][]int32, len(refs)),
	}
	for i, ref := range refs {
		arcs := r.Arcs(ref)
		all := make([]int32, 0, len(arcs))
		for _, a := range arcs {
			if j, ok := pos[a.To]; ok {
				all = append(all, j)
			}
		}
		t.arcs[i] = all

		seen := make(map[int32]struct{}, len(all))
		distinct := make([]int32, 0, len(all))
		for _, j := range all {
			if j == int32(i) {
				continue
			}
			if _, dup := seen[j]; dup {
				continue
			}
			seen[j] = struct{}{}
			distinct = append(distinct, j)
		}
		t.nbrs[i] = distinct
	}
	return t
}

// compute runs every measure over t.
func compute(ctx context.Context, t topology, workers int) ([]graph.Centrality, error) {
	n := len(t.refs)
	scores := make([]graph.Centrality, n)
	if n == 0 {
		return scores, nil
	}

	between, closeness, err := shortestPathMeasures(ctx, t, workers)
	if err != nil {
		return nil, err
	}
	pr, err := pageRank(ctx, t)
	if err != nil {
		return nil, err
	}
	degree := degreeCentrality(t)
	eigen := eigenvectorApprox(t)

	for i := range scores {
		scores[i] = graph.Centrality{
			Degree:      degree[i],
			Betweenness: clamp01(between[i]),
			Closeness:   clamp01(closeness[i]),
			Eigenvector: eigen[i],
			PageRank:    clamp01(pr[i]),
		}
	}
	return scores, nil
}

// degreeCentrality is |neighbours| / (V-1).
func degreeCentrality(t topology) []float64 {
	n := len(t.refs)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	for i, nb := range t.nbrs {
		out[i] = float64(len(nb)) / float64(n-1)
	}
	return out
}

// eigenvectorApprox averages the neighbours' degree and normalises by
// V-1. A single pass stands in for power iteration.
func eigenvectorApprox(t topology) []float64 {
	n := len(t.refs)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	for i, nb := range t.nbrs {
		if len(nb) == 0 {
			continue
		}
		sum := 0
		for _, j := range nb {
			sum += len(t.nbrs[j])
		}
		out[i] = min(float64(sum)/(float64(len(nb))*float64(n-1)), 1)
	}
	return out
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
