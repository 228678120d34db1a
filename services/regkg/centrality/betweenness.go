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
	"sync"

	"golang.org/x/sync/errgroup"
)

// shortestPathMeasures computes betweenness and closeness with one BFS per
// source node (Brandes' algorithm on an unweighted graph).
//
// Description:
//
//	Sources are striped across workers. Each worker keeps its own
//	dependency accumulator and merges it once at the end, so the hot
//	loop takes no lock. Closeness for a source is written only by the
//	worker that owns it.
//
//	Betweenness sums pair dependencies over ordered (s, t) pairs and
//	divides by (V-1)(V-2)/2. When edges are traversable both ways each
//	pair counts twice, so scores can exceed 1; the caller clamps them.
//
//	Closeness is reachable / Σ distance over the nodes reachable from
//	the source, 0 for a node that reaches nothing.
//
// Thread Safety: t is read-only here.
func shortestPathMeasures(ctx context.Context, t topology, workers int) (between, closeness []float64, err error) {
	n := len(t.refs)
	between = make([]float64, n)
	closeness = make([]float64, n)
	if n < 2 {
		return between, closeness, nil
	}
	workers = min(workers, n)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			b := newBrandesState(n)
			for s := w; s < n; s += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				closeness[s] = b.run(t, int32(s))
			}
			mu.Lock()
			for i, v := range b.acc {
				between[i] += v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if n > 2 {
		norm := float64(n-1) * float64(n-2) / 2
		for i := range between {
			between[i] /= norm
		}
	} else {
		clear(between)
	}
	return between, closeness, nil
}

// brandesState holds per-worker scratch buffers reused across sources.
type brandesState struct {
	acc   []float64
	dist  []int32
	sigma []float64
	delta []float64
	preds [][]int32
	order []int32
	queue []int32
}

func newBrandesState(n int) *brandesState {
	return &brandesState{
		acc:   make([]float64, n),
		dist:  make([]int32, n),
		sigma: make([]float64, n),
		delta: make([]float64, n),
		preds: make([][]int32, n),
		order: make([]int32, 0, n),
		queue: make([]int32, 0, n),
	}
}

// run processes one source, adds its dependencies to acc, and returns the
// source's closeness.
func (b *brandesState) run(t topology, s int32) float64 {
	for i := range b.dist {
		b.dist[i] = -1
		b.sigma[i] = 0
		b.delta[i] = 0
		b.preds[i] = b.preds[i][:0]
	}
	b.order = b.order[:0]
	b.queue = append(b.queue[:0], s)
	b.dist[s] = 0
	b.sigma[s] = 1

	reached, total := 0, 0
	for head := 0; head < len(b.queue); head++ {
		v := b.queue[head]
		b.order = append(b.order, v)
		if v != s {
			reached++
			total += int(b.dist[v])
		}
		for _, w := range t.nbrs[v] {
			if b.dist[w] < 0 {
				b.dist[w] = b.dist[v] + 1
				b.queue = append(b.queue, w)
			}
			if b.dist[w] == b.dist[v]+1 {
				b.sigma[w] += b.sigma[v]
				b.preds[w] = append(b.preds[w], v)
			}
		}
	}

	for i := len(b.order) - 1; i >= 0; i-- {
		w := b.order[i]
		for _, v := range b.preds[w] {
			b.delta[v] += b.sigma[v] / b.sigma[w] * (1 + b.delta[w])
		}
		if w != s {
			b.acc[w] += b.delta[w]
		}
	}

	if total == 0 {
		return 0
	}
	return float64(reached) / float64(total)
}
