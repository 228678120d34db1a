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
	"log/slog"
	"math"
)

const (
	// PageRankIterations is the fixed number of power iterations.
	PageRankIterations = 10

	// DampingFactor is the probability of following an arc rather than
	// teleporting.
	DampingFactor = 0.85
)

// pageRank runs PageRankIterations rounds of power iteration over the
// arcs of t.
//
// Description:
//
//	Scores start uniform at 1/V. Each round every node keeps (1-d)/V,
//	pushes d·score/outDegree along each of its arcs, and sink nodes
//	(no arcs) spread d·score evenly over all nodes, so the scores keep
//	summing to 1. Parallel edges count once per arc.
func pageRank(ctx context.Context, t topology) ([]float64, error) {
	n := len(t.refs)
	if n == 0 {
		return nil, nil
	}
	N := float64(n)
	d := DampingFactor

	scores := make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1 / N
	}

	var maxDiff float64
	for iter := 0; iter < PageRankIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sink := 0.0
		for i, arcs := range t.arcs {
			if len(arcs) == 0 {
				sink += scores[i]
			}
		}
		base := (1-d)/N + d*sink/N
		for i := range next {
			next[i] = base
		}
		for i, arcs := range t.arcs {
			if len(arcs) == 0 {
				continue
			}
			share := d * scores[i] / float64(len(arcs))
			for _, j := range arcs {
				next[j] += share
			}
		}

		maxDiff = 0
		for i := range next {
			maxDiff = max(maxDiff, math.Abs(next[i]-scores[i]))
		}
		scores, next = next, scores
	}

	slog.Debug("PageRank completed",
		slog.Int("iterations", PageRankIterations),
		slog.Float64("max_diff", maxDiff),
		slog.Int("node_count", n),
	)
	return scores, nil
}
