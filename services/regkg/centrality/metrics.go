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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regkg_centrality_recompute_duration_seconds",
		Help:    "Duration of full centrality recomputes",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})

	recomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regkg_centrality_recompute_total",
		Help: "Centrality recomputes by outcome",
	}, []string{"outcome"})
)

func recordRecompute(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "aborted"
	}
	recomputeDuration.Observe(d.Seconds())
	recomputeTotal.WithLabelValues(outcome).Inc()
}
