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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regkg_inference_duration_seconds",
		Help:    "Duration of uncached inference runs",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	})

	inferredFacts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regkg_inferred_facts_total",
		Help: "Facts derived by inference runs",
	})

	inferenceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regkg_inference_cache_hits_total",
		Help: "Inference results served from the revision cache",
	})

	inferredEdgesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regkg_inferred_edges_applied_total",
		Help: "Inferred facts written back as edges",
	})
)

func recordInference(d time.Duration, facts int) {
	inferenceDuration.Observe(d.Seconds())
	inferredFacts.Add(float64(facts))
}
