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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conflictsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regkg_conflicts_detected_total",
		Help: "Conflicts reported by detection rule",
	}, []string{"kind"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "regkg_conflict_scan_duration_seconds",
		Help:    "Duration of full conflict scans",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
