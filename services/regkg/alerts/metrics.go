// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regkg_conflict_alerts_total",
		Help: "Conflicts reported to alert notifiers by outcome",
	}, []string{"outcome"})

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regkg_conflict_stream_clients",
		Help: "Connected conflict stream subscribers",
	})

	streamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regkg_conflict_stream_dropped_total",
		Help: "Stream subscribers disconnected for falling behind",
	})
)
