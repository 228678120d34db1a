// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regkg_ingest_documents_total",
		Help: "Framework documents processed by source and outcome",
	}, []string{"source", "outcome"})

	watcherDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regkg_ingest_watcher_dropped_total",
		Help: "File events dropped because the debounce buffer was full",
	})
)
