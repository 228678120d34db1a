// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for store operations.
var (
	tracer = otel.Tracer("aleutian.regkg.graph")
	meter  = otel.Meter("aleutian.regkg.graph")
)

var (
	txnLatency   metric.Float64Histogram
	txnTotal     metric.Int64Counter
	queryLatency metric.Float64Histogram
	frameworksIn metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		txnLatency, err = meter.Float64Histogram(
			"regkg_graph_txn_duration_seconds",
			metric.WithDescription("Duration of write transactions including lock wait"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		txnTotal, err = meter.Int64Counter(
			"regkg_graph_txn_total",
			metric.WithDescription("Write transactions by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"regkg_graph_query_duration_seconds",
			metric.WithDescription("Duration of read queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		frameworksIn, err = meter.Int64Counter(
			"regkg_frameworks_ingested_total",
			metric.WithDescription("Frameworks applied to the graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordTxnMetrics(ctx context.Context, duration time.Duration, committed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("committed", committed))
	txnLatency.Record(ctx, duration.Seconds(), attrs)
	txnTotal.Add(ctx, 1, attrs)
}

func recordQueryMetrics(ctx context.Context, queryType string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	queryLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("query_type", queryType)),
	)
}

func recordFrameworkIngested(ctx context.Context, jurisdiction string) {
	if err := initMetrics(); err != nil {
		return
	}
	frameworksIn.Add(ctx, 1, metric.WithAttributes(attribute.String("jurisdiction", jurisdiction)))
}
