// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trends records centrality, graph shape and conflict counts as
// InfluxDB time series so influence can be tracked across recomputes.
package trends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRegKG/pkg/validation"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/conflict"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCentrality = "regkg_centrality"
	MeasurementGraph      = "regkg_graph"
	MeasurementConflicts  = "regkg_conflicts"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// CentralityPoint is one recorded centrality sample for an entity.
type CentralityPoint struct {
	Time       time.Time        `json:"time"`
	Centrality graph.Centrality `json:"centrality"`
}

// Recorder writes and reads trend series.
//
// Thread Safety: Safe for concurrent use.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecorder connects to InfluxDB and checks its health.
func NewRecorder(ctx context.Context, cfg InfluxConfig, logger *slog.Logger) (*Recorder, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx not ready: status %s", health.Status)
	}
	r := newRecorder(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.QueryAPI(cfg.Org), cfg.Bucket, logger)
	r.client = client
	return r, nil
}

func newRecorder(w api.WriteAPIBlocking, q api.QueryAPI, bucket string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		writeAPI: w,
		queryAPI: q,
		bucket:   bucket,
		logger:   logger.With(slog.String("component", "regkg.trends")),
		now:      time.Now,
	}
}

// RecordGraph writes one point per node with its stored centrality and
// one point with the graph statistics, all stamped with the same time.
func (r *Recorder) RecordGraph(ctx context.Context, g *graph.Graph) error {
	at := r.now().UTC()
	var points []*write.Point
	_ = g.View(ctx, func(rd graph.Reader) error {
		points = make([]*write.Point, 0, rd.NodeCount()+1)
		for _, n := range rd.Nodes() {
			points = append(points, centralityPoint(n, at))
		}
		points = append(points, statsPoint(rd.Stats(), at))
		return nil
	})
	if err := r.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing graph trends: %w", err)
	}
	r.logger.Debug("graph trends recorded", slog.Int("points", len(points)))
	return nil
}

func centralityPoint(n *graph.KnowledgeNode, at time.Time) *write.Point {
	c := n.Centrality
	return influxdb2.NewPointWithMeasurement(MeasurementCentrality).
		AddTag("entity_id", n.ID).
		AddTag("node_type", n.Type.String()).
		AddField("degree", c.Degree).
		AddField("betweenness", c.Betweenness).
		AddField("closeness", c.Closeness).
		AddField("eigenvector", c.Eigenvector).
		AddField("pagerank", c.PageRank).
		SetTime(at)
}

func statsPoint(s graph.GraphStats, at time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(MeasurementGraph).
		AddField("nodes", int64(s.NodeCount)).
		AddField("edges", int64(s.EdgeCount)).
		AddField("density", s.Density).
		AddField("average_degree", s.AverageDegree).
		AddField("components", int64(s.Components)).
		AddField("revision", int64(s.Revision)).
		SetTime(at)
}

// RecordConflicts writes the number of conflicts found per kind together
// with their mean severity.
func (r *Recorder) RecordConflicts(ctx context.Context, conflicts []conflict.ConflictPath) error {
	at := r.now().UTC()
	counts := make(map[conflict.Kind]int)
	severity := make(map[conflict.Kind]float64)
	for _, c := range conflicts {
		counts[c.Kind]++
		severity[c.Kind] += c.ConflictSeverity
	}
	kinds := []conflict.Kind{conflict.KindExplicit, conflict.KindSemantic, conflict.KindTemporal, conflict.KindAuthority}
	points := make([]*write.Point, 0, len(kinds))
	for _, k := range kinds {
		mean := 0.0
		if counts[k] > 0 {
			mean = severity[k] / float64(counts[k])
		}
		points = append(points, influxdb2.NewPointWithMeasurement(MeasurementConflicts).
			AddTag("kind", string(k)).
			AddField("count", int64(counts[k])).
			AddField("mean_severity", mean).
			SetTime(at))
	}
	if err := r.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing conflict trends: %w", err)
	}
	return nil
}

// CentralityHistory returns the centrality samples of entityID recorded
// within the last window, oldest first.
func (r *Recorder) CentralityHistory(ctx context.Context, entityID string, window time.Duration) ([]CentralityPoint, error) {
	if err := validation.ValidateEntityID(entityID); err != nil {
		return nil, &graph.ValidationError{Field: "entity_id", Value: entityID, Reason: err.Error()}
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	query := fmt.Sprintf(`
        from(bucket: %s)
          |> range(start: -%ds)
          |> filter(fn: (r) => r._measurement == %s)
          |> filter(fn: (r) => r.entity_id == %s)
          |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
          |> sort(columns: ["_time"])
    `, fluxString(r.bucket), int64(window/time.Second), fluxString(MeasurementCentrality), fluxString(entityID))

	result, err := r.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying centrality history: %w", err)
	}
	out := []CentralityPoint{}
	if result == nil {
		return out, nil
	}
	defer result.Close()
	for result.Next() {
		rec := result.Record()
		p := CentralityPoint{Time: rec.Time()}
		p.Centrality.Degree, _ = rec.ValueByKey("degree").(float64)
		p.Centrality.Betweenness, _ = rec.ValueByKey("betweenness").(float64)
		p.Centrality.Closeness, _ = rec.ValueByKey("closeness").(float64)
		p.Centrality.Eigenvector, _ = rec.ValueByKey("eigenvector").(float64)
		p.Centrality.PageRank, _ = rec.ValueByKey("pagerank").(float64)
		out = append(out, p)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("reading centrality history: %w", result.Err())
	}
	return out, nil
}

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

// Close releases the InfluxDB client.
func (r *Recorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}
