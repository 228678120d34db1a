// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package regkg assembles the regulatory knowledge graph service: the
// graph store with its temporal history and the analyzers that read it,
// plus optional snapshot, alerting and trend integrations. Handlers and
// the CLI talk to the Service only.
package regkg

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRegKG/pkg/validation"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/alerts"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/centrality"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/conflict"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/embedding"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/inference"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/paths"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/snapshot"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/temporal"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/trends"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.regkg.service")

// Option configures optional Service integrations.
type Option func(*Service)

// WithSnapshotStore enables SaveSnapshot and LoadSnapshot. The service
// closes the store on Close.
func WithSnapshotStore(s snapshot.Store) Option {
	return func(svc *Service) { svc.snapshots = s }
}

// WithNotifier adds a conflict alert destination next to the built-in
// websocket hub.
func WithNotifier(n alerts.Notifier) Option {
	return func(svc *Service) { svc.notifiers = append(svc.notifiers, n) }
}

// WithTrendRecorder records centrality and conflict trends after each
// recompute. The service closes the recorder on Close.
func WithTrendRecorder(r *trends.Recorder) Option {
	return func(svc *Service) { svc.trends = r }
}

// WithConflictDetector replaces the graph conflict detector.
func WithConflictDetector(d conflict.Detector) Option {
	return func(svc *Service) { svc.conflicts = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// WithClock overrides the graph clock. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(svc *Service) { svc.clock = clock }
}

// Service is the regulatory knowledge graph engine.
//
// Thread Safety: Safe for concurrent use. Mutations serialize on the
// graph write lock; analyses run under its read lock.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger
	clock  func() time.Time

	graph      *graph.Graph
	history    *temporal.Tracker
	centrality *centrality.Analyzer
	conflicts  conflict.Detector
	paths      *paths.Finder
	inference  *inference.Engine
	context    inference.ContextAnalyzer

	hub       *alerts.Hub
	notifiers []alerts.Notifier
	monitor   *alerts.Monitor
	snapshots snapshot.Store
	trends    *trends.Recorder

	closed atomic.Bool
}

// NewService builds the engine from cfg.
//
// Description:
//
//	Creates the graph with a hash embedder of the configured size,
//	attaches the temporal tracker, and wires the analyzers to it. The
//	inference ontology is loaded from cfg.Inference.OntologyPath or the
//	embedded default.
//
// Outputs:
//   - *Service: Ready for use. Call Close when done.
//   - error: Invalid inference configuration or ontology.
func NewService(cfg ServiceConfig, opts ...Option) (*Service, error) {
	svc := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	svc.logger = svc.logger.With(slog.String("component", "regkg.service"))

	graphOpts := []graph.GraphOption{
		graph.WithMaxNodes(cfg.Graph.MaxNodes),
		graph.WithMaxEdges(cfg.Graph.MaxEdges),
	}
	if svc.clock != nil {
		graphOpts = append(graphOpts, graph.WithClock(svc.clock))
	}
	svc.graph = graph.NewGraph(embedding.NewHashEmbedder(cfg.Graph.EmbeddingDimensions), graphOpts...)
	svc.history = temporal.Attach(svc.graph)

	centralityOpts := []centrality.Option{centrality.WithLogger(svc.logger)}
	if cfg.Centrality.Workers > 0 {
		centralityOpts = append(centralityOpts, centrality.WithWorkers(cfg.Centrality.Workers))
	}
	svc.centrality = centrality.NewAnalyzer(svc.graph, centralityOpts...)

	if svc.conflicts == nil {
		conflictOpts := []conflict.Option{conflict.WithLogger(svc.logger)}
		if cfg.Conflicts.MaxPathsPerConflict > 0 {
			conflictOpts = append(conflictOpts, conflict.WithMaxPathsPerConflict(cfg.Conflicts.MaxPathsPerConflict))
		}
		svc.conflicts = conflict.NewGraphDetector(svc.graph, conflictOpts...)
	}

	pathOpts := []paths.Option{paths.WithLogger(svc.logger)}
	if cfg.Paths.MaxPaths > 0 {
		pathOpts = append(pathOpts, paths.WithMaxPaths(cfg.Paths.MaxPaths))
	}
	if svc.clock != nil {
		pathOpts = append(pathOpts, paths.WithClock(svc.clock))
	}
	svc.paths = paths.NewFinder(svc.graph, pathOpts...)

	engine, err := newInferenceEngine(svc.graph, cfg.Inference, svc.logger)
	if err != nil {
		return nil, err
	}
	svc.inference = engine
	svc.context = inference.NewGraphContextAnalyzer(svc.graph)

	svc.hub = alerts.NewHub(0, svc.logger)
	svc.monitor = alerts.NewMonitor(alerts.Multi(append([]alerts.Notifier{svc.hub}, svc.notifiers...)...), svc.logger)
	return svc, nil
}

func newInferenceEngine(g *graph.Graph, cfg InferenceConfig, logger *slog.Logger) (*inference.Engine, error) {
	ontology, err := inference.LoadOntology(cfg.OntologyPath)
	if err != nil {
		return nil, fmt.Errorf("loading ontology: %w", err)
	}
	prop, err := inference.ParsePropagator(cfg.Propagator)
	if err != nil {
		return nil, err
	}
	opts := []inference.Option{
		inference.WithOntology(ontology),
		inference.WithPropagator(prop),
		inference.WithCacheSize(cfg.CacheSize),
		inference.WithLogger(logger),
	}
	if cfg.Depth > 0 {
		opts = append(opts, inference.WithReasoningDepth(cfg.Depth))
	}
	if cfg.MaxFacts > 0 {
		opts = append(opts, inference.WithMaxFacts(cfg.MaxFacts))
	}
	return inference.NewEngine(g, opts...)
}

// Graph returns the underlying store.
func (s *Service) Graph() *graph.Graph { return s.graph }

// Hub returns the websocket hub streaming conflict alerts.
func (s *Service) Hub() *alerts.Hub { return s.hub }

// Config returns the configuration the service was built with.
func (s *Service) Config() ServiceConfig { return s.cfg }

// =============================================================================
// Mutations
// =============================================================================

// IngestFramework adds or refreshes a framework and its requirements.
// It satisfies ingest.Sink so watchers and queue consumers feed the
// service directly.
func (s *Service) IngestFramework(ctx context.Context, f *graph.NormativeFramework) (graph.NodeRef, error) {
	if s.closed.Load() {
		return graph.NodeRef{}, ErrClosed
	}
	ref, err := s.graph.IngestFramework(ctx, f)
	if err != nil {
		return ref, err
	}
	s.logger.Info("framework ingested",
		slog.String("framework_id", f.ID),
		slog.Int("requirements", len(f.Requirements)))
	return ref, nil
}

// UpsertNode creates or updates a node and returns its stored state.
func (s *Service) UpsertNode(ctx context.Context, id string, t graph.NodeType, props map[string]any) (graph.KnowledgeNode, error) {
	if s.closed.Load() {
		return graph.KnowledgeNode{}, ErrClosed
	}
	if _, err := s.graph.UpsertNode(ctx, id, t, props); err != nil {
		return graph.KnowledgeNode{}, err
	}
	n, _ := s.graph.GetNode(id)
	return n, nil
}

// AddEdge links two existing entities.
func (s *Service) AddEdge(ctx context.Context, fromID, toID string, e graph.KnowledgeEdge) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.graph.AddEdge(ctx, fromID, toID, e)
	return err
}

// RemoveNode deletes an entity and its edges. History is kept.
func (s *Service) RemoveNode(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.graph.RemoveNode(ctx, id)
}

// =============================================================================
// Queries
// =============================================================================

// GetNode returns the current state of an entity.
func (s *Service) GetNode(id string) (graph.KnowledgeNode, error) {
	n, ok := s.graph.GetNode(id)
	if !ok {
		return graph.KnowledgeNode{}, graph.NotFound(id)
	}
	return n, nil
}

// SemanticSearch ranks nodes by similarity to query.
func (s *Service) SemanticSearch(ctx context.Context, query string, limit int) ([]graph.SemanticSearchResult, error) {
	return s.graph.SemanticSearch(ctx, query, limit)
}

// UpdateCentrality recomputes every centrality measure and, when a trend
// recorder is configured, records the new scores. Recording failures are
// logged and do not fail the recompute.
func (s *Service) UpdateCentrality(ctx context.Context) (centrality.Result, error) {
	res, err := s.centrality.Update(ctx)
	if err != nil {
		return res, err
	}
	if s.trends != nil {
		if err := s.trends.RecordGraph(ctx, s.graph); err != nil {
			s.logger.Warn("recording centrality trends failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// TopInfluencers ranks nodes by a stored centrality measure.
func (s *Service) TopInfluencers(ctx context.Context, measure string, k int) ([]centrality.Ranked, error) {
	m, err := centrality.ParseMeasure(measure)
	if err != nil {
		return nil, err
	}
	return s.centrality.TopK(ctx, m, k)
}

// CentralityHistory returns recorded centrality samples for an entity.
func (s *Service) CentralityHistory(ctx context.Context, id string, window time.Duration) ([]trends.CentralityPoint, error) {
	if s.trends == nil {
		return nil, ErrTrendsDisabled
	}
	return s.trends.CentralityHistory(ctx, id, window)
}

// DetectConflicts scans the graph for conflicts.
//
// Description:
//
//	Conflicts not reported by an earlier scan are announced to the
//	websocket hub and any configured notifiers. Alert delivery and trend
//	recording failures are logged and do not fail the scan.
func (s *Service) DetectConflicts(ctx context.Context) ([]conflict.ConflictPath, error) {
	ctx, span := tracer.Start(ctx, "Service.DetectConflicts")
	defer span.End()

	revision := s.graph.Revision()
	found, err := s.conflicts.DetectConflicts(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("conflicts.found", len(found)))

	if _, err := s.monitor.Observe(ctx, revision, found); err != nil {
		s.logger.Warn("conflict alerts not delivered", slog.String("error", err.Error()))
	}
	if s.trends != nil {
		if err := s.trends.RecordConflicts(ctx, found); err != nil {
			s.logger.Warn("recording conflict trends failed", slog.String("error", err.Error()))
		}
	}
	return found, nil
}

// FindRegulatoryPath enumerates simple paths from source to target.
func (s *Service) FindRegulatoryPath(ctx context.Context, sourceID, targetID string) ([]paths.RegulatoryPath, error) {
	return s.paths.FindRegulatoryPath(ctx, sourceID, targetID)
}

// AnalyzeCompliancePath assesses an entity against target frameworks.
func (s *Service) AnalyzeCompliancePath(ctx context.Context, entityID string, frameworkIDs []string) (paths.CompliancePath, error) {
	return s.paths.AnalyzeCompliancePath(ctx, entityID, frameworkIDs)
}

// DetectRegulatoryGaps reports coverage gaps for a jurisdiction.
func (s *Service) DetectRegulatoryGaps(ctx context.Context, jurisdiction, sector string) ([]paths.RegulatoryGap, error) {
	return s.paths.DetectRegulatoryGaps(ctx, jurisdiction, sector)
}

// TemporalQuery returns node versions matching c.
func (s *Service) TemporalQuery(ctx context.Context, c temporal.Constraint) ([]temporal.TemporalResult, error) {
	return s.history.Query(ctx, c)
}

// NodeHistory returns every recorded version of an entity, including
// versions of removed entities.
func (s *Service) NodeHistory(id string) ([]temporal.VersionedNode, error) {
	h := s.history.History(id)
	if len(h) == 0 {
		return nil, graph.NotFound(id)
	}
	return h, nil
}

// InferRelationships runs the rule engine. With apply set the inferred
// facts are also written back as edges.
func (s *Service) InferRelationships(ctx context.Context, apply bool) (inference.InferenceResult, int, error) {
	res, err := s.inference.Infer(ctx)
	if err != nil || !apply || len(res.Facts) == 0 {
		return res, 0, err
	}
	n, err := s.inference.Apply(ctx, res.Facts)
	if err != nil {
		return res, 0, err
	}
	s.logger.Info("inferred relationships applied", slog.Int("edges", n))
	return res, n, nil
}

// RegulatoryContext summarizes the regulatory neighborhood of an entity.
func (s *Service) RegulatoryContext(ctx context.Context, id string) (inference.RegulatoryContext, error) {
	return s.context.AnalyzeContext(ctx, id)
}

// Stats summarizes the graph.
func (s *Service) Stats(ctx context.Context) graph.GraphStats {
	return s.graph.Stats(ctx)
}

// =============================================================================
// Snapshots
// =============================================================================

// SaveSnapshot stores the graph and its history under name.
func (s *Service) SaveSnapshot(ctx context.Context, name string) (snapshot.Info, error) {
	if s.snapshots == nil {
		return snapshot.Info{}, ErrSnapshotsDisabled
	}
	if err := validation.ValidateSnapshotName(name); err != nil {
		return snapshot.Info{}, &graph.ValidationError{Field: "name", Value: name, Reason: err.Error()}
	}
	info, err := s.snapshots.Save(ctx, name, snapshot.Capture(ctx, s.graph, s.history))
	if err != nil {
		return snapshot.Info{}, err
	}
	s.logger.Info("snapshot saved",
		slog.String("name", info.Name),
		slog.Uint64("revision", info.Revision),
		slog.Int64("bytes", info.Size))
	return info, nil
}

// LoadSnapshot replaces the graph and its history with a stored snapshot.
// Conflict alert state is reset so the restored graph is reported fresh.
func (s *Service) LoadSnapshot(ctx context.Context, name string) error {
	if s.snapshots == nil {
		return ErrSnapshotsDisabled
	}
	snap, err := s.snapshots.Load(ctx, name)
	if err != nil {
		return err
	}
	if err := snap.Restore(ctx, s.graph, s.history); err != nil {
		return err
	}
	s.monitor.Reset()
	s.logger.Info("snapshot restored",
		slog.String("name", name),
		slog.Int("nodes", s.graph.NodeCount()))
	return nil
}

// ListSnapshots lists stored snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.Info, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	return s.snapshots.List(ctx)
}

// Close disconnects stream subscribers and releases the integrations.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.hub.Close()
	if s.trends != nil {
		s.trends.Close()
	}
	if s.snapshots != nil {
		return s.snapshots.Close()
	}
	return nil
}
