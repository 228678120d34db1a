// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regkg

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/middleware"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/snapshot"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/temporal"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	defaultTopK        = 10
	defaultTrendWindow = 7 * 24 * time.Hour
)

// Handlers contains the HTTP handlers for the regkg service.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{
		svc:    svc,
		logger: svc.logger.With(slog.String("component", "regkg.http")),
	}
}

// getOrCreateRequestID returns the caller's X-Request-ID or a new one,
// echoing it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// errorStatus maps service errors to an HTTP status and error code.
//
// Not-found and stale-version errors are checked before ErrValidation
// because both are wrapped in a ValidationError.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, graph.ErrNodeNotFound), errors.Is(err, graph.ErrEdgeNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, snapshot.ErrNotFound):
		return http.StatusNotFound, "SNAPSHOT_NOT_FOUND"
	case errors.Is(err, graph.ErrStaleVersion):
		return http.StatusConflict, "STALE_VERSION"
	case errors.Is(err, graph.ErrMaxNodesExceeded), errors.Is(err, graph.ErrMaxEdgesExceeded):
		return http.StatusInsufficientStorage, "CAPACITY_EXCEEDED"
	case errors.Is(err, graph.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, graph.ErrNotImplemented):
		return http.StatusNotImplemented, "NOT_IMPLEMENTED"
	case errors.Is(err, ErrSnapshotsDisabled), errors.Is(err, ErrTrendsDisabled):
		return http.StatusNotImplemented, "DISABLED"
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// fail writes err as an ErrorResponse. Server-side failures are logged at
// error level, client errors at warn.
func fail(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
	} else {
		logger.Warn(msg, slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: msg, Code: code, Details: err.Error()})
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request", slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	logger := h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler))
	if p := middleware.Principal(c); p != "" {
		logger = logger.With(slog.String("principal", p))
	}
	return logger
}

// queryInt parses an optional positive integer query parameter.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}

// =============================================================================
// Graph mutation
// =============================================================================

// HandleIngestFramework handles POST /v1/regkg/frameworks.
//
// Description:
//
//	Adds or refreshes a normative framework and its requirements.
//
// Request Body:
//
//	graph.NormativeFramework
//
// Response:
//
//	201 Created: IngestResponse
//	400 Bad Request: Validation error
//	409 Conflict: Older version than the stored framework
func (h *Handlers) HandleIngestFramework(c *gin.Context) {
	logger := h.requestLogger(c, "HandleIngestFramework")

	var f graph.NormativeFramework
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c, logger, err)
		return
	}
	if _, err := h.svc.IngestFramework(c.Request.Context(), &f); err != nil {
		fail(c, logger, "Framework ingestion failed", err)
		return
	}
	c.JSON(http.StatusCreated, IngestResponse{
		EntityID:     f.ID,
		Requirements: len(f.Requirements),
		Revision:     h.svc.graph.Revision(),
	})
}

// HandleUpsertNode handles PUT /v1/regkg/nodes/:id.
func (h *Handlers) HandleUpsertNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpsertNode")

	var req UpsertNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	node, err := h.svc.UpsertNode(c.Request.Context(), c.Param("id"), *req.Type, req.Properties)
	if err != nil {
		fail(c, logger, "Node upsert failed", err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleDeleteNode handles DELETE /v1/regkg/nodes/:id.
func (h *Handlers) HandleDeleteNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDeleteNode")

	if err := h.svc.RemoveNode(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, logger, "Node removal failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleAddEdge handles POST /v1/regkg/edges.
//
// Request Body:
//
//	AddEdgeRequest
//
// Response:
//
//	201 Created: The stored edge
//	400 Bad Request: Unknown endpoint or invalid edge attributes
func (h *Handlers) HandleAddEdge(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAddEdge")

	var req AddEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	if err := h.svc.AddEdge(c.Request.Context(), req.From, req.To, req.KnowledgeEdge); err != nil {
		fail(c, logger, "Edge creation failed", err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// =============================================================================
// Node queries
// =============================================================================

// HandleGetNode handles GET /v1/regkg/nodes/:id.
func (h *Handlers) HandleGetNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetNode")

	node, err := h.svc.GetNode(c.Param("id"))
	if err != nil {
		fail(c, logger, "Node lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleNodeHistory handles GET /v1/regkg/nodes/:id/history.
func (h *Handlers) HandleNodeHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNodeHistory")

	versions, err := h.svc.NodeHistory(c.Param("id"))
	if err != nil {
		fail(c, logger, "History lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": c.Param("id"), "versions": versions})
}

// HandleNodeContext handles GET /v1/regkg/nodes/:id/context.
func (h *Handlers) HandleNodeContext(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNodeContext")

	rc, err := h.svc.RegulatoryContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, logger, "Context analysis failed", err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

// HandleSearch handles GET /v1/regkg/search.
//
// Query Parameters:
//
//	q - Free-text query (required)
//	limit - Maximum results (default 10, max 100)
func (h *Handlers) HandleSearch(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSearch")

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, logger, errors.New("q is required"))
		return
	}
	limit, err := queryInt(c, "limit", defaultSearchLimit)
	if err != nil {
		badRequest(c, logger, err)
		return
	}
	limit = min(limit, maxSearchLimit)

	results, err := h.svc.SemanticSearch(c.Request.Context(), q, limit)
	if err != nil {
		fail(c, logger, "Search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "results": results})
}

// =============================================================================
// Analysis
// =============================================================================

// HandleUpdateCentrality handles POST /v1/regkg/centrality.
func (h *Handlers) HandleUpdateCentrality(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateCentrality")

	res, err := h.svc.UpdateCentrality(c.Request.Context())
	if err != nil {
		fail(c, logger, "Centrality update failed", err)
		return
	}
	logger.Info("Centrality updated",
		slog.Int("nodes", res.NodeCount),
		slog.Duration("duration", res.Duration))
	c.JSON(http.StatusOK, gin.H{
		"node_count":  res.NodeCount,
		"revision":    res.Revision,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

// HandleTopInfluencers handles GET /v1/regkg/centrality/top.
//
// Query Parameters:
//
//	measure - degree, betweenness, closeness, eigenvector or pagerank
//	k - Number of results (default 10)
func (h *Handlers) HandleTopInfluencers(c *gin.Context) {
	logger := h.requestLogger(c, "HandleTopInfluencers")

	k, err := queryInt(c, "k", defaultTopK)
	if err != nil {
		badRequest(c, logger, err)
		return
	}
	measure := c.DefaultQuery("measure", "pagerank")
	ranked, err := h.svc.TopInfluencers(c.Request.Context(), measure, k)
	if err != nil {
		fail(c, logger, "Ranking failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"measure": measure, "results": ranked})
}

// HandleCentralityTrend handles GET /v1/regkg/trends/:id.
//
// Query Parameters:
//
//	window - Go duration to look back (default 168h)
func (h *Handlers) HandleCentralityTrend(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCentralityTrend")

	window := defaultTrendWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(c, logger, errors.New("window must be a positive duration"))
			return
		}
		window = d
	}
	points, err := h.svc.CentralityHistory(c.Request.Context(), c.Param("id"), window)
	if err != nil {
		fail(c, logger, "Trend query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": c.Param("id"), "points": points})
}

// HandleDetectConflicts handles GET /v1/regkg/conflicts.
func (h *Handlers) HandleDetectConflicts(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDetectConflicts")

	found, err := h.svc.DetectConflicts(c.Request.Context())
	if err != nil {
		fail(c, logger, "Conflict detection failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(found), "conflicts": found})
}

// HandleFindPaths handles GET /v1/regkg/paths.
//
// Query Parameters:
//
//	from - Source entity ID (required)
//	to - Target entity ID (required)
func (h *Handlers) HandleFindPaths(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFindPaths")

	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		badRequest(c, logger, errors.New("from and to are required"))
		return
	}
	found, err := h.svc.FindRegulatoryPath(c.Request.Context(), from, to)
	if err != nil {
		fail(c, logger, "Path search failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "paths": found})
}

// HandleCompliance handles POST /v1/regkg/compliance.
func (h *Handlers) HandleCompliance(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCompliance")

	var req ComplianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	cp, err := h.svc.AnalyzeCompliancePath(c.Request.Context(), req.EntityID, req.FrameworkIDs)
	if err != nil {
		fail(c, logger, "Compliance analysis failed", err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// HandleGaps handles GET /v1/regkg/gaps.
//
// Query Parameters:
//
//	jurisdiction - Jurisdiction to assess (required)
//	sector - Optional sector filter
func (h *Handlers) HandleGaps(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGaps")

	jurisdiction := c.Query("jurisdiction")
	if jurisdiction == "" {
		badRequest(c, logger, errors.New("jurisdiction is required"))
		return
	}
	gaps, err := h.svc.DetectRegulatoryGaps(c.Request.Context(), jurisdiction, c.Query("sector"))
	if err != nil {
		fail(c, logger, "Gap analysis failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jurisdiction": jurisdiction, "gaps": gaps})
}

// HandleTemporalQuery handles POST /v1/regkg/temporal.
//
// Request Body:
//
//	temporal.Constraint
func (h *Handlers) HandleTemporalQuery(c *gin.Context) {
	logger := h.requestLogger(c, "HandleTemporalQuery")

	var q temporal.Constraint
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, logger, err)
		return
	}
	results, err := h.svc.TemporalQuery(c.Request.Context(), q)
	if err != nil {
		fail(c, logger, "Temporal query failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// HandleInference handles POST /v1/regkg/inference.
//
// Query Parameters:
//
//	apply - When true, inferred facts are written back as edges
func (h *Handlers) HandleInference(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInference")

	apply, _ := strconv.ParseBool(c.DefaultQuery("apply", "false"))
	res, applied, err := h.svc.InferRelationships(c.Request.Context(), apply)
	if err != nil {
		fail(c, logger, "Inference failed", err)
		return
	}
	c.JSON(http.StatusOK, InferenceResponse{InferenceResult: res, Applied: applied})
}

// HandleStats handles GET /v1/regkg/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}

// =============================================================================
// Snapshots
// =============================================================================

// HandleSaveSnapshot handles POST /v1/regkg/snapshot.
//
// Response:
//
//	201 Created: snapshot.Info
//	501 Not Implemented: No snapshot store configured
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSaveSnapshot")

	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	info, err := h.svc.SaveSnapshot(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, logger, "Snapshot save failed", err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// HandleListSnapshots handles GET /v1/regkg/snapshots.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListSnapshots")

	infos, err := h.svc.ListSnapshots(c.Request.Context())
	if err != nil {
		fail(c, logger, "Snapshot listing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": infos})
}

// HandleRestoreSnapshot handles POST /v1/regkg/snapshots/:name/restore.
func (h *Handlers) HandleRestoreSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRestoreSnapshot")

	if err := h.svc.LoadSnapshot(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, logger, "Snapshot restore failed", err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}

// HandleHealth handles GET /v1/regkg/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	status := "healthy"
	if h.svc.closed.Load() {
		status = "shutting_down"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:   status,
		Version:  ServiceVersion,
		Nodes:    h.svc.graph.NodeCount(),
		Edges:    h.svc.graph.EdgeCount(),
		Revision: h.svc.graph.Revision(),
	})
}
