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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all regkg routes with the router.
//
// Description:
//
//	Registers all /v1/regkg/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Graph Endpoints:
//
//	POST   /v1/regkg/frameworks - Ingest a normative framework
//	PUT    /v1/regkg/nodes/:id - Create or update a node
//	GET    /v1/regkg/nodes/:id - Get a node
//	DELETE /v1/regkg/nodes/:id - Remove a node and its edges
//	GET    /v1/regkg/nodes/:id/history - Version history of a node
//	GET    /v1/regkg/nodes/:id/context - Regulatory context of a node
//	POST   /v1/regkg/edges - Add an edge
//	GET    /v1/regkg/search - Semantic search
//	GET    /v1/regkg/stats - Graph statistics
//
// Analysis Endpoints:
//
//	POST /v1/regkg/centrality - Recompute centrality
//	GET  /v1/regkg/centrality/top - Top influencers by measure
//	GET  /v1/regkg/trends/:id - Recorded centrality history
//	GET  /v1/regkg/conflicts - Detect conflicts
//	GET  /v1/regkg/conflicts/stream - Websocket stream of new conflicts
//	GET  /v1/regkg/paths - Regulatory paths between two entities
//	POST /v1/regkg/compliance - Compliance path analysis
//	GET  /v1/regkg/gaps - Regulatory gap detection
//	POST /v1/regkg/temporal - Temporal query
//	POST /v1/regkg/inference - Rule-based inference
//
// Snapshot Endpoints:
//
//	POST /v1/regkg/snapshot - Save a snapshot
//	GET  /v1/regkg/snapshots - List snapshots
//	POST /v1/regkg/snapshots/:name/restore - Restore a snapshot
//
// Health Endpoints:
//
//	GET /v1/regkg/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	kg := rg.Group("/regkg")
	{
		kg.POST("/frameworks", handlers.HandleIngestFramework)

		nodes := kg.Group("/nodes")
		{
			nodes.PUT("/:id", handlers.HandleUpsertNode)
			nodes.GET("/:id", handlers.HandleGetNode)
			nodes.DELETE("/:id", handlers.HandleDeleteNode)
			nodes.GET("/:id/history", handlers.HandleNodeHistory)
			nodes.GET("/:id/context", handlers.HandleNodeContext)
		}
		kg.POST("/edges", handlers.HandleAddEdge)
		kg.GET("/search", handlers.HandleSearch)
		kg.GET("/stats", handlers.HandleStats)

		kg.POST("/centrality", handlers.HandleUpdateCentrality)
		kg.GET("/centrality/top", handlers.HandleTopInfluencers)
		kg.GET("/trends/:id", handlers.HandleCentralityTrend)

		kg.GET("/conflicts", handlers.HandleDetectConflicts)
		kg.GET("/conflicts/stream", gin.WrapH(handlers.svc.Hub()))

		kg.GET("/paths", handlers.HandleFindPaths)
		kg.POST("/compliance", handlers.HandleCompliance)
		kg.GET("/gaps", handlers.HandleGaps)
		kg.POST("/temporal", handlers.HandleTemporalQuery)
		kg.POST("/inference", handlers.HandleInference)

		kg.POST("/snapshot", handlers.HandleSaveSnapshot)
		kg.GET("/snapshots", handlers.HandleListSnapshots)
		kg.POST("/snapshots/:name/restore", handlers.HandleRestoreSnapshot)

		kg.GET("/health", handlers.HandleHealth)
	}
}
