// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/StepChain/services/stepchain/analysis"
	"github.com/AleutianAI/StepChain/services/stepchain/engine"
	"github.com/AleutianAI/StepChain/services/stepchain/execlog"
	"github.com/AleutianAI/StepChain/services/stepchain/handlers"
	"github.com/AleutianAI/StepChain/services/stepchain/observability"
	"github.com/AleutianAI/StepChain/services/stepchain/planner"
	"github.com/AleutianAI/StepChain/services/stepchain/registry"
)

// Deps carries everything the routes need. All fields are required except
// Metrics, which may be nil to run unmetered.
type Deps struct {
	Registry *registry.Registry
	Engine   *engine.Engine
	Planner  *planner.Planner
	Journal  *execlog.Service
	Digests  *analysis.Service
	Metrics  *observability.EngineMetrics
}

// SetupRoutes registers the StepChain API on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		chains := v1.Group("/chains")
		{
			chains.POST("", handlers.CreateChain(deps.Registry, deps.Planner, deps.Metrics))
			chains.GET("/:chain_id", handlers.GetChain(deps.Registry))
			chains.POST("/:chain_id/poll", handlers.PollChain(deps.Registry, deps.Engine, deps.Journal, deps.Metrics))
			chains.GET("/:chain_id/result", handlers.GetResult(deps.Journal))
			chains.GET("/:chain_id/digest", handlers.GetDigest(deps.Digests))
		}
	}
}
