// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1 endpoints.
//
// Endpoints:
//
//	POST /v1/triage      - Run the pipeline on an intake
//	GET  /v1/triage      - List recent audited results
//	GET  /v1/triage/:id  - Fetch an audited result
//	GET  /v1/packs       - List packs
//	GET  /v1/packs/:id   - Describe one pack
//	GET  /v1/health      - Health and circuit state
//
// Admission limiting applies to POST /v1/triage only.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, admission gin.HandlerFunc) {
	triage := rg.Group("/triage")
	{
		if admission != nil {
			triage.POST("", admission, handlers.HandleTriage)
		} else {
			triage.POST("", handlers.HandleTriage)
		}
		triage.GET("", handlers.HandleListTriage)
		triage.GET("/:id", handlers.HandleGetTriage)
	}

	rg.GET("/packs", handlers.HandleListPacks)
	rg.GET("/packs/:id", handlers.HandleGetPack)
	rg.GET("/health", handlers.HandleHealth)
}

// RouterConfig tunes NewRouter.
type RouterConfig struct {
	ServiceName   string
	RatePerSecond float64
	Burst         int
	MaxBodyBytes  int64
	Debug         bool
	Logger        *slog.Logger
}

// NewRouter builds the gin engine with recovery, tracing, request logging,
// body limits, the /v1 routes and /metrics.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aleutian-triage"
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(RequestLogMiddleware(cfg.Logger))
	router.Use(BodyLimitMiddleware(cfg.MaxBodyBytes))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	var admission gin.HandlerFunc
	if cfg.RatePerSecond > 0 {
		admission = AdmissionMiddleware(NewClientLimiter(cfg.RatePerSecond, cfg.Burst))
	}
	RegisterRoutes(router.Group("/v1"), handlers, admission)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
