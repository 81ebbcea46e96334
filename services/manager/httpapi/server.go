// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httpapi is the manager's HTTP surface: every endpoint spec
// §6 names, plus the supplemented /metrics and cloud-intake routes
// . Routing follows the reference orchestrator's
// routes/handlers split (services/orchestrator/routes/routes.go,
// services/orchestrator/handlers/agent.go): Server.setupRoutes
// registers the Server's own handler methods, which reach their
// dependencies through the Server's deps field.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/cybersentinel/core/pkg/extensions"
	"github.com/cybersentinel/core/services/classifier"
	"github.com/cybersentinel/core/services/manager/eventlog"
	"github.com/cybersentinel/core/services/manager/policystore"
	"github.com/cybersentinel/core/services/manager/registry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gin-gonic/gin"
)

// Deps bundles every component the HTTP surface dispatches into. None
// of these types import httpapi, keeping the dependency direction
// pointing inward per the reference's own service layering.
type Deps struct {
	Registry   *registry.Registry
	Policies   *policystore.Store
	Assembler  *policystore.Assembler
	Events     *eventlog.Log
	Ingestor   *eventlog.Ingestor
	Classifier *classifier.Classifier
	Options    extensions.ServiceOptions
	Logger     *slog.Logger
}

// Server holds the manager's routed gin.Engine plus the dependencies
// its handlers close over.
type Server struct {
	Engine    *gin.Engine
	deps      Deps
	metrics   *metrics
	startedAt time.Time
}

// New builds a Server with routes registered, ready for
// Engine.Run(addr) or serving via net/http.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("cybersentinel-manager"))

	s := &Server{
		Engine:    engine,
		deps:      deps,
		metrics:   newMetrics(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Engine.GET("/health", s.handleHealth)
	s.Engine.GET("/ready", s.handleReady)
	s.Engine.GET("/metrics", s.metrics.handler())

	v1 := s.Engine.Group("/api/v1")
	v1.Use(AuthMiddleware(s.deps.Options.AuthProvider))
	{
		agents := v1.Group("/agents")
		{
			agents.POST("", s.handleRegister)
			agents.PUT("/:agent_id/heartbeat", s.handleHeartbeat)
			agents.DELETE("/:agent_id/unregister", s.handleUnregister)
			agents.POST("/:agent_id/policies/sync", s.handlePolicySync)
		}

		events := v1.Group("/events")
		{
			events.POST("", s.handleIngestEvent)
			events.GET("", s.handleListEvents)
			events.POST("/cloud", s.handleCloudEvent)
		}

		policies := v1.Group("/policies")
		{
			policies.POST("", s.handleCreatePolicy)
			policies.GET("", s.handleListPolicies)
			policies.GET("/:policy_id", s.handleGetPolicy)
			policies.PUT("/:policy_id", s.handleUpdatePolicy)
			policies.DELETE("/:policy_id", s.handleDeletePolicy)
			policies.POST("/:policy_id/enable", s.handleEnablePolicy)
			policies.POST("/:policy_id/disable", s.handleDisablePolicy)
			policies.GET("/stats/summary", s.handleStatsSummary)
		}
	}
}
