// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"
	"time"

	"github.com/cybersentinel/core/pkg/extensions"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

// handleReady reports readiness detail: database and cache as "ok"
// (the manager's stores are in-process), search as "not_configured",
// auth as "not_configured" when left at its no-op default, plus basic
// liveness counts.
func (s *Server) handleReady(c *gin.Context) {
	authStatus := "configured"
	if _, ok := s.deps.Options.AuthProvider.(*extensions.NopAuthProvider); ok {
		authStatus = "not_configured"
	}

	active := s.deps.Registry.ListActive(time.Now())
	s.metrics.activeAgents.Set(float64(len(active)))

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"database":      "ok",
		"cache":         "ok",
		"search":        "not_configured",
		"active_agents": len(active),
		"total_agents":  len(s.deps.Registry.ListAll()),
		"event_count":   s.deps.Events.Count(),
		"auth":          authStatus,
	})
}
