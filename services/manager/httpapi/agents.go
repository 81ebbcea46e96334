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

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req wire.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	agent, err := s.deps.Registry.Register(req.AgentID, req.Name, req.Hostname, req.OS, req.OSVersion, req.IPAddress, req.Version, req.Capabilities, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	agentID := c.Param("agent_id")
	var req wire.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	agent, err := s.deps.Registry.Heartbeat(agentID, req.Timestamp, req.IPAddress, req.PolicyVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleUnregister(c *gin.Context) {
	agentID := c.Param("agent_id")
	if err := s.deps.Registry.Unregister(agentID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
}

func (s *Server) handlePolicySync(c *gin.Context) {
	agentID := c.Param("agent_id")
	var req wire.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	if _, err := s.deps.Registry.Get(agentID); err != nil {
		respondError(c, err)
		return
	}

	bundle, err := s.deps.Assembler.Sync(agentID, req.Platform, req.InstalledVersion)
	if err != nil {
		respondError(c, err)
		return
	}

	outcome := "updated"
	if bundle.Status == "up_to_date" {
		outcome = "up_to_date"
	}
	s.metrics.bundleSyncTotal.WithLabelValues(outcome).Inc()

	c.JSON(http.StatusOK, bundle)
}
