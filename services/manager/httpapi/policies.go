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

func (s *Server) handleCreatePolicy(c *gin.Context) {
	var p wire.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Policies.Create(p, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policies": s.deps.Policies.List()})
}

func (s *Server) handleGetPolicy(c *gin.Context) {
	p, err := s.deps.Policies.Get(c.Param("policy_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdatePolicy(c *gin.Context) {
	var p wire.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := s.deps.Policies.Update(c.Param("policy_id"), p, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeletePolicy(c *gin.Context) {
	if err := s.deps.Policies.Delete(c.Param("policy_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleEnablePolicy(c *gin.Context) {
	p, err := s.deps.Policies.Enable(c.Param("policy_id"), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDisablePolicy(c *gin.Context) {
	p, err := s.deps.Policies.Disable(c.Param("policy_id"), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleStatsSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Policies.Summary())
}
