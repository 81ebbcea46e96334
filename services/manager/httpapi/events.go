// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/manager/cloudintake"
	"github.com/cybersentinel/core/services/manager/eventlog"
	"github.com/gin-gonic/gin"
)

// reEvaluate runs the manager-side classifier pass spec §4.3 step 3 /
// §9 describes. The manager only has what the agent already reported
// (detected_content samples), not the original file bytes, so
// re-evaluation classifies those samples joined together rather than
// re-reading source content — sufficient to confirm which of the
// manager's *current* policies would still match.
func (s *Server) reEvaluate(enabled []wire.Policy, e wire.Event) eventlog.ClassifyResult {
	if s.deps.Classifier == nil || len(e.DetectedContent) == 0 {
		return eventlog.ClassifyResult{}
	}
	content := []byte(joinSamples(e.DetectedContent))
	result := s.deps.Classifier.Classify(content, e.EventType, e.EventSubtype, enabled)
	return eventlog.ClassifyResult{
		MatchedPolicies: result.MatchedPolicies,
		PolicyActions:   result.PolicyActions,
	}
}

func joinSamples(samples []string) string {
	out := ""
	for i, s := range samples {
		if i > 0 {
			out += "\n"
		}
		out += s
	}
	return out
}

func (s *Server) handleIngestEvent(c *gin.Context) {
	var e wire.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stored, err := s.deps.Ingestor.Ingest(e, func(enabled []wire.Policy) eventlog.ClassifyResult {
		return s.reEvaluate(enabled, e)
	})
	if err != nil {
		if dlperrors.Classify(err) == dlperrors.KindDuplicateEvent {
			c.JSON(http.StatusOK, stored)
			return
		}
		s.metrics.eventsRejected.WithLabelValues(dlperrors.Classify(err).String()).Inc()
		respondError(c, err)
		return
	}
	s.metrics.eventsIngested.WithLabelValues(string(stored.EventType)).Inc()
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleCloudEvent(c *gin.Context) {
	sourceType := c.Query("source_type")
	if sourceType == "" {
		sourceType = "unknown"
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, err := cloudintake.Normalize(json.RawMessage(raw), sourceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stored, err := s.deps.Ingestor.Ingest(e, func(enabled []wire.Policy) eventlog.ClassifyResult {
		return s.reEvaluate(enabled, e)
	})
	if err != nil {
		if dlperrors.Classify(err) == dlperrors.KindDuplicateEvent {
			c.JSON(http.StatusOK, stored)
			return
		}
		respondError(c, err)
		return
	}
	s.metrics.eventsIngested.WithLabelValues(string(stored.EventType)).Inc()
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleListEvents(c *gin.Context) {
	f := eventlog.Filter{
		AgentID: c.Query("agent_id"),
		Query:   c.Query("q"),
	}
	if et := c.Query("event_type"); et != "" {
		f.EventType = wire.EventType(et)
	}
	if sev := c.Query("severity"); sev != "" {
		f.Severity = wire.Severity(sev)
	}
	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.Since = t
		}
	}
	if until := c.Query("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			f.Until = t
		}
	}
	f.Limit = queryInt(c, "limit", 100)
	f.Offset = queryInt(c, "offset", 0)

	c.JSON(http.StatusOK, s.deps.Events.List(f))
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
