// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eventlog implements the manager's Event Log and Event
// Ingestor : an append-mostly store of reported events,
// indexed for the filtered listing operations spec §6 exposes, fed
// through an ingestion path that validates, de-duplicates, and
// re-evaluates each event against the manager's current policy set.
package eventlog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cybersentinel/core/pkg/wire"
)

// Log is an in-memory, mutex-guarded store of events keyed by
// event_id, with secondary indices by agent_id for GET /events
// filtering. Like Registry and Store, a persistence layer can wrap it
// for durability without changing this contract.
type Log struct {
	mu      sync.RWMutex
	byID    map[string]*wire.Event
	order   []string // insertion order, oldest first
	byAgent map[string][]string
}

// New returns an empty Log.
func New() *Log {
	return &Log{
		byID:    make(map[string]*wire.Event),
		byAgent: make(map[string][]string),
	}
}

// Exists reports whether event_id has already been recorded — the
// check the Ingestor uses for spec §4.3's idempotency guarantee.
func (l *Log) Exists(eventID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byID[eventID]
	return ok
}

// Append stores a new event. Callers must have already checked Exists;
// Append itself does not error on a duplicate id, it simply overwrites
// — the Ingestor is the single writer that enforces idempotency.
func (l *Log) Append(e wire.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[e.EventID]; !exists {
		l.order = append(l.order, e.EventID)
		l.byAgent[e.AgentID] = append(l.byAgent[e.AgentID], e.EventID)
	}
	stored := e
	l.byID[e.EventID] = &stored
}

// Get returns one event by id.
func (l *Log) Get(eventID string) (*wire.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[eventID]
	if !ok {
		return nil, false
	}
	out := *e
	return &out, true
}

// Filter narrows GET /api/v1/events by the optional query parameters
// spec §6 lists: agent_id, event_type, severity, a time range, and q, a
// free-text search over the fields an operator would actually read off
// an event row (file name/path, device name, user email, description,
// detected-content samples).
type Filter struct {
	AgentID   string
	EventType wire.EventType
	Severity  wire.Severity
	Since     time.Time
	Until     time.Time
	Query     string
	Limit     int
	Offset    int
}

// matchesQuery reports whether q (already lowercased) appears in any of
// the free-text fields an operator searches events by.
func matchesQuery(e *wire.Event, q string) bool {
	if strings.Contains(strings.ToLower(e.FileName), q) ||
		strings.Contains(strings.ToLower(e.FilePath), q) ||
		strings.Contains(strings.ToLower(e.DeviceName), q) ||
		strings.Contains(strings.ToLower(e.UserEmail), q) ||
		strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, sample := range e.DetectedContent {
		if strings.Contains(strings.ToLower(sample), q) {
			return true
		}
	}
	return false
}

// List returns events matching filter, newest first, along with the
// total count matching the filter before pagination.
func (l *Log) List(f Filter) wire.EventListResponse {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	if f.AgentID != "" {
		ids = l.byAgent[f.AgentID]
	} else {
		ids = l.order
	}

	query := strings.ToLower(strings.TrimSpace(f.Query))

	matched := make([]wire.Event, 0, len(ids))
	for _, id := range ids {
		e, ok := l.byID[id]
		if !ok {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		if query != "" && !matchesQuery(e, query) {
			continue
		}
		matched = append(matched, *e)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	total := len(matched)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	return wire.EventListResponse{Events: matched, Total: total}
}

// Count returns the total number of stored events, used by the
// manager's /ready readiness detail.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
