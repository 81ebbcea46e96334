// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry implements the manager's Agent Registry :
// the in-memory record of enrolled endpoints, their heartbeats,
// capabilities, and installed policy bundle version.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/cybersentinel/core/pkg/wire"
)

// DefaultLivenessWindow is the period within which a heartbeat must
// arrive for an agent to be considered active .
const DefaultLivenessWindow = 5 * time.Minute

// Registry is an in-memory, mutex-guarded store of Agent records keyed
// by agent_id. Embedders needing durability wrap Registry with a
// persistence layer (e.g. snapshot to badgerkv on every write); the
// store contract itself — upsert keyed by agent_id, monotonic
// last_seen — does not require a particular backing store (spec §6
// "any durable store suffices").
type Registry struct {
	mu             sync.RWMutex
	agents         map[string]*wire.Agent
	livenessWindow time.Duration
}

// New returns an empty Registry using the default liveness window.
func New() *Registry {
	return &Registry{
		agents:         make(map[string]*wire.Agent),
		livenessWindow: DefaultLivenessWindow,
	}
}

// WithLivenessWindow overrides the default 5-minute liveness window.
func (r *Registry) WithLivenessWindow(d time.Duration) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.livenessWindow = d
	return r
}

func validAgentID(id string) bool {
	return strings.TrimSpace(id) != ""
}

// Register upserts the agent record keyed by agent_id (spec §4.1:
// idempotent). first_seen is set only the first time a given
// agent_id is seen; every subsequent call refreshes the mutable
// fields and last_seen.
func (r *Registry) Register(agentID, name, hostname, os, osVersion, ip, version string, capabilities []string, now time.Time) (*wire.Agent, error) {
	if !validAgentID(agentID) {
		return nil, fmt.Errorf("register: %w", dlperrors.ErrInvalidIdentity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[agentID]
	if !ok {
		existing = &wire.Agent{
			AgentID:   agentID,
			FirstSeen: now,
		}
		r.agents[agentID] = existing
	}
	existing.Name = name
	existing.Hostname = hostname
	existing.OS = os
	existing.OSVersion = osVersion
	existing.IPAddress = ip
	existing.Version = version
	existing.Capabilities = capabilities
	existing.LastSeen = now
	existing.Active = true

	out := *existing
	return &out, nil
}

// Heartbeat refreshes last_seen (and, optionally, ip/installed policy
// version) for a previously registered agent. last_seen is
// monotonically non-decreasing: a heartbeat older than the stored
// value is accepted but never moves last_seen backward (spec §4.1
// invariant).
func (r *Registry) Heartbeat(agentID string, timestamp time.Time, ip, installedPolicyVersion string) (*wire.Agent, error) {
	if !validAgentID(agentID) {
		return nil, fmt.Errorf("heartbeat: %w", dlperrors.ErrInvalidIdentity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("heartbeat agent %s: %w", agentID, dlperrors.ErrUnknownAgent)
	}
	if timestamp.After(existing.LastSeen) {
		existing.LastSeen = timestamp
	}
	if ip != "" {
		existing.IPAddress = ip
	}
	if installedPolicyVersion != "" {
		existing.InstalledPolicyVersion = installedPolicyVersion
	}
	existing.Active = true

	out := *existing
	return &out, nil
}

// Unregister marks the agent inactive without deleting its record —
// historical events referencing this agent_id remain attributable
// .
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("unregister agent %s: %w", agentID, dlperrors.ErrUnknownAgent)
	}
	existing.Active = false
	return nil
}

// Get returns the stored record for agentID.
func (r *Registry) Get(agentID string) (*wire.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", agentID, dlperrors.ErrUnknownAgent)
	}
	out := *existing
	return &out, nil
}

// ListActive returns every agent whose last_seen is within the
// configured liveness window of now (spec §4.1, §8 testable property
// 9). The "active_agents" count used elsewhere is exactly len() of
// this slice.
func (r *Registry) ListActive(now time.Time) []wire.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := now.Add(-r.livenessWindow)
	var out []wire.Agent
	for _, a := range r.agents {
		if a.Active && !a.LastSeen.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out
}

// ListAll returns every known agent record, active or not, primarily
// for operator diagnostics and the manager's /ready readiness detail.
func (r *Registry) ListAll() []wire.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]wire.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}
