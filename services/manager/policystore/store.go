// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policystore implements the manager's Policy Store and Bundle
// Assembler : CRUD over versioned policies plus the pure,
// deterministic transformation into a per-agent, per-platform bundle.
package policystore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/cybersentinel/core/pkg/wire"
	"github.com/google/uuid"
)

// Store holds the authoritative set of policies, keyed by policy_id.
// Like Registry, it is safe for concurrent use; a persistence layer
// can wrap it to survive restarts without changing this contract.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*wire.Policy
}

// New returns an empty Store.
func New() *Store {
	return &Store{policies: make(map[string]*wire.Policy)}
}

// Create validates and inserts a new policy, generating a policy_id if
// the caller did not supply one.
func (s *Store) Create(p wire.Policy, now time.Time) (*wire.Policy, error) {
	if p.PolicyID == "" {
		p.PolicyID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("create policy: %w: %w", dlperrors.ErrInvalidPolicyConfig, err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.PolicyID]; exists {
		return nil, fmt.Errorf("create policy: policy_id %s already exists", p.PolicyID)
	}
	s.policies[p.PolicyID] = &p
	out := p
	return &out, nil
}

// Update replaces an existing policy's mutable fields, preserving
// policy_id and created_at .
func (s *Store) Update(policyID string, p wire.Policy, now time.Time) (*wire.Policy, error) {
	p.PolicyID = policyID
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("update policy: %w: %w", dlperrors.ErrInvalidPolicyConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("update policy %s: not found", policyID)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now
	s.policies[policyID] = &p
	out := p
	return &out, nil
}

// Get returns one policy by id.
func (s *Store) Get(policyID string) (*wire.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("get policy %s: not found", policyID)
	}
	out := *existing
	return &out, nil
}

// Delete removes a policy outright (policies, unlike agents, have no
// soft-delete requirement in spec §3).
func (s *Store) Delete(policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policyID]; !ok {
		return fmt.Errorf("delete policy %s: not found", policyID)
	}
	delete(s.policies, policyID)
	return nil
}

// setEnabled flips a policy's enabled flag and bumps updated_at —
// every write updates updated_at .
func (s *Store) setEnabled(policyID string, enabled bool, now time.Time) (*wire.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("set enabled on policy %s: not found", policyID)
	}
	existing.Enabled = enabled
	existing.UpdatedAt = now
	out := *existing
	return &out, nil
}

// Enable marks a policy enabled.
func (s *Store) Enable(policyID string, now time.Time) (*wire.Policy, error) {
	return s.setEnabled(policyID, true, now)
}

// Disable marks a policy disabled.
func (s *Store) Disable(policyID string, now time.Time) (*wire.Policy, error) {
	return s.setEnabled(policyID, false, now)
}

// List returns every policy, sorted by policy_id for stable output.
func (s *Store) List() []wire.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out
}

// Stats is the shape returned by GET /policies/stats/summary: totals
// grouped by enabled/disabled and by policy type.
type Stats struct {
	Total    int            `json:"total"`
	Enabled  int            `json:"enabled"`
	Disabled int            `json:"disabled"`
	ByType   map[string]int `json:"by_type"`
}

// Summary computes the aggregate counts spec §4.2 "summary-stats"
// names.
func (s *Store) Summary() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByType: make(map[string]int)}
	for _, p := range s.policies {
		stats.Total++
		if p.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByType[string(p.Type)]++
	}
	return stats
}

// snapshot returns every enabled policy, independent of platform
// filtering, used internally by the bundle assembler and by the
// manager's event re-evaluation path .
func (s *Store) snapshot() []wire.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Enabled {
			out = append(out, *p)
		}
	}
	return out
}

// EnabledPolicies exposes the enabled-policy snapshot for callers
// outside this package (the event ingestor's re-evaluation path).
func (s *Store) EnabledPolicies() []wire.Policy {
	return s.snapshot()
}
