// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policystore

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/mitchellh/hashstructure/v2"
)

// Assembler composes per-agent policy bundles from a Store. It holds
// no state of its own — bundle assembly is pure given the Store's
// current contents, so a single Assembler may be called concurrently
// by many in-flight sync requests .
type Assembler struct {
	store  *Store
	logger *slog.Logger
}

// NewAssembler binds an Assembler to a Store.
func NewAssembler(store *Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: store, logger: logger}
}

// versionTuple is the identifying+timestamp shape spec §4.2 hashes to
// produce a bundle version: (policy_id, updated_at, enabled, type).
type versionTuple struct {
	PolicyID  string
	UpdatedAt int64 // unix nanos: avoids time.Time's monotonic-reading field leaking into the hash
	Enabled   bool
	Type      wire.PolicyType
}

// ComputeVersion hashes the ordered set of enabled policies' identity
// and timestamp tuples into a single stable string. Two stores whose
// enabled policies are identical up to this tuple — regardless of map
// iteration order — hash identically .
func ComputeVersion(policies []wire.Policy) (string, error) {
	tuples := make([]versionTuple, 0, len(policies))
	for _, p := range policies {
		tuples = append(tuples, versionTuple{
			PolicyID:  p.PolicyID,
			UpdatedAt: p.UpdatedAt.UnixNano(),
			Enabled:   p.Enabled,
			Type:      p.Type,
		})
	}
	sort.Slice(tuples, func(i, j int) bool { return tuples[i].PolicyID < tuples[j].PolicyID })

	h, err := hashstructure.Hash(tuples, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hash bundle version: %w", err)
	}
	return fmt.Sprintf("%016x", h), nil
}

// Sync implements spec §4.2's bundle assembly algorithm:
//  1. Load all enabled policies (platform scoping: see design note
//     below — the Policy record carries no platform attribute, so
//     every enabled policy is "applicable" to every platform; only
//     the response's own Platform field records what was requested).
//  2. Compute the deterministic version.
//  3. Short-circuit to {status: up_to_date} if unchanged.
//  4. Otherwise transform and group every policy by type.
//
// A policy whose config fails to decode is excluded and logged, never
// failing the whole bundle .
func (a *Assembler) Sync(agentID string, platform wire.Platform, installedVersion string) (wire.BundleResponse, error) {
	enabled := a.store.snapshot()

	version, err := ComputeVersion(enabled)
	if err != nil {
		return wire.BundleResponse{}, err
	}
	if version == installedVersion {
		return wire.UpToDateResponse(), nil
	}

	grouped := make(map[wire.PolicyType][]wire.PolicyWire)
	count := 0
	for _, p := range enabled {
		wirePolicy, err := p.ToWire()
		if err != nil {
			a.logger.Warn("excluding policy from bundle: invalid config",
				slog.String("policy_id", p.PolicyID),
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()))
			continue
		}
		grouped[p.Type] = append(grouped[p.Type], wirePolicy)
		count++
	}
	for t := range grouped {
		sort.Slice(grouped[t], func(i, j int) bool { return grouped[t][i].ID < grouped[t][j].ID })
	}

	return wire.BundleResponse{
		Version:     version,
		PolicyCount: count,
		Platform:    platform,
		Policies:    grouped,
	}, nil
}
