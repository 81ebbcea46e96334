// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policystore

import (
	"testing"
	"time"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/stretchr/testify/require"
)

func filePolicy(id string, enabled bool) wire.Policy {
	return wire.Policy{
		PolicyID: id,
		Name:     "p-" + id,
		Type:     wire.PolicyTypeFileSystem,
		Severity: wire.SeverityHigh,
		Enabled:  enabled,
		Config: map[string]any{
			"monitoredPaths":  []string{"/tmp/watch"},
			"fileExtensions":  []string{".txt"},
			"monitoredEvents": []string{"file_modified"},
			"patterns":        map[string]any{"predefined": []string{"ssn"}},
			"action":          "quarantine",
			"minMatchCount":   1,
		},
	}
}

func clipboardPolicy(id string, enabled bool) wire.Policy {
	return wire.Policy{
		PolicyID: id,
		Name:     "p-" + id,
		Type:     wire.PolicyTypeClipboard,
		Severity: wire.SeverityMedium,
		Enabled:  enabled,
		Config: map[string]any{
			"patterns": map[string]any{"predefined": []string{"email"}},
			"action":   "alert",
		},
	}
}

func usbPolicy(id string, enabled bool) wire.Policy {
	return wire.Policy{
		PolicyID: id,
		Name:     "p-" + id,
		Type:     wire.PolicyTypeUSBDevice,
		Severity: wire.SeverityLow,
		Enabled:  enabled,
		Config: map[string]any{
			"events": map[string]any{"connect": true},
			"action": "block",
		},
	}
}

func TestBundle_DeterminismAcrossCalls(t *testing.T) {
	store := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Create(filePolicy("p1", true), now)
	require.NoError(t, err)
	_, err = store.Create(clipboardPolicy("p2", true), now)
	require.NoError(t, err)
	_, err = store.Create(usbPolicy("p3", false), now)
	require.NoError(t, err)

	asm := NewAssembler(store, nil)

	first, err := asm.Sync("agent-1", wire.PlatformLinux, "")
	require.NoError(t, err)
	second, err := asm.Sync("agent-2", wire.PlatformLinux, "")
	require.NoError(t, err)

	require.Equal(t, first.Version, second.Version)
	require.Equal(t, first.Policies, second.Policies)
	require.Equal(t, 2, first.PolicyCount) // p3 disabled, excluded

	// Enabling p3 changes the version.
	_, err = store.Enable("p3", now.Add(time.Minute))
	require.NoError(t, err)
	third, err := asm.Sync("agent-1", wire.PlatformLinux, "")
	require.NoError(t, err)
	require.NotEqual(t, first.Version, third.Version)

	// A subsequent call with the new version short-circuits.
	upToDate, err := asm.Sync("agent-1", wire.PlatformLinux, third.Version)
	require.NoError(t, err)
	require.Equal(t, "up_to_date", upToDate.Status)
	require.Empty(t, upToDate.Policies)
}

func TestBundle_InvalidConfigExcludedNotFatal(t *testing.T) {
	store := New()
	now := time.Now()
	bad := filePolicy("bad", true)
	delete(bad.Config, "action") // DecodeConfig requires action

	// Bypass Create's own validation by writing directly, simulating a
	// policy that was valid when written but whose config has since
	// drifted out of schema (e.g. manual store edit).
	store.mu.Lock()
	bad.UpdatedAt = now
	store.policies[bad.PolicyID] = &bad
	store.mu.Unlock()

	_, err := store.Create(filePolicy("good", true), now)
	require.NoError(t, err)

	asm := NewAssembler(store, nil)
	resp, err := asm.Sync("agent-1", wire.PlatformLinux, "")
	require.NoError(t, err)
	require.Equal(t, 1, resp.PolicyCount)
}

func TestStore_UpdatePreservesIdentity(t *testing.T) {
	store := New()
	now := time.Now()
	created, err := store.Create(filePolicy("p1", true), now)
	require.NoError(t, err)

	updated := filePolicy("p1", false)
	updated.Name = "renamed"
	out, err := store.Update("p1", updated, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, created.PolicyID, out.PolicyID)
	require.Equal(t, created.CreatedAt, out.CreatedAt)
	require.False(t, out.Enabled)
	require.Equal(t, "renamed", out.Name)
}

func TestStore_Summary(t *testing.T) {
	store := New()
	now := time.Now()
	_, _ = store.Create(filePolicy("p1", true), now)
	_, _ = store.Create(clipboardPolicy("p2", false), now)

	stats := store.Summary()
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Enabled)
	require.Equal(t, 1, stats.Disabled)
	require.Equal(t, 1, stats.ByType[string(wire.PolicyTypeFileSystem)])
}
