// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"testing"
	"time"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/stretchr/testify/require"
)

func TestRegister_IdempotentUpsert(t *testing.T) {
	r := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := r.Register("agent-1", "host-a", "host-a.local", "linux", "6.1", "10.0.0.1", "1.0.0", []string{"file"}, now)
	require.NoError(t, err)
	require.Equal(t, now, a.FirstSeen)

	a2, err := r.Register("agent-1", "host-a-renamed", "host-a.local", "linux", "6.1", "10.0.0.2", "1.0.1", []string{"file", "clipboard"}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, now, a2.FirstSeen, "first_seen must not change on re-registration")
	require.Equal(t, "host-a-renamed", a2.Name)

	require.Len(t, r.ListAll(), 1)
}

func TestRegister_EmptyIdentityRejected(t *testing.T) {
	r := New()
	_, err := r.Register("", "n", "h", "linux", "", "", "", nil, time.Now())
	require.ErrorIs(t, err, dlperrors.ErrInvalidIdentity)
}

func TestHeartbeat_UnknownAgentRejected(t *testing.T) {
	r := New()
	_, err := r.Heartbeat("ghost", time.Now(), "", "")
	require.ErrorIs(t, err, dlperrors.ErrUnknownAgent)
}

func TestHeartbeat_LastSeenMonotonic(t *testing.T) {
	r := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := r.Register("agent-1", "n", "h", "linux", "", "", "", nil, now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	_, err = r.Heartbeat("agent-1", later, "", "")
	require.NoError(t, err)

	earlier := now.Add(time.Minute)
	a, err := r.Heartbeat("agent-1", earlier, "", "")
	require.NoError(t, err)
	require.Equal(t, later, a.LastSeen, "last_seen must never move backward")
}

func TestListActive_RespectsLivenessWindow(t *testing.T) {
	r := New().WithLivenessWindow(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.Register("fresh", "n", "h", "linux", "", "", "", nil, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = r.Register("stale", "n", "h", "linux", "", "", "", nil, now.Add(-10*time.Minute))
	require.NoError(t, err)

	active := r.ListActive(now)
	require.Len(t, active, 1)
	require.Equal(t, "fresh", active[0].AgentID)
}

func TestUnregister_SoftDeletesRecord(t *testing.T) {
	r := New()
	now := time.Now()
	_, err := r.Register("agent-1", "n", "h", "linux", "", "", "", nil, now)
	require.NoError(t, err)

	require.NoError(t, r.Unregister("agent-1"))
	require.Len(t, r.ListActive(now), 0)

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	require.False(t, got.Active)
}
