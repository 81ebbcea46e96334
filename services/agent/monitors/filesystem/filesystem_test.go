// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package filesystem

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cybersentinel/core/pkg/storage/badgerkv"
	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/cache"
	"github.com/cybersentinel/core/services/agent/enforcer"
	"github.com/cybersentinel/core/services/classifier"
)

// fakeSink collects every emitted event for assertions instead of
// handing them to a real uploader.
type fakeSink struct {
	mu     sync.Mutex
	events []wire.Event
}

func (s *fakeSink) Emit(e wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) wait(t *testing.T, n int) []wire.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.events)
		s.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Event, len(s.events))
	copy(out, s.events)
	return out
}

func ssnQuarantinePolicy(root, quarantineDir string) wire.Policy {
	return wire.Policy{
		PolicyID: "p1",
		Type:     wire.PolicyTypeFileSystem,
		Severity: wire.SeverityCritical,
		Enabled:  true,
		Config: map[string]any{
			"monitoredPaths":  []string{root},
			"monitoredEvents": []string{"file_modified", "file_created", "file_deleted"},
			"patterns":        map[string]any{"predefined": []string{"ssn"}},
			"action":          "quarantine",
			"quarantinePath":  quarantineDir,
			"minMatchCount":   1,
		},
	}
}

// newTestStack builds a Monitor-facing ContentCache and an Enforcer
// sharing one underlying Badger database, mirroring how cmd/agent
// wires them in production: the monitor's own Cache and the
// Enforcer's internal cache must see the same baselined content.
func newTestStack(t *testing.T, restorer enforcer.Restorer) (*cache.ContentCache, *enforcer.Enforcer) {
	t.Helper()
	db, err := badgerkv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	monitorCache, err := cache.OpenWith(db, 0, nil)
	require.NoError(t, err)
	enforcerCache, err := cache.OpenWith(db, 0, nil)
	require.NoError(t, err)
	journal, err := cache.OpenRestorationJournalWith(db, nil)
	require.NoError(t, err)

	enf := enforcer.New(nil, enforcerCache, journal).WithRestorer(restorer)
	return monitorCache, enf
}

// neverRestorer never invokes scheduled restorations, keeping these
// tests focused on the monitor's own event-emission behavior rather
// than the Enforcer's restoration timing.
type neverRestorer struct{}

func (neverRestorer) Schedule(time.Time, func()) {}

// syncRestorer runs a scheduled restoration immediately and
// synchronously, so a test can assert on the restored file without
// waiting on a timer.
type syncRestorer struct{}

func (syncRestorer) Schedule(_ time.Time, fn func()) { fn() }

func TestMonitor_ScenarioA_BaselineThenModifyQuarantines(t *testing.T) {
	root := t.TempDir()
	quarantineDir := t.TempDir()
	path := filepath.Join(root, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("nothing sensitive yet"), 0640))

	cls, err := classifier.New()
	require.NoError(t, err)
	sink := &fakeSink{}
	policies := []wire.Policy{ssnQuarantinePolicy(root, quarantineDir)}
	monitorCache, enf := newTestStack(t, neverRestorer{})

	m, err := New(Config{
		Classifier: cls,
		Enforcer:   enf,
		Cache:      monitorCache,
		Sink:       sink,
		Policies:   func() []wire.Policy { return policies },
		AgentID:    "agent-1",
	})
	require.NoError(t, err)

	m.Baseline([]string{root})
	require.NoError(t, m.Start([]string{root}))
	defer m.Stop()

	require.NoError(t, os.WriteFile(path, []byte("my SSN is 123-45-6789"), 0640))

	events := sink.wait(t, 1)
	require.Len(t, events, 1)
	require.Equal(t, "file_modified", events[0].EventSubtype)
	require.Equal(t, "quarantined", events[0].Action)
	require.Contains(t, events[0].DataTypes, "ssn")

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "the quarantined file must be moved out of the monitored path")
}

func TestMonitor_ScenarioB_DeleteInterceptionRestoresFromCache(t *testing.T) {
	root := t.TempDir()
	quarantineDir := t.TempDir()
	path := filepath.Join(root, "report.txt")
	original := []byte("my SSN is 123-45-6789")
	require.NoError(t, os.WriteFile(path, original, 0640))

	cls, err := classifier.New()
	require.NoError(t, err)
	sink := &fakeSink{}
	policies := []wire.Policy{ssnQuarantinePolicy(root, quarantineDir)}
	monitorCache, enf := newTestStack(t, syncRestorer{})

	m, err := New(Config{
		Classifier: cls,
		Enforcer:   enf,
		Cache:      monitorCache,
		Sink:       sink,
		Policies:   func() []wire.Policy { return policies },
		AgentID:    "agent-1",
	})
	require.NoError(t, err)

	m.Baseline([]string{root}) // deposits original bytes into the cache
	require.NoError(t, m.Start([]string{root}))
	defer m.Stop()

	require.NoError(t, os.Remove(path))

	events := sink.wait(t, 1)
	require.Len(t, events, 1)
	require.Equal(t, "file_deleted", events[0].EventSubtype)
	require.Equal(t, "quarantined_on_delete", events[0].Action)

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

func TestMonitor_UntouchedPathIsNotSuppressed(t *testing.T) {
	_, enf := newTestStack(t, neverRestorer{})
	m := &Monitor{enforcer: enf}
	require.False(t, m.enforcer.IsSuppressed("/some/path"))
}

func TestMatchesAnyPolicy_RespectsExtensionFilter(t *testing.T) {
	root := t.TempDir()
	m := &Monitor{}
	policies := []wire.Policy{{
		Type:    wire.PolicyTypeFileSystem,
		Enabled: true,
		Config: map[string]any{
			"monitoredPaths": []string{root},
			"fileExtensions": []string{".txt"},
			"action":         "alert",
		},
	}}

	require.True(t, m.matchesAnyPolicy(filepath.Join(root, "a.txt"), policies))
	require.False(t, m.matchesAnyPolicy(filepath.Join(root, "a.bin"), policies))
}
