// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package enforcer

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
)

// syncRestorer runs every scheduled restoration immediately and
// synchronously, so tests never sleep waiting on the production
// timer-based Restorer.
type syncRestorer struct{}

func (syncRestorer) Schedule(_ time.Time, fn func()) { fn() }

// manualRestorer records what was scheduled without running it, so
// tests can assert on scheduling itself and fire restorations under
// their own control.
type manualRestorer struct {
	mu      sync.Mutex
	pending []func()
}

func (r *manualRestorer) Schedule(_ time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, fn)
}

func (r *manualRestorer) fireAll() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	db, err := badgerkv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	contentCache, err := cache.OpenWith(db, 0, nil)
	require.NoError(t, err)
	journal, err := cache.OpenRestorationJournalWith(db, nil)
	require.NoError(t, err)

	return New(nil, contentCache, journal).WithRestorer(syncRestorer{})
}

func TestQuarantine_AtMostOnePerPath(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("ssn 123-45-6789"), 0640))

	// Block the restorer so the first Quarantine call's defer hasn't yet
	// cleared beingQuarantine when the concurrent second call runs.
	blocking := &manualRestorer{}
	e.restorer = blocking

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	start := make(chan struct{})
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i] = e.Quarantine(path, filepath.Join(dir, "quarantine"))
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		switch o.Action {
		case "quarantined":
			succeeded++
		case "quarantine_failed":
			failed++
		}
	}
	// The beingQuarantine guard serializes the whole quarantine body, so
	// the second caller must observe the flag already set and bail out
	// before ever touching the filesystem.
	require.Equal(t, 1, succeeded, "exactly one concurrent quarantine of the same path may succeed")
	require.Equal(t, 1, failed)
}

func TestQuarantine_RejectsReentrantCallWhileInFlight(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0640))

	// Simulate an in-flight quarantine by setting the guard directly.
	e.quarantineMu.Lock()
	e.beingQuarantine[path] = true
	e.quarantineMu.Unlock()

	out := e.Quarantine(path, filepath.Join(dir, "quarantine"))
	require.Equal(t, "quarantine_failed", out.Action)
	require.Error(t, out.Err)
}

func TestQuarantine_RestorationFaithfullyReturnsOriginalBytes(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	original := []byte("contains SSN 123-45-6789")
	require.NoError(t, os.WriteFile(path, original, 0640))
	require.NoError(t, e.cache.Put(path, original))

	out := e.Quarantine(path, filepath.Join(dir, "quarantine"))
	require.Equal(t, "quarantined", out.Action)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "file must be moved out of place during quarantine")

	// syncRestorer already ran the scheduled restore synchronously.
	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

func TestQuarantine_NoCachedContentUsesRenameRestoration(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	original := []byte("contains SSN 123-45-6789")
	require.NoError(t, os.WriteFile(path, original, 0640))
	// Deliberately not cached: the Enforcer must fall back to moving the
	// quarantine file straight back rather than writing cached bytes.

	out := e.Quarantine(path, filepath.Join(dir, "quarantine"))
	require.Equal(t, "quarantined", out.Action)

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

func TestQuarantine_PinsOriginalContentAgainstEviction(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	original := []byte("pinned content")
	require.NoError(t, os.WriteFile(path, original, 0640))
	require.NoError(t, e.cache.Put(path, original))

	blocking := &manualRestorer{}
	e.restorer = blocking
	out := e.Quarantine(path, filepath.Join(dir, "quarantine"))
	require.Equal(t, "quarantined", out.Action)

	content, ok := e.cache.Get(path)
	require.True(t, ok, "pinned content must still be retrievable before restoration completes")
	require.Equal(t, original, content)
}

func TestInterceptDelete_QuarantinesFromCachedContentOnly(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "deleted.txt")
	original := []byte("SSN 123-45-6789")

	out := e.InterceptDelete(path, filepath.Join(dir, "quarantine"))
	require.Equal(t, "quarantine_failed", out.Action, "no cached content means nothing to save")

	require.NoError(t, e.cache.Put(path, original))
	out = e.InterceptDelete(path, filepath.Join(dir, "quarantine"))
	require.Equal(t, "quarantined_on_delete", out.Action)

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

func TestBlock_RemovesFileAndReportsDeleted(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "blocked.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0640))

	out := e.Block(path, "file_modified")
	require.Equal(t, "deleted", out.Action)
	require.NoError(t, out.Err)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestBlock_OnAlreadyDeletedFileIsNoop(t *testing.T) {
	e := newTestEnforcer(t)
	out := e.Block(filepath.Join(t.TempDir(), "gone.txt"), "file_deleted")
	require.Equal(t, "deleted", out.Action)
	require.NoError(t, out.Err)
}

func TestBlock_MissingFileReportsFailure(t *testing.T) {
	e := newTestEnforcer(t)
	out := e.Block(filepath.Join(t.TempDir(), "nope.txt"), "file_modified")
	require.Equal(t, "block_failed", out.Action)
	require.Error(t, out.Err)
}

func TestResolveAction_DelegatesPerAction(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()

	quarantineTarget := filepath.Join(dir, "q.txt")
	require.NoError(t, os.WriteFile(quarantineTarget, []byte("x"), 0640))
	out := e.ResolveAction(wire.ActionQuarantine, quarantineTarget, filepath.Join(dir, "quarantine"), "file_modified")
	require.Equal(t, "quarantined", out.Action)

	blockTarget := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(blockTarget, []byte("x"), 0640))
	out = e.ResolveAction(wire.ActionBlock, blockTarget, "", "file_modified")
	require.Equal(t, "deleted", out.Action)

	out = e.ResolveAction(wire.ActionAlert, "/irrelevant", "", "file_modified")
	require.Equal(t, "alert", out.Action)

	out = e.ResolveAction(wire.ActionLog, "/irrelevant", "", "file_modified")
	require.Equal(t, "log", out.Action)
}

func TestResolveAction_QuarantineOnDeleteUsesInterceptDelete(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "deleted.txt")
	require.NoError(t, e.cache.Put(path, []byte("content")))

	out := e.ResolveAction(wire.ActionQuarantine, path, filepath.Join(dir, "quarantine"), "file_deleted")
	require.Equal(t, "quarantined_on_delete", out.Action)
}

func TestScheduleRestore_UsesEnforcersOwnClockAndRestorer(t *testing.T) {
	e := newTestEnforcer(t)
	blocking := &manualRestorer{}
	e.restorer = blocking

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	fired := false
	e.ScheduleRestore(2*time.Minute, func() { fired = true })
	require.False(t, fired, "ScheduleRestore must not run fn synchronously")
	blocking.fireAll()
	require.True(t, fired)
}

func TestIsSuppressed_BeingQuarantinedAndRecentlyRestored(t *testing.T) {
	e := newTestEnforcer(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	path := "/some/path"
	require.False(t, e.IsSuppressed(path))

	e.quarantineMu.Lock()
	e.beingQuarantine[path] = true
	e.quarantineMu.Unlock()
	require.True(t, e.IsSuppressed(path))

	e.quarantineMu.Lock()
	delete(e.beingQuarantine, path)
	e.quarantineMu.Unlock()
	require.False(t, e.IsSuppressed(path))

	e.restoredMu.Lock()
	e.recentlyRestored[path] = now.Add(RecentlyRestoredGracePeriod)
	e.restoredMu.Unlock()
	require.True(t, e.IsSuppressed(path))

	e.now = func() time.Time { return now.Add(RecentlyRestoredGracePeriod + time.Second) }
	require.False(t, e.IsSuppressed(path), "grace period must expire")
}

func TestReplayPending_RestoresOverdueEntriesImmediately(t *testing.T) {
	e := newTestEnforcer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "restore_me.txt")
	quarantinePath := filepath.Join(dir, "quarantine", "restore_me.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(quarantinePath), 0750))
	original := []byte("overdue restoration content")
	require.NoError(t, os.WriteFile(quarantinePath, original, 0640))

	entry := cache.RestorationEntry{
		EventID:         "ev-1",
		OriginalPath:    path,
		QuarantinePath:  quarantinePath,
		OriginalContent: original,
		RestoreAt:       time.Now().Add(-time.Minute),
	}
	require.NoError(t, e.journal.Append(entry))

	require.NoError(t, e.ReplayPending())

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}
