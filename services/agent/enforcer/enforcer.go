// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcer carries out the action the Classifier suggests
// :
// it owns the quarantine entry set, the original-content cache, the
// restoration journal, and the being_quarantined / recently_restored
// de-dup sets. No other component may mutate this state (spec §3
// "Ownership").
package enforcer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/cache"
)

// DefaultRestorationWindow is the fixed 10-minute delay between
// quarantine and scheduled restoration; the policy's own quarantinePath
// config carries no override, so this is a single process-wide constant.
const DefaultRestorationWindow = 10 * time.Minute

// RecentlyRestoredGracePeriod bounds how long a path stays in the
// recently_restored de-dup set after a successful restore, preventing
// the monitor's own restore-triggered filesystem event from causing
// re-quarantine .
const RecentlyRestoredGracePeriod = 30 * time.Second

// Clock abstracts time.Now so tests can control restoration scheduling
// deterministically.
type Clock func() time.Time

// Restorer schedules a restoration to run at t. The production
// implementation uses a timer; tests may use a synchronous fake that
// invokes fn immediately to avoid sleeping in test code.
type Restorer interface {
	Schedule(t time.Time, fn func())
}

// timerRestorer is the production Restorer: one time.AfterFunc per
// scheduled restoration.
type timerRestorer struct{}

func (timerRestorer) Schedule(t time.Time, fn func()) {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, fn)
}

// Enforcer implements spec §4.9 in full: quarantine, delete
// interception, block, and restoration, each guarded per the global
// lock-ordering rule : policy lock -> content cache lock ->
// quarantine lock -> restored lock. The content cache lock lives
// inside *cache.ContentCache; this type only ever acquires its own
// quarantineMu / restoredMu after any cache call has already returned.
type Enforcer struct {
	logger   *slog.Logger
	cache    *cache.ContentCache
	journal  *cache.RestorationJournal
	restorer Restorer
	now      Clock

	quarantineMu    sync.Mutex
	beingQuarantine map[string]bool

	restoredMu       sync.Mutex
	recentlyRestored map[string]time.Time
}

// New constructs an Enforcer. cache and journal should typically share
// one on-disk Badger database (see cache.OpenWith/OpenRestorationJournalWith).
func New(logger *slog.Logger, contentCache *cache.ContentCache, journal *cache.RestorationJournal) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		logger:           logger,
		cache:            contentCache,
		journal:          journal,
		restorer:         timerRestorer{},
		now:              time.Now,
		beingQuarantine:  make(map[string]bool),
		recentlyRestored: make(map[string]time.Time),
	}
}

// WithRestorer overrides the production timer-based Restorer, for
// tests that want restoration to happen synchronously and
// deterministically.
func (e *Enforcer) WithRestorer(r Restorer) *Enforcer {
	e.restorer = r
	return e
}

// WithClock overrides the production time.Now, for deterministic
// tests of the recently_restored grace period.
func (e *Enforcer) WithClock(now Clock) *Enforcer {
	e.now = now
	return e
}

// ScheduleRestore exposes the Enforcer's own pluggable Restorer/Clock
// seam to other components that need fixed-delay restoration
// scheduling outside the quarantine/delete-interception protocols
// below — the USB file-transfer monitor's own quarantine-to-source-
// directory restoration (spec §4.8 step 5) reuses this rather than
// standing up a second scheduling mechanism.
func (e *Enforcer) ScheduleRestore(after time.Duration, fn func()) {
	e.restorer.Schedule(e.now().Add(after), fn)
}

// IsSuppressed reports whether path should be dropped by a monitor per
// spec §4.5 step 4: currently being quarantined, or recently restored.
func (e *Enforcer) IsSuppressed(path string) bool {
	e.quarantineMu.Lock()
	beingQ := e.beingQuarantine[path]
	e.quarantineMu.Unlock()
	if beingQ {
		return true
	}

	e.restoredMu.Lock()
	defer e.restoredMu.Unlock()
	until, ok := e.recentlyRestored[path]
	if !ok {
		return false
	}
	if e.now().After(until) {
		delete(e.recentlyRestored, path)
		return false
	}
	return true
}

// Outcome is the result of carrying out an action, used to decide what
// the monitor should record on the emitted event (spec §7's
// action-outcome naming: quarantined / quarantine_failed / blocked /
// block_failed / quarantined_on_delete).
type Outcome struct {
	Action string
	Err    error
}

// Quarantine implements spec §4.9's quarantine protocol steps 1-5 for
// a file_modified or file_created event matching one or more policies
// whose resolved action is "quarantine". quarantinePath is the
// matched policy's configured holding directory.
func (e *Enforcer) Quarantine(path, quarantinePath string) Outcome {
	e.quarantineMu.Lock()
	if e.beingQuarantine[path] {
		e.quarantineMu.Unlock()
		return Outcome{Action: "quarantine_failed", Err: fmt.Errorf("already being quarantined: %s", path)}
	}
	e.beingQuarantine[path] = true
	e.quarantineMu.Unlock()
	defer func() {
		e.quarantineMu.Lock()
		delete(e.beingQuarantine, path)
		e.quarantineMu.Unlock()
	}()

	if quarantinePath == "" {
		quarantinePath = filepath.Join(filepath.Dir(path), ".quarantine")
	}
	if err := os.MkdirAll(quarantinePath, 0750); err != nil {
		return Outcome{Action: "quarantine_failed", Err: fmt.Errorf("create quarantine dir: %w", err)}
	}

	dest := filepath.Join(quarantinePath, fmt.Sprintf("%d_%s", e.now().UnixNano(), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		return Outcome{Action: "quarantine_failed", Err: fmt.Errorf("move to quarantine: %w", err)}
	}

	// Pin: the original-content cache must not evict bytes this
	// in-flight quarantine depends on for restoration .
	var original []byte
	if b, ok := e.cache.Get(path); ok {
		original = b
		e.cache.Pin(path, b)
	}

	restoreAt := e.now().Add(DefaultRestorationWindow)
	eventID := fmt.Sprintf("%s-%d", path, e.now().UnixNano())
	entry := cache.RestorationEntry{
		EventID:         eventID,
		OriginalPath:    path,
		QuarantinePath:  dest,
		OriginalContent: original,
		RestoreAt:       restoreAt,
	}
	if err := e.journal.Append(entry); err != nil {
		e.logger.Warn("failed to journal restoration", slog.String("path", path), slog.String("error", err.Error()))
	}

	e.restorer.Schedule(restoreAt, func() { e.restore(entry) })

	return Outcome{Action: "quarantined"}
}

// restore performs the actual restoration: write cached bytes back (or
// move the quarantine file back if no cached bytes exist), per spec
// §4.9 step 4.
func (e *Enforcer) restore(entry cache.RestorationEntry) {
	var err error
	if len(entry.OriginalContent) > 0 {
		if mkErr := os.MkdirAll(filepath.Dir(entry.OriginalPath), 0750); mkErr != nil {
			err = fmt.Errorf("create restore parent dir: %w", mkErr)
		} else if wErr := os.WriteFile(entry.OriginalPath, entry.OriginalContent, 0640); wErr != nil {
			err = fmt.Errorf("write restored content: %w", wErr)
		} else {
			_ = os.Remove(entry.QuarantinePath)
		}
	} else {
		err = os.Rename(entry.QuarantinePath, entry.OriginalPath)
	}

	if err != nil {
		// Fallback: try moving the quarantine file back verbatim
		// (spec §4.9 step 5 "on write failure fall back to restoring
		// the quarantine file").
		if fbErr := os.Rename(entry.QuarantinePath, entry.OriginalPath); fbErr != nil {
			e.logger.Warn("restoration failed",
				slog.String("path", entry.OriginalPath),
				slog.String("error", fbErr.Error()))
		}
	}

	e.restoredMu.Lock()
	e.recentlyRestored[entry.OriginalPath] = e.now().Add(RecentlyRestoredGracePeriod)
	e.restoredMu.Unlock()

	_ = e.cache.Clear(entry.OriginalPath)
	if jerr := e.journal.MarkDone(entry.EventID); jerr != nil {
		e.logger.Warn("failed to mark restoration journal entry done",
			slog.String("event_id", entry.EventID), slog.String("error", jerr.Error()))
	}
}

// ReplayPending is called once at startup: it replays the restoration
// journal and reschedules (or, if already overdue, immediately
// performs) every pending restoration, so downtime never loses a
// scheduled restore (spec §4.10's restart-survival requirement applied
// to the Enforcer's own state, not only the uploader's queue).
func (e *Enforcer) ReplayPending() error {
	entries, err := e.journal.Replay()
	if err != nil {
		return fmt.Errorf("replay restoration journal: %w", err)
	}
	for _, entry := range entries {
		entry := entry
		if e.now().After(entry.RestoreAt) {
			e.restore(entry)
			continue
		}
		e.restorer.Schedule(entry.RestoreAt, func() { e.restore(entry) })
	}
	return nil
}

// InterceptDelete implements spec §4.9's "Delete interception": when a
// file_deleted event matches a quarantine policy and the
// original-content cache still holds bytes for path, those bytes are
// written out as a saved copy so a restoration can later reconstruct
// the file the OS has already removed.
func (e *Enforcer) InterceptDelete(path, quarantinePath string) Outcome {
	content, ok := e.cache.Get(path)
	if !ok {
		return Outcome{Action: "quarantine_failed", Err: fmt.Errorf("no cached content for deleted file: %s", path)}
	}

	if quarantinePath == "" {
		quarantinePath = filepath.Join(filepath.Dir(path), ".quarantine")
	}
	if err := os.MkdirAll(quarantinePath, 0750); err != nil {
		return Outcome{Action: "quarantine_failed", Err: fmt.Errorf("create quarantine dir: %w", err)}
	}
	dest := filepath.Join(quarantinePath, fmt.Sprintf("%d_%s", e.now().UnixNano(), filepath.Base(path)))
	if err := os.WriteFile(dest, content, 0640); err != nil {
		return Outcome{Action: "quarantine_failed", Err: fmt.Errorf("write saved copy: %w", err)}
	}

	e.cache.Pin(path, content)
	restoreAt := e.now().Add(DefaultRestorationWindow)
	eventID := fmt.Sprintf("%s-%d", path, e.now().UnixNano())
	entry := cache.RestorationEntry{
		EventID:         eventID,
		OriginalPath:    path,
		QuarantinePath:  dest,
		OriginalContent: content,
		RestoreAt:       restoreAt,
	}
	if err := e.journal.Append(entry); err != nil {
		e.logger.Warn("failed to journal delete-interception restoration", slog.String("path", path), slog.String("error", err.Error()))
	}
	e.restorer.Schedule(restoreAt, func() { e.restore(entry) })

	return Outcome{Action: "quarantined_on_delete"}
}

// ResolveAction maps a Classifier-suggested action plus the event's
// own type/subtype into the concrete Outcome the monitor should apply,
// centralizing the "at most one action per event" decision spec §4.9
// testable property 3 requires.
func (e *Enforcer) ResolveAction(action wire.Action, path, quarantinePath string, subtype string) Outcome {
	switch action {
	case wire.ActionQuarantine:
		if subtype == "file_deleted" {
			return e.InterceptDelete(path, quarantinePath)
		}
		return e.Quarantine(path, quarantinePath)
	case wire.ActionBlock:
		return e.Block(path, subtype)
	case wire.ActionAlert:
		return Outcome{Action: "alert"}
	default:
		return Outcome{Action: "log"}
	}
}

// Block implements spec §4.9's block action: remove the file, emit a
// "deleted" outcome. A file already removed by the OS (subtype
// file_deleted) has nothing left to remove.
func (e *Enforcer) Block(path, subtype string) Outcome {
	if subtype == "file_deleted" {
		return Outcome{Action: "deleted"}
	}
	if err := os.Remove(path); err != nil {
		return Outcome{Action: "block_failed", Err: fmt.Errorf("remove blocked file: %w", err)}
	}
	return Outcome{Action: "deleted"}
}

// Close releases the enforcer's durable resources.
func (e *Enforcer) Close() error {
	var firstErr error
	if err := e.cache.Close(); err != nil {
		firstErr = err
	}
	if err := e.journal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
