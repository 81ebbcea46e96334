// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package filesystem implements the endpoint's filesystem monitor
// : one recursive watcher per monitored root, feeding
// filtered (path, subtype) observations through the Classifier and
// Enforcer. fsnotify has no native recursive-watch primitive, so this
// package walks each monitored root at startup and adds a watch per
// directory, then adds a watch for any directory a subsequent Create
// event reports.
package filesystem

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/cache"
	"github.com/cybersentinel/core/services/agent/enforcer"
	"github.com/cybersentinel/core/services/classifier"
)

// DefaultMaxFileSizeMB is the per-file read cap spec §4.5 names.
const DefaultMaxFileSizeMB = 10

// DedupWindow is how long an identical (path, subtype) pair is
// suppressed after first being observed, absorbing the bursts real OS
// watchers emit for a single logical write .
const DedupWindow = 2 * time.Second

// ReadDelay is the pause inserted between an OS notification and
// reading the file, giving the writer time to finish (spec §4.5's
// "must not block an event beyond 500ms... insert a short delay").
const ReadDelay = 150 * time.Millisecond

// EventSink receives completed events for upload, satisfied by
// *uploader.Uploader.
type EventSink interface {
	Emit(e wire.Event)
}

// Monitor watches a fixed set of root directories and classifies file
// activity against the currently installed file_system_monitoring and
// file_transfer_monitoring policies.
type Monitor struct {
	logger     *slog.Logger
	watcher    *fsnotify.Watcher
	classifier *classifier.Classifier
	enforcer   *enforcer.Enforcer
	cache      *cache.ContentCache
	sink       EventSink
	policies   func() []wire.Policy
	agentID    string

	maxFileSizeMB int64

	dedupMu sync.Mutex
	dedup   map[string]time.Time

	stop chan struct{}
	done chan struct{}
}

// Config bundles Monitor's constructor dependencies.
type Config struct {
	Logger        *slog.Logger
	Classifier    *classifier.Classifier
	Enforcer      *enforcer.Enforcer
	Cache         *cache.ContentCache
	Sink          EventSink
	Policies      func() []wire.Policy
	AgentID       string
	MaxFileSizeMB int64
}

// New constructs a Monitor without starting any watches; call Start
// with the roots to watch.
func New(cfg Config) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	return &Monitor{
		logger:        cfg.Logger,
		watcher:       w,
		classifier:    cfg.Classifier,
		enforcer:      cfg.Enforcer,
		cache:         cfg.Cache,
		sink:          cfg.Sink,
		policies:      cfg.Policies,
		agentID:       cfg.AgentID,
		maxFileSizeMB: cfg.MaxFileSizeMB,
		dedup:         make(map[string]time.Time),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Baseline implements spec §4.5 step 5: for every currently-existing
// file under roots matching the extension filter, deposit its bytes
// into the content cache without emitting any event.
func (m *Monitor) Baseline(roots []string) {
	policies := m.policies()
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !m.matchesAnyPolicy(path, policies) {
				return nil
			}
			content, err := readCapped(path, m.maxFileSizeMB)
			if err != nil {
				return nil
			}
			_ = m.cache.Put(path, content)
			return nil
		})
	}
}

// Start adds recursive watches under each root and begins the event
// loop in a background goroutine.
func (m *Monitor) Start(roots []string) error {
	for _, root := range roots {
		if err := m.addRecursive(root); err != nil {
			m.logger.Warn("failed to watch root", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	go m.loop()
	return nil
}

func (m *Monitor) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return m.watcher.Add(path)
		}
		return nil
	})
}

// Stop halts the event loop and blocks until it has exited.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
	_ = m.watcher.Close()
}

func (m *Monitor) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

func (m *Monitor) handle(ev fsnotify.Event) {
	subtype := subtypeOf(ev)
	if subtype == "" {
		return
	}
	path := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			_ = m.watcher.Add(path)
		}
	}

	if m.enforcer.IsSuppressed(path) {
		return
	}
	if m.isDuplicate(path, subtype) {
		return
	}

	policies := m.policies()
	matched := m.matchesAnyPolicy(path, policies)
	if !matched {
		return
	}

	switch subtype {
	case "file_created":
		time.Sleep(ReadDelay)
		content, err := readCapped(path, m.maxFileSizeMB)
		if err != nil {
			return
		}
		_ = m.cache.Put(path, content)
		m.classifyAndEnforce(path, subtype, content, policies)
	case "file_modified":
		time.Sleep(ReadDelay)
		content, err := readCapped(path, m.maxFileSizeMB)
		if err != nil {
			return
		}
		m.classifyAndEnforce(path, subtype, content, policies)
	case "file_deleted":
		content, _ := m.cache.Get(path)
		m.classifyAndEnforce(path, subtype, content, policies)
	}
}

func (m *Monitor) classifyAndEnforce(path, subtype string, content []byte, policies []wire.Policy) {
	result := m.classifier.Classify(content, wire.EventTypeFile, subtype, policies)
	if !result.HasMatches() {
		return
	}

	action := result.Action
	quarantinePath := quarantinePathFor(path, policies)
	var outcome enforcer.Outcome
	if m.enforcer != nil {
		outcome = m.enforcer.ResolveAction(action, path, quarantinePath, subtype)
	}

	evt := wire.Event{
		EventID:         uuid.NewString(),
		AgentID:         m.agentID,
		SourceType:      wire.SourceAgent,
		EventType:       wire.EventTypeFile,
		EventSubtype:    subtype,
		Severity:        result.Severity,
		Action:          outcomeAction(outcome, action),
		FilePath:        path,
		FileName:        filepath.Base(path),
		DataTypes:       result.DataTypes,
		DetectedContent: flattenSamples(result.Samples),
		MatchedPolicies: result.MatchedPolicies,
		TotalMatches:    result.TotalMatches,
		Timestamp:       time.Now().UTC(),
	}
	m.sink.Emit(evt)
}

// flattenSamples collapses the classifier's per-data-type sample map
// into the flat detected_content list the wire.Event shape carries.
func flattenSamples(samples map[string][]string) []string {
	var out []string
	for _, s := range samples {
		out = append(out, s...)
	}
	return out
}

func outcomeAction(outcome enforcer.Outcome, fallback wire.Action) string {
	if outcome.Action != "" {
		return outcome.Action
	}
	return string(fallback)
}

func (m *Monitor) isDuplicate(path, subtype string) bool {
	key := path + "|" + subtype
	now := time.Now()

	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()
	if last, ok := m.dedup[key]; ok && now.Sub(last) < DedupWindow {
		return true
	}
	m.dedup[key] = now
	return false
}

// matchesAnyPolicy implements spec §4.5 step 1: at least one enabled
// file policy whose monitoredPath prefixes path and whose extension
// filter is empty or matches.
func (m *Monitor) matchesAnyPolicy(path string, policies []wire.Policy) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, p := range policies {
		if p.Type != wire.PolicyTypeFileSystem && p.Type != wire.PolicyTypeFileTransfer {
			continue
		}
		if !p.Enabled {
			continue
		}
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		cfg, ok := decoded.(wire.FileSystemConfig)
		if !ok {
			continue
		}
		if !hasPrefix(cfg.MonitoredPaths, path) {
			continue
		}
		if len(cfg.FileExtensions) == 0 {
			return true
		}
		for _, e := range cfg.FileExtensions {
			if strings.ToLower(e) == ext {
				return true
			}
		}
	}
	return false
}

func quarantinePathFor(path string, policies []wire.Policy) string {
	for _, p := range policies {
		if p.Type != wire.PolicyTypeFileSystem && p.Type != wire.PolicyTypeFileTransfer {
			continue
		}
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		cfg, ok := decoded.(wire.FileSystemConfig)
		if !ok || cfg.QuarantinePath == "" {
			continue
		}
		if hasPrefix(cfg.MonitoredPaths, path) {
			return cfg.QuarantinePath
		}
	}
	return ""
}

func hasPrefix(roots []string, path string) bool {
	for _, r := range roots {
		r = os.ExpandEnv(r)
		if strings.HasPrefix(path, r) {
			return true
		}
	}
	return false
}

func readCapped(path string, maxMB int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxMB*1024*1024 {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(data), nil
}

func subtypeOf(ev fsnotify.Event) string {
	switch {
	case ev.Op&fsnotify.Create != 0:
		return "file_created"
	case ev.Op&fsnotify.Write != 0:
		return "file_modified"
	case ev.Op&fsnotify.Remove != 0:
		return "file_deleted"
	case ev.Op&fsnotify.Rename != 0:
		return "file_renamed"
	default:
		return ""
	}
}
