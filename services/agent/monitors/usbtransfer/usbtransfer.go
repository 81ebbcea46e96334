// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package usbtransfer implements the endpoint's USB file-transfer
// monitor : a periodic differential scan of every mounted
// removable drive that classifies files the agent has not already seen
// on that drive, determines whether the file arrived via copy or move,
// and carries out the matched policy's action.
package usbtransfer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/cache"
	"github.com/cybersentinel/core/services/agent/enforcer"
	"github.com/cybersentinel/core/services/classifier"
)

// DefaultScanInterval is how often mounted drives are rescanned.
const DefaultScanInterval = 5 * time.Second

// DefaultTransferQuarantine is the fixed restoration window spec §4.8
// names for a quarantined USB-transferred file, distinct from the
// filesystem monitor's longer window since a file sitting on a
// removable drive is a more urgent exposure.
const DefaultTransferQuarantine = 2 * time.Minute

// maxFileSizeMB caps how large a file this monitor will read into
// memory for classification, matching the filesystem monitor's cap.
const maxFileSizeMB = 10

// Drive describes one currently-mounted removable volume.
type Drive struct {
	ID         string // stable identifier (volume serial, device path)
	MountPoint string
}

// RemovableDriveLister enumerates currently-mounted removable drives.
// The production implementation queries the platform's volume API;
// tests substitute a fake.
type RemovableDriveLister interface {
	List() ([]Drive, error)
}

// EventSink receives completed events for upload.
type EventSink interface {
	Emit(e wire.Event)
}

// fileState is what the monitor remembers about one file it has seen
// on a drive, keyed by the file's path relative to the drive's mount
// point.
type fileState struct {
	preExisting bool
	size        int64
	modTime     time.Time
}

// driveState tracks one drive across scans so a file's disappearance
// from its source path can be told apart from a plain copy.
type driveState struct {
	seen map[string]fileState
}

// Monitor periodically diffs each mounted removable drive's contents
// against what it has seen there before.
type Monitor struct {
	logger     *slog.Logger
	lister     RemovableDriveLister
	classifier *classifier.Classifier
	enforcer   *enforcer.Enforcer
	cache      *cache.ContentCache
	sink       EventSink
	policies   func() []wire.Policy
	agentID    string

	scanInterval     time.Duration
	quarantineWindow time.Duration

	mu     sync.Mutex
	drives map[string]*driveState
}

// Config bundles Monitor's constructor dependencies.
type Config struct {
	Logger           *slog.Logger
	Lister           RemovableDriveLister
	Classifier       *classifier.Classifier
	Enforcer         *enforcer.Enforcer
	Cache            *cache.ContentCache
	Sink             EventSink
	Policies         func() []wire.Policy
	AgentID          string
	ScanInterval     time.Duration
	QuarantineWindow time.Duration
}

// New constructs a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.QuarantineWindow <= 0 {
		cfg.QuarantineWindow = DefaultTransferQuarantine
	}
	return &Monitor{
		logger:           cfg.Logger,
		lister:           cfg.Lister,
		classifier:       cfg.Classifier,
		enforcer:         cfg.Enforcer,
		cache:            cfg.Cache,
		sink:             cfg.Sink,
		policies:         cfg.Policies,
		agentID:          cfg.AgentID,
		scanInterval:     cfg.ScanInterval,
		quarantineWindow: cfg.QuarantineWindow,
		drives:           make(map[string]*driveState),
	}
}

// Run scans mounted drives on a fixed interval until stop is closed
// .
func (m *Monitor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.scanAll()
		}
	}
}

func (m *Monitor) scanAll() {
	drives, err := m.lister.List()
	if err != nil {
		m.logger.Warn("failed to list removable drives", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	seenIDs := make(map[string]bool, len(drives))
	for _, d := range drives {
		seenIDs[d.ID] = true
	}
	for id := range m.drives {
		if !seenIDs[id] {
			delete(m.drives, id)
		}
	}
	m.mu.Unlock()

	for _, d := range drives {
		m.scanDrive(d)
	}
}

// scanDrive implements spec §4.8's differential scan: the first time a
// drive is seen, every file on it is marked pre-existing (baseline, no
// events). On every subsequent scan, a file not previously seen is
// classified and, if it matches policy, attributed as a copy (its
// source path still exists on the host) or a move, then enforced.
func (m *Monitor) scanDrive(d Drive) {
	m.mu.Lock()
	state, known := m.drives[d.ID]
	if !known {
		state = &driveState{seen: make(map[string]fileState)}
		m.drives[d.ID] = state
	}
	m.mu.Unlock()

	firstScan := !known
	current := make(map[string]fileState)

	walkErr := filepath.WalkDir(d.MountPoint, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			// Drive went inaccessible mid-scan (ejected, permission
			// revoked): stop scanning silently, per spec §4.8.
			return filepath.SkipAll
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(d.MountPoint, path)
		if err != nil {
			rel = path
		}
		fs := fileState{size: info.Size(), modTime: info.ModTime()}
		current[rel] = fs

		m.mu.Lock()
		prev, wasSeen := state.seen[rel]
		m.mu.Unlock()

		if firstScan {
			fs.preExisting = true
			m.mu.Lock()
			state.seen[rel] = fs
			m.mu.Unlock()
			return nil
		}
		if wasSeen && prev.size == fs.size && prev.modTime.Equal(fs.modTime) {
			return nil
		}
		if !wasSeen {
			m.onNewFile(d, path, rel)
		}

		m.mu.Lock()
		state.seen[rel] = fs
		m.mu.Unlock()
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		m.logger.Debug("usb drive scan error", slog.String("drive", d.MountPoint), slog.String("error", walkErr.Error()))
	}
}

// onNewFile classifies a file observed on a removable drive for the
// first time and, if matched, enforces the policy's action.
func (m *Monitor) onNewFile(d Drive, path, rel string) {
	content, err := readCapped(path, maxFileSizeMB)
	if err != nil {
		return
	}

	policies := filterUSBTransferPolicies(m.policies())
	result := m.classifier.Classify(content, wire.EventTypeUSB, "usb_file_transfer", policies)
	if !result.HasMatches() {
		return
	}

	sourcePath, sourceExists := sourcePathFor(policies, filepath.Base(rel))
	transferType := "move"
	if sourceExists {
		transferType = "copy"
	}
	action := result.Action
	quarantinePath := quarantinePathFor(policies)

	outcome := m.enforceOnDrive(action, path, sourcePath, transferType, quarantinePath)

	evt := wire.Event{
		EventID:         uuid.NewString(),
		AgentID:         m.agentID,
		SourceType:      wire.SourceAgent,
		EventType:       wire.EventTypeUSB,
		EventSubtype:    "usb_file_transfer",
		Severity:        result.Severity,
		Action:          outcomeAction(outcome, action),
		FilePath:        path,
		FileName:        filepath.Base(path),
		DataTypes:       result.DataTypes,
		DetectedContent: flattenSamples(result.Samples),
		MatchedPolicies: result.MatchedPolicies,
		TotalMatches:    result.TotalMatches,
		Description:     transferType,
		Timestamp:       time.Now().UTC(),
	}
	m.sink.Emit(evt)
}

// sourcePathFor implements spec §4.8 step 4's copy-vs-move check: it
// looks for a file named filename still sitting in one of the matched
// policies' monitoredPaths on the host. The first policy carrying at
// least one monitoredPath wins; if no candidate directory currently
// holds the file (the move case), the first monitoredPath is still
// returned as the destination a later restore/copy-back should target.
func sourcePathFor(policies []wire.Policy, filename string) (path string, exists bool) {
	for _, p := range policies {
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		cfg, ok := decoded.(wire.USBTransferConfig)
		if !ok || len(cfg.MonitoredPaths) == 0 {
			continue
		}
		for _, root := range cfg.MonitoredPaths {
			candidate := filepath.Join(os.ExpandEnv(root), filename)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
		return filepath.Join(os.ExpandEnv(cfg.MonitoredPaths[0]), filename), false
	}
	return "", false
}

// enforceOnDrive carries out block/quarantine directly against the USB
// file, since it has no counterpart on the local filesystem for the
// Enforcer's rename-based quarantine protocol to operate on in place.
// Block on a move copies the file back into the source directory
// before removing the USB copy (spec §4.8 step 5's block branch);
// block on a copy simply removes the USB copy, since the source still
// holds its own. Quarantine moves the USB file into the configured
// holding path and schedules its restoration back to the source
// directory after quarantineWindow (step 5's quarantine branch).
func (m *Monitor) enforceOnDrive(action wire.Action, path, sourcePath, transferType, quarantinePath string) enforcer.Outcome {
	switch action {
	case wire.ActionBlock:
		if transferType == "move" && sourcePath != "" {
			content, err := os.ReadFile(path)
			if err != nil {
				return enforcer.Outcome{Action: "block_failed", Err: err}
			}
			if err := os.MkdirAll(filepath.Dir(sourcePath), 0750); err != nil {
				return enforcer.Outcome{Action: "block_failed", Err: err}
			}
			if err := os.WriteFile(sourcePath, content, 0640); err != nil {
				return enforcer.Outcome{Action: "block_failed", Err: err}
			}
		}
		if err := os.Remove(path); err != nil {
			return enforcer.Outcome{Action: "block_failed", Err: err}
		}
		if transferType == "move" {
			return enforcer.Outcome{Action: "blocked_move"}
		}
		return enforcer.Outcome{Action: "blocked_copy"}
	case wire.ActionQuarantine:
		if quarantinePath == "" {
			return enforcer.Outcome{Action: "quarantine_failed", Err: fmt.Errorf("no quarantine path configured")}
		}
		if err := os.MkdirAll(quarantinePath, 0750); err != nil {
			return enforcer.Outcome{Action: "quarantine_failed", Err: err}
		}
		dest := filepath.Join(quarantinePath, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			return enforcer.Outcome{Action: "quarantine_failed", Err: err}
		}
		m.scheduleDriveRestore(dest, sourcePath)
		if transferType == "move" {
			return enforcer.Outcome{Action: "quarantined_move"}
		}
		return enforcer.Outcome{Action: "quarantined_copy"}
	case wire.ActionAlert:
		return enforcer.Outcome{Action: "alerted"}
	default:
		return enforcer.Outcome{Action: "log"}
	}
}

// scheduleDriveRestore implements spec §4.8 step 5's "schedule
// restoration to the source directory after a fixed window" by reusing
// the Enforcer's own pluggable Restorer/Clock seam (the same one the
// quarantine/delete-interception protocols in services/agent/enforcer
// use), so every restoration in the agent goes through one swappable
// scheduling mechanism.
func (m *Monitor) scheduleDriveRestore(quarantineFile, sourcePath string) {
	if sourcePath == "" || m.enforcer == nil {
		m.logger.Warn("cannot schedule usb-transfer restoration: no source path known", slog.String("quarantine_file", quarantineFile))
		return
	}
	m.enforcer.ScheduleRestore(m.quarantineWindow, func() {
		if err := os.MkdirAll(filepath.Dir(sourcePath), 0750); err != nil {
			m.logger.Warn("failed to create usb-transfer restore parent dir", slog.String("path", sourcePath), slog.String("error", err.Error()))
			return
		}
		if err := os.Rename(quarantineFile, sourcePath); err != nil {
			m.logger.Warn("failed to restore usb-transfer quarantined file", slog.String("path", sourcePath), slog.String("error", err.Error()))
		}
	})
}

func outcomeAction(outcome enforcer.Outcome, fallback wire.Action) string {
	if outcome.Action != "" {
		return outcome.Action
	}
	return string(fallback)
}

func flattenSamples(samples map[string][]string) []string {
	var out []string
	for _, s := range samples {
		out = append(out, s...)
	}
	return out
}

func filterUSBTransferPolicies(policies []wire.Policy) []wire.Policy {
	out := make([]wire.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled && p.Type == wire.PolicyTypeUSBTransfer {
			out = append(out, p)
		}
	}
	return out
}

func quarantinePathFor(policies []wire.Policy) string {
	for _, p := range policies {
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		cfg, ok := decoded.(wire.USBTransferConfig)
		if !ok || cfg.QuarantinePath == "" {
			continue
		}
		return cfg.QuarantinePath
	}
	return ""
}

func readCapped(path string, maxMB int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxMB*1024*1024 {
		return nil, nil
	}
	return os.ReadFile(path)
}
