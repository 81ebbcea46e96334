// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package clipboard implements the endpoint's clipboard monitor (spec
// §4.6): a poll loop over github.com/atotto/clipboard that classifies
// each newly observed, non-empty clipboard value against
// clipboard_monitoring policies only, attributing a best-guess source
// application via the foreground window title.
package clipboard

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/classifier"
)

// DefaultPollInterval is the poll cadence spec §4.6 names.
const DefaultPollInterval = 2 * time.Second

// maxClassifyBytes truncates clipboard content before classification,
// matching the classifier's own sample-truncation philosophy rather
// than feeding it unbounded pasted text.
const maxClassifyBytes = 1 << 20

// sourceTitlePattern recognizes common "filename - application" window
// title shapes (e.g. "report.docx - Microsoft Word") to attribute a
// clipboard copy to a source file when the OS exposes a window title.
var sourceTitlePattern = regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`)

// ForegroundWindowTitle returns the active window's title, or "" if
// unavailable. The production value comes from a platform-specific
// accessibility API (out of this package's scope); tests supply a
// fake.
type ForegroundWindowTitle func() string

// EventSink receives completed events for upload.
type EventSink interface {
	Emit(e wire.Event)
}

// Monitor polls the system clipboard and classifies new text values.
type Monitor struct {
	logger       *slog.Logger
	classifier   *classifier.Classifier
	sink         EventSink
	policies     func() []wire.Policy
	agentID      string
	windowTitle  ForegroundWindowTitle
	pollInterval time.Duration

	readClipboard func() (string, error)
	lastValue     string
}

// Config bundles Monitor's constructor dependencies.
type Config struct {
	Logger       *slog.Logger
	Classifier   *classifier.Classifier
	Sink         EventSink
	Policies     func() []wire.Policy
	AgentID      string
	WindowTitle  ForegroundWindowTitle
	PollInterval time.Duration

	// ReadClipboard overrides clipboard.ReadAll, for tests.
	ReadClipboard func() (string, error)
}

// New constructs a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WindowTitle == nil {
		cfg.WindowTitle = func() string { return "" }
	}
	if cfg.ReadClipboard == nil {
		cfg.ReadClipboard = clipboard.ReadAll
	}
	return &Monitor{
		logger:        cfg.Logger,
		classifier:    cfg.Classifier,
		sink:          cfg.Sink,
		policies:      cfg.Policies,
		agentID:       cfg.AgentID,
		windowTitle:   cfg.WindowTitle,
		pollInterval:  cfg.PollInterval,
		readClipboard: cfg.ReadClipboard,
	}
}

// Run polls the clipboard until ctx is cancelled. It is meant to be
// the body of the agent's dedicated clipboard goroutine (spec §5
// "one clipboard poll loop").
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	value, err := m.readClipboard()
	if err != nil {
		m.logger.Debug("clipboard read failed", slog.String("error", err.Error()))
		return
	}
	if value == "" || value == m.lastValue {
		return
	}
	m.lastValue = value

	content := value
	if len(content) > maxClassifyBytes {
		content = content[:maxClassifyBytes]
	}

	clipboardPolicies := filterClipboardPolicies(m.policies())
	result := m.classifier.Classify([]byte(content), wire.EventTypeClipboard, "clipboard_copy", clipboardPolicies)

	// Emit only when both a policy matched and an actual data-type
	// match was found (spec §4.6 "Zero-match clipboard polls are
	// silently dropped").
	if !result.HasMatches() {
		return
	}

	evt := wire.Event{
		EventID:         uuid.NewString(),
		AgentID:         m.agentID,
		SourceType:      wire.SourceAgent,
		EventType:       wire.EventTypeClipboard,
		EventSubtype:    "clipboard_copy",
		Severity:        result.Severity,
		Action:          string(result.Action),
		DataTypes:       result.DataTypes,
		DetectedContent: flattenSamples(result.Samples),
		MatchedPolicies: result.MatchedPolicies,
		TotalMatches:    result.TotalMatches,
		Description:     attributeSource(m.windowTitle()),
		Timestamp:       time.Now().UTC(),
	}
	m.sink.Emit(evt)
}

// flattenSamples collapses the classifier's per-data-type sample map
// into the flat detected_content list the wire.Event shape carries;
// redaction has already been applied per-sample by the classifier.
func flattenSamples(samples map[string][]string) []string {
	var out []string
	for _, s := range samples {
		out = append(out, s...)
	}
	return out
}

func filterClipboardPolicies(policies []wire.Policy) []wire.Policy {
	out := make([]wire.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Type == wire.PolicyTypeClipboard {
			out = append(out, p)
		}
	}
	return out
}

// attributeSource extracts a best-guess source application/file from
// a foreground window title shaped like "filename - application"
// .
func attributeSource(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	m := sourceTitlePattern.FindStringSubmatch(title)
	if m == nil {
		return title
	}
	return m[1] + " (" + m[2] + ")"
}
