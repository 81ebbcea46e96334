// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package uploader implements the agent's event uploader (spec
// §4.10): a bounded in-memory queue that every monitor enqueues into
// without ever blocking, drained by a background goroutine that POSTs
// events to the manager with exponential backoff retry, and gated by
// allow_events so nothing is sent before the agent has ever
// successfully installed a policy bundle.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cybersentinel/core/pkg/wire"
)

// DefaultQueueCapacity is the bounded size of the in-memory upload queue
// (spec §5 "Outbound event queue: bounded (default 10 000); overflow
// drops oldest").
const DefaultQueueCapacity = 10000

// DefaultUploadTimeout bounds a single POST attempt.
const DefaultUploadTimeout = 10 * time.Second

// DefaultMaxElapsedTime bounds how long one event is retried before it
// is dropped and logged, so a persistently unreachable manager cannot
// grow the queue without bound .
const DefaultMaxElapsedTime = 2 * time.Minute

// HTTPDoer is the subset of *http.Client the uploader depends on, so
// tests can substitute a fake transport instead of a real server.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Uploader queues agent-observed events and drains them to the
// manager's event-ingest endpoint.
type Uploader struct {
	logger      *slog.Logger
	client      HTTPDoer
	serverURL   string
	agentID     string
	queueCap    int
	maxElapsed  time.Duration
	uploadTimeout time.Duration

	mu          sync.Mutex
	queue       []wire.Event
	notify      chan struct{}
	dropped     int

	allowMu     sync.RWMutex
	allowEvents bool
}

// Config bundles Uploader's constructor dependencies.
type Config struct {
	Logger        *slog.Logger
	Client        HTTPDoer
	ServerURL     string
	AgentID       string
	QueueCapacity int
	MaxElapsed    time.Duration
	UploadTimeout time.Duration
}

// New constructs an Uploader. allow_events starts false: Emit silently
// drops every event until SetAllowEvents(true) is called, which the
// lifecycle does the first time a policy bundle installs successfully
// .
func New(cfg Config) *Uploader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultUploadTimeout}
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = DefaultMaxElapsedTime
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	return &Uploader{
		logger:        cfg.Logger,
		client:        cfg.Client,
		serverURL:     cfg.ServerURL,
		agentID:       cfg.AgentID,
		queueCap:      cfg.QueueCapacity,
		maxElapsed:    cfg.MaxElapsed,
		uploadTimeout: cfg.UploadTimeout,
		notify:        make(chan struct{}, 1),
	}
}

// SetAllowEvents flips the allow_events gate. Flipping it false again
// (e.g. the policy bundle install has never succeeded since a restart)
// resumes silent dropping.
func (u *Uploader) SetAllowEvents(allow bool) {
	u.allowMu.Lock()
	u.allowEvents = allow
	u.allowMu.Unlock()
}

func (u *Uploader) eventsAllowed() bool {
	u.allowMu.RLock()
	defer u.allowMu.RUnlock()
	return u.allowEvents
}

// Emit enqueues an event without ever blocking the caller (spec
// §4.10's "never blocks a monitor" guarantee): if events are not yet
// allowed the event is silently dropped; if the queue is full the
// oldest queued event is dropped to make room, and the drop is logged
// (spec's drop-oldest back-pressure policy).
func (u *Uploader) Emit(e wire.Event) {
	if !u.eventsAllowed() {
		return
	}

	u.mu.Lock()
	var droppedID string
	if len(u.queue) >= u.queueCap {
		droppedID = u.queue[0].EventID
		u.queue = u.queue[1:]
		u.dropped++
	}
	u.queue = append(u.queue, e)
	u.mu.Unlock()

	if droppedID != "" {
		u.logger.Warn("upload queue full, dropped oldest event", slog.String("event_id", droppedID))
	}

	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// QueueLen reports how many events are currently queued, for health
// reporting.
func (u *Uploader) QueueLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue)
}

// Run drains the queue until ctx is cancelled, the body of the
// agent's dedicated uploader goroutine .
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.notify:
			u.drain(ctx)
		case <-ticker.C:
			u.drain(ctx)
		}
	}
}

func (u *Uploader) drain(ctx context.Context) {
	for {
		evt, ok := u.pop()
		if !ok {
			return
		}
		if err := u.uploadWithRetry(ctx, evt); err != nil {
			u.logger.Warn("dropping event after exhausting retries",
				slog.String("event_id", evt.EventID), slog.String("error", err.Error()))
		}
	}
}

func (u *Uploader) pop() (wire.Event, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.queue) == 0 {
		return wire.Event{}, false
	}
	evt := u.queue[0]
	u.queue = u.queue[1:]
	return evt, true
}

// uploadWithRetry POSTs evt to the manager, retrying transient
// failures with exponential backoff up to maxElapsed before giving up
// .
func (u *Uploader) uploadWithRetry(ctx context.Context, evt wire.Event) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, u.postOnce(ctx, evt)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(u.maxElapsed))
	return err
}

func (u *Uploader) postOnce(ctx context.Context, evt wire.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, u.uploadTimeout)
	defer cancel()

	url := u.serverURL + "/api/v1/events"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", u.agentID)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Duplicate event_id: the manager already has this event, so
		// treat it as delivered .
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("manager rejected event: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("manager returned status %d", resp.StatusCode)
	}
}
