// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle implements the agent's top-level state machine
// : Unregistered -> Registering -> Active -> Monitoring,
// with a Degraded side-state entered whenever the manager becomes
// unreachable, and a Stopping -> Stopped shutdown sequence that
// unconditionally restores the host's USB state regardless of how the
// run ends.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/config"
	"github.com/cybersentinel/core/services/agent/enforcer"
)

// State is one of the agent's top-level lifecycle states.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateActive
	StateSyncingPolicies
	StateMonitoring
	StateDegraded
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateSyncingPolicies:
		return "syncing_policies"
	case StateMonitoring:
		return "monitoring"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner is satisfied by every monitor's Run method; lifecycle starts
// each in its own goroutine and relies on ctx cancellation to stop it,
// so it never needs to import the monitor packages themselves.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a plain function (e.g. a monitor whose Run takes a
// stop channel instead of a context) into a Runner.
type RunnerFunc func(ctx context.Context)

func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// EventGate is satisfied by *uploader.Uploader: the lifecycle flips
// this the first time a policy bundle installs successfully, and
// again on every subsequent install, satisfying spec §4.4's
// allow_events gate.
type EventGate interface {
	SetAllowEvents(bool)
}

// HTTPDoer is the subset of *http.Client the lifecycle depends on.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config bundles Lifecycle's constructor dependencies.
type Config struct {
	Logger   *slog.Logger
	Config   *config.Config
	Client   HTTPDoer
	Policies *PolicySet
	USBState *enforcer.USBStateController
	Enforcer *enforcer.Enforcer
	Uploader EventGate
	Monitors []Runner
	Platform wire.Platform
	Version  string
}

// Lifecycle drives the agent's registration, heartbeat, and
// policy-sync loops and owns the top-level state machine.
type Lifecycle struct {
	logger   *slog.Logger
	cfg      *config.Config
	client   HTTPDoer
	policies *PolicySet
	usbState *enforcer.USBStateController
	enforcer *enforcer.Enforcer
	uploader EventGate
	monitors []Runner
	platform wire.Platform
	version  string

	mu            sync.Mutex
	state         State
	everInstalled bool
}

// New constructs a Lifecycle.
func New(cfg Config) *Lifecycle {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: config.DefaultNetworkTimeout}
	}
	if cfg.Platform == "" {
		cfg.Platform = detectPlatform()
	}
	return &Lifecycle{
		logger:   cfg.Logger,
		cfg:      cfg.Config,
		client:   cfg.Client,
		policies: cfg.Policies,
		usbState: cfg.USBState,
		enforcer: cfg.Enforcer,
		uploader: cfg.Uploader,
		monitors: cfg.Monitors,
		platform: cfg.Platform,
		version:  cfg.Version,
		state:    StateUnregistered,
	}
}

func detectPlatform() wire.Platform {
	switch runtime.GOOS {
	case "windows":
		return wire.PlatformWindows
	case "darwin":
		return wire.PlatformMacOS
	default:
		return wire.PlatformLinux
	}
}

// State reports the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	if prev != s {
		l.logger.Info("lifecycle state transition", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

// Run drives the full agent lifecycle until ctx is cancelled, then
// shuts down gracefully . It blocks until shutdown
// completes.
func (l *Lifecycle) Run(ctx context.Context) error {
	if err := l.enforcer.ReplayPending(); err != nil {
		l.logger.Warn("failed to replay pending restorations", slog.String("error", err.Error()))
	}

	l.setState(StateRegistering)
	if err := l.registerWithRetry(ctx); err != nil {
		return fmt.Errorf("registration: %w", err)
	}

	l.setState(StateActive)
	l.setState(StateSyncingPolicies)
	if err := l.syncPolicies(ctx); err != nil {
		l.logger.Warn("initial policy sync failed, starting in degraded mode", slog.String("error", err.Error()))
		l.setState(StateDegraded)
	} else {
		l.setState(StateMonitoring)
	}

	var wg sync.WaitGroup
	for _, m := range l.monitors {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(m)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.heartbeatLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.policySyncLoop(ctx)
	}()

	<-ctx.Done()
	l.setState(StateStopping)
	wg.Wait()
	l.shutdown()
	l.setState(StateStopped)
	return nil
}

// shutdown performs spec §4.4's shutdown sequence: the USB driver
// state is restored unconditionally regardless of why the run ended
// , then durable resources are flushed
// and closed.
func (l *Lifecycle) shutdown() {
	if err := l.usbState.Shutdown(); err != nil {
		l.logger.Warn("failed to restore USB state on shutdown", slog.String("error", err.Error()))
	}
	if err := l.enforcer.Close(); err != nil {
		l.logger.Warn("failed to close enforcer resources", slog.String("error", err.Error()))
	}
}

func (l *Lifecycle) registerWithRetry(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, l.register(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}

func (l *Lifecycle) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	req := wire.RegisterRequest{
		AgentID:   l.cfg.AgentID,
		Name:      l.cfg.AgentName,
		Hostname:  hostname,
		OS:        string(l.platform),
		OSVersion: runtime.GOOS,
		Version:   l.version,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal register request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.ServerURL+"/api/v1/agents", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build register request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusConflict {
		return backoff.Permanent(fmt.Errorf("manager rejected registration: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("registration failed: status %d", resp.StatusCode)
	}
	return nil
}

func (l *Lifecycle) heartbeatLoop(ctx context.Context) {
	interval := l.cfg.HeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.heartbeat(ctx); err != nil {
				l.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
				l.setState(StateDegraded)
			} else if l.State() == StateDegraded {
				l.setState(StateMonitoring)
			}
		}
	}
}

func (l *Lifecycle) heartbeat(ctx context.Context) error {
	req := wire.HeartbeatRequest{
		Timestamp:     time.Now().UTC(),
		PolicyVersion: l.policies.Version(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/v1/agents/%s/heartbeat", l.cfg.ServerURL, l.cfg.AgentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat rejected: status %d", resp.StatusCode)
	}
	return nil
}

func (l *Lifecycle) policySyncLoop(ctx context.Context) {
	interval := l.cfg.PolicySyncInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.syncPolicies(ctx); err != nil {
				l.logger.Warn("policy sync failed, continuing with last-known bundle", slog.String("error", err.Error()))
				l.setState(StateDegraded)
			} else if l.State() == StateDegraded {
				l.setState(StateMonitoring)
			}
		}
	}
}

// syncPolicies implements spec §4.4's "fetch and install" step: it
// sends the currently installed version, and on anything but
// up_to_date, atomically installs the returned bundle and reconciles
// the global USB block state and the uploader's allow_events gate.
func (l *Lifecycle) syncPolicies(ctx context.Context) error {
	req := wire.SyncRequest{
		Platform:         l.platform,
		InstalledVersion: l.policies.Version(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/v1/agents/%s/policies/sync", l.cfg.ServerURL, l.cfg.AgentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("policy sync rejected: status %d", resp.StatusCode)
	}

	var bundle wire.BundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return fmt.Errorf("decode bundle response: %w", err)
	}
	if bundle.Status == "up_to_date" {
		return nil
	}

	byType := make(map[wire.PolicyType][]wire.Policy, len(bundle.Policies))
	for t, policies := range bundle.Policies {
		for _, pw := range policies {
			byType[t] = append(byType[t], policyFromWire(t, pw))
		}
	}
	l.policies.Install(bundle.Version, byType)

	l.mu.Lock()
	l.everInstalled = true
	l.mu.Unlock()
	l.uploader.SetAllowEvents(true)

	if l.policies.HasAnyUSBBlock() {
		l.usbState.Block()
	} else {
		_ = l.usbState.Unblock()
	}

	l.logger.Info("installed policy bundle", slog.String("version", bundle.Version), slog.Int("policy_count", bundle.PolicyCount))
	return nil
}

func policyFromWire(t wire.PolicyType, pw wire.PolicyWire) wire.Policy {
	return wire.Policy{
		PolicyID: pw.ID,
		Name:     pw.Name,
		Type:     t,
		Enabled:  pw.Enabled,
		Config:   pw.Config,
	}
}
