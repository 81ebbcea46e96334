// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package usbdevice implements the endpoint's USB device monitor (spec
// §4.7): it subscribes to OS device-arrival/removal notifications and,
// on arrival with a storage interface, consults usb_device_monitoring
// policies to decide whether to log, alert, or perform a global USB
// mass-storage block. The OS notification source and the block
// mechanism are both expressed as small interfaces so the policy logic
// is testable without real hardware, per this module's convention of
// fakes over mocks at I/O boundaries.
package usbdevice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/enforcer"
)

// DeviceEvent is one arrival or removal notification from the OS.
type DeviceEvent struct {
	DeviceID     string
	DeviceName   string // OS friendly name; "" if unknown
	VendorID     string
	ProductID    string
	MountPoint   string // "" on removal
	IsRemoval    bool
	IsStorage    bool
}

// Notifier yields a stream of device arrival/removal notifications.
// The production implementation wraps the platform's device-change
// API (WM_DEVICECHANGE on Windows, udev/netlink on Linux); tests
// substitute a fake channel.
type Notifier interface {
	Events() <-chan DeviceEvent
}

// EventSink receives completed events for upload.
type EventSink interface {
	Emit(e wire.Event)
}

// Monitor consumes device notifications and enforces
// usb_device_monitoring policies.
type Monitor struct {
	logger   *slog.Logger
	notifier Notifier
	usbState *enforcer.USBStateController
	sink     EventSink
	policies func() []wire.Policy
	agentID  string
}

// Config bundles Monitor's constructor dependencies.
type Config struct {
	Logger   *slog.Logger
	Notifier Notifier
	USBState *enforcer.USBStateController
	Sink     EventSink
	Policies func() []wire.Policy
	AgentID  string
}

// New constructs a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
		usbState: cfg.USBState,
		sink:     cfg.Sink,
		policies: cfg.Policies,
		agentID:  cfg.AgentID,
	}
}

// Run consumes notifications until ctx is cancelled (spec §5 "one USB
// device notification loop, blocks on OS notifications").
func (m *Monitor) Run(ctx context.Context) {
	events := m.notifier.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handle(ev)
		}
	}
}

func (m *Monitor) handle(ev DeviceEvent) {
	if !ev.IsStorage {
		return
	}
	if ev.IsRemoval {
		m.sink.Emit(wire.Event{
			EventID:      uuid.NewString(),
			AgentID:      m.agentID,
			SourceType:   wire.SourceAgent,
			EventType:    wire.EventTypeUSB,
			EventSubtype: "usb_disconnect",
			Severity:     wire.SeverityLow,
			Action:       string(wire.ActionLog),
			DeviceName:   ev.DeviceName,
			DeviceID:     ev.DeviceID,
			VendorID:     ev.VendorID,
			ProductID:    ev.ProductID,
			Timestamp:    time.Now().UTC(),
		})
		return
	}

	devicePolicies := filterUSBDevicePolicies(m.policies())
	action, matched := effectiveAction(devicePolicies, "usb_connect")
	deviceName := ev.DeviceName
	if deviceName == "" {
		deviceName = fmt.Sprintf("USB Device (VID:%s PID:%s)", ev.VendorID, ev.ProductID)
	}

	switch action {
	case wire.ActionBlock:
		result := m.usbState.Block()
		success := result.Success
		registryBlocked := result.RegistryBlocked
		devicesDisabled := result.DevicesDisabled
		drivesEjected := result.DrivesEjected

		m.sink.Emit(wire.Event{
			EventID:         uuid.NewString(),
			AgentID:         m.agentID,
			SourceType:      wire.SourceAgent,
			EventType:       wire.EventTypeUSB,
			EventSubtype:    "usb_blocked",
			Severity:        wire.SeverityHigh,
			Action:          string(wire.ActionBlock),
			DeviceName:      deviceName,
			DeviceID:        ev.DeviceID,
			VendorID:        ev.VendorID,
			ProductID:       ev.ProductID,
			MatchedPolicies: matched,
			BlockSuccess:    &success,
			RegistryBlocked: &registryBlocked,
			DevicesDisabled: devicesDisabled,
			DrivesEjected:   drivesEjected,
			Timestamp:       time.Now().UTC(),
		})
	case wire.ActionAlert, wire.ActionLog:
		sev := wire.SeverityLow
		if action == wire.ActionAlert {
			sev = wire.SeverityMedium
		}
		m.sink.Emit(wire.Event{
			EventID:         uuid.NewString(),
			AgentID:         m.agentID,
			SourceType:      wire.SourceAgent,
			EventType:       wire.EventTypeUSB,
			EventSubtype:    "usb_connect",
			Severity:        sev,
			Action:          string(action),
			DeviceName:      deviceName,
			DeviceID:        ev.DeviceID,
			VendorID:        ev.VendorID,
			ProductID:       ev.ProductID,
			MatchedPolicies: matched,
			Timestamp:       time.Now().UTC(),
		})
	}
}

func filterUSBDevicePolicies(policies []wire.Policy) []wire.Policy {
	out := make([]wire.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled && p.Type == wire.PolicyTypeUSBDevice {
			out = append(out, p)
		}
	}
	return out
}

// effectiveAction collapses every usb_device_monitoring policy whose
// monitoredEvents contains subtype (or all/*) to a single action using
// the block > alert > log ordering spec §4.7 names, and returns the
// ids of the policies that contributed.
func effectiveAction(policies []wire.Policy, subtype string) (wire.Action, []string) {
	best := wire.ActionLog
	bestRank := 0
	var matched []string
	for _, p := range policies {
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		cfg, ok := decoded.(wire.USBDeviceConfig)
		if !ok {
			continue
		}
		if !monitorsEvent(cfg.MonitoredEvents, subtype) {
			continue
		}
		matched = append(matched, p.PolicyID)
		rank := usbActionRank(cfg.Action)
		if rank > bestRank {
			bestRank = rank
			best = cfg.Action
		}
	}
	return best, matched
}

func monitorsEvent(events []string, subtype string) bool {
	for _, e := range events {
		if e == subtype || e == "all" || e == "*" {
			return true
		}
	}
	return false
}

func usbActionRank(a wire.Action) int {
	switch a {
	case wire.ActionBlock:
		return 3
	case wire.ActionAlert:
		return 2
	case wire.ActionLog:
		return 1
	default:
		return 0
	}
}
