// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package usbdevice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/cybersentinel/core/services/agent/enforcer"
)

type fakeNotifier struct {
	events chan DeviceEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan DeviceEvent, 4)}
}

func (f *fakeNotifier) Events() <-chan DeviceEvent { return f.events }

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
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.events)
		s.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Event, len(s.events))
	copy(out, s.events)
	return out
}

type fakeDeviceController struct {
	disableCount int
	ejectCount   int
}

func (f *fakeDeviceController) SetDriverDisabled(bool) error { return nil }
func (f *fakeDeviceController) DisableAllDevices() (int, error) {
	f.disableCount++
	return 2, nil
}
func (f *fakeDeviceController) EnableAllDevices() error { return nil }
func (f *fakeDeviceController) EjectMountedDrives() (int, error) {
	f.ejectCount++
	return 1, nil
}

func blockPolicy(id string) wire.Policy {
	return wire.Policy{
		PolicyID: id,
		Type:     wire.PolicyTypeUSBDevice,
		Enabled:  true,
		Config: map[string]any{
			"events": map[string]any{"connect": true},
			"action": "block",
		},
	}
}

func alertPolicy(id string) wire.Policy {
	return wire.Policy{
		PolicyID: id,
		Type:     wire.PolicyTypeUSBDevice,
		Enabled:  true,
		Config: map[string]any{
			"events": map[string]any{"connect": true},
			"action": "alert",
		},
	}
}

func TestMonitor_ArrivalWithBlockPolicyBlocksAndReportsCounts(t *testing.T) {
	notifier := newFakeNotifier()
	sink := &fakeSink{}
	dev := &fakeDeviceController{}
	usbState := enforcer.NewUSBStateController(dev)
	policies := []wire.Policy{blockPolicy("p1")}

	m := New(Config{
		Notifier: notifier,
		USBState: usbState,
		Sink:     sink,
		Policies: func() []wire.Policy { return policies },
		AgentID:  "agent-1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	notifier.events <- DeviceEvent{DeviceID: "dev1", DeviceName: "Kingston USB", IsStorage: true}

	events := sink.wait(t, 1)
	require.Len(t, events, 1)
	require.Equal(t, "usb_blocked", events[0].EventSubtype)
	require.Equal(t, "block", events[0].Action)
	require.NotNil(t, events[0].BlockSuccess)
	require.True(t, *events[0].BlockSuccess)
	require.Equal(t, 2, events[0].DevicesDisabled)
	require.Equal(t, 1, events[0].DrivesEjected)
	require.Equal(t, enforcer.USBBlocked, usbState.State())
}

func TestMonitor_ArrivalWithAlertPolicyOnlyAlertsDoesNotBlock(t *testing.T) {
	notifier := newFakeNotifier()
	sink := &fakeSink{}
	dev := &fakeDeviceController{}
	usbState := enforcer.NewUSBStateController(dev)
	policies := []wire.Policy{alertPolicy("p1")}

	m := New(Config{
		Notifier: notifier,
		USBState: usbState,
		Sink:     sink,
		Policies: func() []wire.Policy { return policies },
		AgentID:  "agent-1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	notifier.events <- DeviceEvent{DeviceID: "dev1", IsStorage: true}

	events := sink.wait(t, 1)
	require.Len(t, events, 1)
	require.Equal(t, "usb_connect", events[0].EventSubtype)
	require.Equal(t, "alert", events[0].Action)
	require.Equal(t, enforcer.USBUnblocked, usbState.State())
}

func TestMonitor_NonStorageArrivalIsIgnored(t *testing.T) {
	notifier := newFakeNotifier()
	sink := &fakeSink{}
	usbState := enforcer.NewUSBStateController(&fakeDeviceController{})

	m := New(Config{
		Notifier: notifier,
		USBState: usbState,
		Sink:     sink,
		Policies: func() []wire.Policy { return []wire.Policy{blockPolicy("p1")} },
		AgentID:  "agent-1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	notifier.events <- DeviceEvent{DeviceID: "mouse1", IsStorage: false}
	notifier.events <- DeviceEvent{DeviceID: "usb1", IsStorage: true}

	events := sink.wait(t, 1)
	require.Len(t, events, 1, "a non-storage device must never reach policy evaluation")
	require.Equal(t, "usb1", events[0].DeviceID)
}

func TestMonitor_RemovalEmitsDisconnectRegardlessOfPolicies(t *testing.T) {
	notifier := newFakeNotifier()
	sink := &fakeSink{}
	usbState := enforcer.NewUSBStateController(&fakeDeviceController{})

	m := New(Config{
		Notifier: notifier,
		USBState: usbState,
		Sink:     sink,
		Policies: func() []wire.Policy { return nil },
		AgentID:  "agent-1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	notifier.events <- DeviceEvent{DeviceID: "usb1", IsStorage: true, IsRemoval: true}

	events := sink.wait(t, 1)
	require.Len(t, events, 1)
	require.Equal(t, "usb_disconnect", events[0].EventSubtype)
}

func TestEffectiveAction_BlockOutranksAlertOutranksLog(t *testing.T) {
	policies := []wire.Policy{alertPolicy("p1"), blockPolicy("p2")}
	action, matched := effectiveAction(policies, "usb_connect")
	require.Equal(t, wire.ActionBlock, action)
	require.ElementsMatch(t, []string{"p1", "p2"}, matched)
}

func TestEffectiveAction_IgnoresPoliciesNotMonitoringTheSubtype(t *testing.T) {
	disconnectOnly := wire.Policy{
		PolicyID: "p1",
		Type:     wire.PolicyTypeUSBDevice,
		Enabled:  true,
		Config: map[string]any{
			"events": map[string]any{"disconnect": true},
			"action": "block",
		},
	}
	action, matched := effectiveAction([]wire.Policy{disconnectOnly}, "usb_connect")
	require.Equal(t, wire.ActionLog, action)
	require.Empty(t, matched)
}

func TestFilterUSBDevicePolicies_ExcludesDisabledAndOtherTypes(t *testing.T) {
	policies := []wire.Policy{
		blockPolicy("p1"),
		{PolicyID: "p2", Type: wire.PolicyTypeUSBDevice, Enabled: false},
		{PolicyID: "p3", Type: wire.PolicyTypeFileSystem, Enabled: true},
	}
	filtered := filterUSBDevicePolicies(policies)
	require.Len(t, filtered, 1)
	require.Equal(t, "p1", filtered[0].PolicyID)
}
