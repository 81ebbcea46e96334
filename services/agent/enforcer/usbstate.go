// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package enforcer

import (
	"sync"
)

// USBState is the global USB mass-storage state machine spec §4.4/§4.7
// names: Unblocked <-> Blocked. Transitions are idempotent.
type USBState int

const (
	USBUnblocked USBState = iota
	USBBlocked
)

// DeviceController performs the OS-level actions behind a USB block:
// disabling the mass-storage driver, disabling individual device
// instances, and ejecting already-mounted removable drives. The
// platform implementations act directly through OS interfaces (the
// registry API on Windows, sysfs writes and unmount syscalls on Linux)
// without running external tools; tests substitute a fake that records
// calls instead of touching the host, per this module's
// fakes-over-mocks testing convention.
type DeviceController interface {
	// SetDriverDisabled toggles the OS-level mass-storage driver state.
	// Returns an error if the change could not be applied.
	SetDriverDisabled(disabled bool) error

	// DisableAllDevices disables every currently enumerated USB storage
	// device instance, returning how many it succeeded on.
	DisableAllDevices() (count int, err error)

	// EnableAllDevices re-enables every previously disabled instance.
	EnableAllDevices() error

	// EjectMountedDrives best-effort ejects every mounted removable
	// drive, returning how many it succeeded on.
	EjectMountedDrives() (count int, err error)
}

// USBStateController is the single "desired state controller" spec §9
// prescribes for the OS's USB mass-storage driver — a process-external
// singleton wrapped so every caller expresses a desired state and the
// controller reconciles idempotently, rather than each monitor/policy
// path poking hardware directly.
type USBStateController struct {
	mu      sync.Mutex
	state   USBState
	device  DeviceController
	initial USBState
}

// NewUSBStateController binds a controller to a DeviceController,
// recording Unblocked as the initial state every run starts from and
// must be restored to on shutdown .
func NewUSBStateController(device DeviceController) *USBStateController {
	return &USBStateController{device: device, state: USBUnblocked, initial: USBUnblocked}
}

// BlockResult mirrors the wire.Event partial-success fields spec §4.7
// requires when a block attempt only partly succeeds.
type BlockResult struct {
	Success         bool
	RegistryBlocked bool
	DevicesDisabled int
	DrivesEjected   int
}

// Block reconciles to the Blocked state, performing the two-step
// sequence spec §4.7 describes: disable the driver, then disable each
// enumerated device instance, then best-effort eject mounted drives.
// Calling Block while already Blocked is a no-op that reports success.
func (c *USBStateController) Block() BlockResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == USBBlocked {
		return BlockResult{Success: true}
	}

	var result BlockResult
	if err := c.device.SetDriverDisabled(true); err == nil {
		result.RegistryBlocked = true
	}
	if n, err := c.device.DisableAllDevices(); err == nil {
		result.DevicesDisabled = n
	} else if n > 0 {
		result.DevicesDisabled = n
	}
	if n, err := c.device.EjectMountedDrives(); err == nil || n > 0 {
		result.DrivesEjected = n
	}

	result.Success = result.RegistryBlocked
	if result.Success {
		c.state = USBBlocked
	}
	return result
}

// Unblock reconciles to the Unblocked state unconditionally: it is
// called both on an explicit policy-driven unblock and, per spec §4.4
// "Safety", whenever has_usb_device_policies transitions away from
// blocking, and again unconditionally on shutdown regardless of the
// original cause.
func (c *USBStateController) Unblock() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == USBUnblocked {
		return nil
	}
	if err := c.device.SetDriverDisabled(false); err != nil {
		return err
	}
	if err := c.device.EnableAllDevices(); err != nil {
		return err
	}
	c.state = USBUnblocked
	return nil
}

// State reports the controller's current reconciled state.
func (c *USBStateController) State() USBState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shutdown restores the USB state to its initial (unblocked) value
// unconditionally, per spec §4.4's shutdown sequencing and §8 testable
// property 8 ("for every run, the final state of the OS USB-storage
// driver equals its initial state").
func (c *USBStateController) Shutdown() error {
	return c.Unblock()
}
