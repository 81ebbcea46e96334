// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package enforcer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDeviceController records every call instead of touching real
// hardware, per this module's fakes-over-mocks testing convention.
type fakeDeviceController struct {
	mu sync.Mutex

	driverDisabled   bool
	disableErr       error
	enableErr        error
	devicesToDisable int
	drivesToEject    int

	setDriverCalls int
	disableCalls   int
	enableCalls    int
	ejectCalls     int
}

func (f *fakeDeviceController) SetDriverDisabled(disabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setDriverCalls++
	if disabled && f.disableErr != nil {
		return f.disableErr
	}
	if !disabled && f.enableErr != nil {
		return f.enableErr
	}
	f.driverDisabled = disabled
	return nil
}

func (f *fakeDeviceController) DisableAllDevices() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disableCalls++
	return f.devicesToDisable, nil
}

func (f *fakeDeviceController) EnableAllDevices() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableCalls++
	return f.enableErr
}

func (f *fakeDeviceController) EjectMountedDrives() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ejectCalls++
	return f.drivesToEject, nil
}

func TestUSBStateController_BlockIsIdempotent(t *testing.T) {
	dev := &fakeDeviceController{devicesToDisable: 3, drivesToEject: 1}
	c := NewUSBStateController(dev)

	first := c.Block()
	require.True(t, first.Success)
	require.True(t, first.RegistryBlocked)
	require.Equal(t, 3, first.DevicesDisabled)
	require.Equal(t, 1, first.DrivesEjected)
	require.Equal(t, USBBlocked, c.State())

	second := c.Block()
	require.True(t, second.Success)
	require.Equal(t, 1, dev.setDriverCalls, "a repeated Block while already blocked must not re-touch the driver")
}

func TestUSBStateController_UnblockIsIdempotent(t *testing.T) {
	dev := &fakeDeviceController{}
	c := NewUSBStateController(dev)

	require.NoError(t, c.Unblock(), "unblocking an already-unblocked controller is a no-op")
	require.Equal(t, 0, dev.setDriverCalls)

	c.Block()
	require.NoError(t, c.Unblock())
	require.Equal(t, USBUnblocked, c.State())
	require.Equal(t, 1, dev.enableCalls)
}

func TestUSBStateController_BlockPartialFailureStillReportsCounts(t *testing.T) {
	dev := &fakeDeviceController{disableErr: errors.New("driver busy"), devicesToDisable: 2}
	c := NewUSBStateController(dev)

	result := c.Block()
	require.False(t, result.Success, "driver disable failure means Block did not fully succeed")
	require.False(t, result.RegistryBlocked)
	require.Equal(t, 2, result.DevicesDisabled, "device counts are still reported after a driver failure")
	require.Equal(t, USBUnblocked, c.State(), "a failed block must not claim the Blocked state")
}

func TestUSBStateController_ShutdownRestoresInitialState(t *testing.T) {
	dev := &fakeDeviceController{}
	c := NewUSBStateController(dev)

	c.Block()
	require.Equal(t, USBBlocked, c.State())

	require.NoError(t, c.Shutdown())
	require.Equal(t, c.initial, c.State(), "shutdown must restore the state every run started from")
}

func TestUSBStateController_ShutdownFromUnblockedIsNoop(t *testing.T) {
	dev := &fakeDeviceController{}
	c := NewUSBStateController(dev)

	require.NoError(t, c.Shutdown())
	require.Equal(t, 0, dev.setDriverCalls)
}

func TestUSBStateController_UnblockPropagatesEnableFailure(t *testing.T) {
	dev := &fakeDeviceController{enableErr: errors.New("stuck")}
	c := NewUSBStateController(dev)
	c.Block()

	err := c.Unblock()
	require.Error(t, err)
	require.Equal(t, USBBlocked, c.State(), "a failed unblock must not claim the Unblocked state")
}
