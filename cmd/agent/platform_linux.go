// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build linux

package main

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cybersentinel/core/services/agent/enforcer"
)

// linuxDeviceController implements enforcer.DeviceController on Linux by
// writing to the usb_storage driver's sysfs bind/unbind attributes and by
// unmounting removable filesystems directly via unix.Unmount, rather than
// shelling out to udisksctl/eject .
type linuxDeviceController struct {
	driverPath string // /sys/bus/usb/drivers/usb-storage
	devicesDir string // /sys/bus/usb/devices
}

func newPlatformDeviceController() enforcer.DeviceController {
	return &linuxDeviceController{
		driverPath: "/sys/bus/usb/drivers/usb-storage",
		devicesDir: "/sys/bus/usb/devices",
	}
}

// SetDriverDisabled writes nothing: on Linux the blocking effect comes from
// unbinding every currently-bound device instance, which DisableAllDevices
// performs, so this only checks that the sysfs driver directory is
// reachable and returns the stat error if it is not. disabled is ignored.
func (c *linuxDeviceController) SetDriverDisabled(disabled bool) error {
	if _, err := os.Stat(c.driverPath); err != nil {
		return err
	}
	return nil
}

// DisableAllDevices unbinds every USB device instance currently bound to
// the usb-storage driver by writing its bus ID to the driver's "unbind"
// sysfs attribute.
func (c *linuxDeviceController) DisableAllDevices() (int, error) {
	entries, err := os.ReadDir(c.driverPath)
	if err != nil {
		return 0, err
	}
	unbind := filepath.Join(c.driverPath, "unbind")
	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), ":") {
			continue
		}
		if writeErr := os.WriteFile(unbind, []byte(e.Name()), 0200); writeErr == nil {
			count++
		}
	}
	return count, nil
}

// EnableAllDevices re-triggers driver probing for every USB device instance
// by writing "add" to each entry's "uevent" file under the devices
// directory (best-effort, write errors ignored), since a specific
// instance's bus ID may no longer be known once unbound.
func (c *linuxDeviceController) EnableAllDevices() error {
	entries, err := os.ReadDir(c.devicesDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		uevent := filepath.Join(c.devicesDir, e.Name(), "uevent")
		_ = os.WriteFile(uevent, []byte("add"), 0200)
	}
	return nil
}

// EjectMountedDrives unmounts every mount point under the conventional
// removable-media roots via a direct unix.Unmount syscall (MNT_DETACH,
// best-effort), rather than shelling out to umount(8).
func (c *linuxDeviceController) EjectMountedDrives() (int, error) {
	roots := []string{"/media", "/mnt", "/run/media"}
	count := 0
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			mp := filepath.Join(root, e.Name())
			if err := unix.Unmount(mp, unix.MNT_DETACH); err == nil {
				count++
			}
		}
	}
	return count, nil
}
