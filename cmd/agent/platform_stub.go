// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"

	"github.com/cybersentinel/core/services/agent/enforcer"
	"github.com/cybersentinel/core/services/agent/monitors/usbdevice"
	"github.com/cybersentinel/core/services/agent/monitors/usbtransfer"
)

// noopDeviceController is the enforcer.DeviceController used on platforms
// with no native backend wired in (and by tests): it reports every
// operation as successful without touching the host.
type noopDeviceController struct{}

func (noopDeviceController) SetDriverDisabled(disabled bool) error { return nil }
func (noopDeviceController) DisableAllDevices() (int, error)       { return 0, nil }
func (noopDeviceController) EnableAllDevices() error               { return nil }
func (noopDeviceController) EjectMountedDrives() (int, error)      { return 0, nil }

var _ enforcer.DeviceController = noopDeviceController{}

// emptyDeviceNotifier reports no device arrival/removal notifications.
// A real deployment wires this to WM_DEVICECHANGE on Windows or a
// udev/netlink listener on Linux.
type emptyDeviceNotifier struct {
	ch chan usbdevice.DeviceEvent
}

func newEmptyDeviceNotifier() *emptyDeviceNotifier {
	return &emptyDeviceNotifier{ch: make(chan usbdevice.DeviceEvent)}
}

func (n *emptyDeviceNotifier) Events() <-chan usbdevice.DeviceEvent { return n.ch }

// mountPointDriveLister lists removable drives by checking the
// conventional Linux/macOS removable-media mount roots. A real
// deployment replaces this with the platform's volume-enumeration API
// (DeviceIoControl on Windows, IOKit on macOS, udisks2 on Linux).
type mountPointDriveLister struct {
	roots []string
}

func newMountPointDriveLister() *mountPointDriveLister {
	return &mountPointDriveLister{roots: []string{"/media", "/mnt", "/run/media", "/Volumes"}}
}

func (l *mountPointDriveLister) List() ([]usbtransfer.Drive, error) {
	var drives []usbtransfer.Drive
	for _, root := range l.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			mp := filepath.Join(root, e.Name())
			drives = append(drives, usbtransfer.Drive{ID: mp, MountPoint: mp})
		}
	}
	return drives, nil
}
