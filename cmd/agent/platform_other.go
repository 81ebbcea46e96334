// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build !linux && !windows

package main

import "github.com/cybersentinel/core/services/agent/enforcer"

// newPlatformDeviceController falls back to the no-op controller on
// platforms with no native USB mass-storage backend wired in (darwin and
// others); USB blocking degrades to no-op while the rest of the agent
// still runs.
func newPlatformDeviceController() enforcer.DeviceController {
	return noopDeviceController{}
}
