// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"sync"
	"sync/atomic"

	"github.com/cybersentinel/core/pkg/wire"
)

// PolicySet holds the agent's currently-installed bundle as an
// immutable snapshot, swapped atomically whenever a new bundle
// installs (spec §5's "shared immutable policy snapshot, swapped
// atomically" concurrency rule). Every monitor's Policies callback
// reads through Current, never touching the installer's own state.
type PolicySet struct {
	version atomic.Value // string
	all     atomic.Value // []wire.Policy

	mu      sync.Mutex
	byType  map[wire.PolicyType][]wire.Policy
}

// NewPolicySet returns an empty, version-less PolicySet.
func NewPolicySet() *PolicySet {
	ps := &PolicySet{byType: make(map[wire.PolicyType][]wire.Policy)}
	ps.version.Store("")
	ps.all.Store([]wire.Policy{})
	return ps
}

// Version reports the currently installed bundle version, "" if none.
func (ps *PolicySet) Version() string {
	return ps.version.Load().(string)
}

// Current returns every currently-installed policy across all types,
// the function signature every monitor's Policies field expects.
func (ps *PolicySet) Current() []wire.Policy {
	return ps.all.Load().([]wire.Policy)
}

// Install atomically replaces the snapshot with a freshly decoded
// bundle .
func (ps *PolicySet) Install(version string, byType map[wire.PolicyType][]wire.Policy) {
	var flat []wire.Policy
	for _, t := range wire.KnownPolicyTypes {
		flat = append(flat, byType[t]...)
	}
	ps.mu.Lock()
	ps.byType = byType
	ps.mu.Unlock()
	ps.all.Store(flat)
	ps.version.Store(version)
}

// HasType reports whether the currently installed bundle carries any
// enabled policy of the given type (spec §4.4's has_<type>_policies
// flags). The agent starts every monitor regardless of it, and arming
// the USB block is decided by HasAnyUSBBlock.
func (ps *PolicySet) HasType(t wire.PolicyType) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, p := range ps.byType[t] {
		if p.Enabled {
			return true
		}
	}
	return false
}

// HasAnyUSBBlock reports whether any enabled usb_device_monitoring
// policy's action is "block", the condition spec §4.7/§4.4 use to
// decide whether the global USB state should be reconciled to Blocked.
func (ps *PolicySet) HasAnyUSBBlock() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, p := range ps.byType[wire.PolicyTypeUSBDevice] {
		if !p.Enabled {
			continue
		}
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue
		}
		cfg, ok := decoded.(wire.USBDeviceConfig)
		if ok && cfg.Action == wire.ActionBlock {
			return true
		}
	}
	return false
}
