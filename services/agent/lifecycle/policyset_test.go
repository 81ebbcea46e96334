// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybersentinel/core/pkg/wire"
)

func TestPolicySet_StartsEmptyAndVersionless(t *testing.T) {
	ps := NewPolicySet()
	require.Equal(t, "", ps.Version())
	require.Empty(t, ps.Current())
	require.False(t, ps.HasType(wire.PolicyTypeFileSystem))
	require.False(t, ps.HasAnyUSBBlock())
}

func TestPolicySet_InstallSwapsAtomically(t *testing.T) {
	ps := NewPolicySet()
	byType := map[wire.PolicyType][]wire.Policy{
		wire.PolicyTypeFileSystem: {{PolicyID: "p1", Enabled: true, Type: wire.PolicyTypeFileSystem}},
		wire.PolicyTypeClipboard:  {{PolicyID: "p2", Enabled: false, Type: wire.PolicyTypeClipboard}},
	}
	ps.Install("v2", byType)

	require.Equal(t, "v2", ps.Version())
	require.Len(t, ps.Current(), 2)
	require.True(t, ps.HasType(wire.PolicyTypeFileSystem))
	require.False(t, ps.HasType(wire.PolicyTypeClipboard), "a disabled policy does not count toward HasType")
}

func TestPolicySet_HasAnyUSBBlockRequiresEnabledBlockAction(t *testing.T) {
	ps := NewPolicySet()

	blockPolicy := wire.Policy{
		PolicyID: "usb1",
		Enabled:  true,
		Type:     wire.PolicyTypeUSBDevice,
		Config: map[string]any{
			"events": map[string]any{"connect": true},
			"action": "block",
		},
	}
	logPolicy := wire.Policy{
		PolicyID: "usb2",
		Enabled:  true,
		Type:     wire.PolicyTypeUSBDevice,
		Config: map[string]any{
			"events": map[string]any{"connect": true},
			"action": "log",
		},
	}

	ps.Install("v1", map[wire.PolicyType][]wire.Policy{wire.PolicyTypeUSBDevice: {logPolicy}})
	require.False(t, ps.HasAnyUSBBlock())

	ps.Install("v2", map[wire.PolicyType][]wire.Policy{wire.PolicyTypeUSBDevice: {blockPolicy}})
	require.True(t, ps.HasAnyUSBBlock())

	disabledBlock := blockPolicy
	disabledBlock.Enabled = false
	ps.Install("v3", map[wire.PolicyType][]wire.Policy{wire.PolicyTypeUSBDevice: {disabledBlock}})
	require.False(t, ps.HasAnyUSBBlock(), "a disabled block policy must not arm the global USB block")
}

func TestPolicySet_CurrentReflectsKnownTypeOrder(t *testing.T) {
	ps := NewPolicySet()
	ps.Install("v1", map[wire.PolicyType][]wire.Policy{
		wire.PolicyTypeUSBDevice:  {{PolicyID: "usb", Type: wire.PolicyTypeUSBDevice}},
		wire.PolicyTypeFileSystem: {{PolicyID: "fs", Type: wire.PolicyTypeFileSystem}},
	})

	ids := make([]string, 0, 2)
	for _, p := range ps.Current() {
		ids = append(ids, p.PolicyID)
	}
	require.Equal(t, []string{"fs", "usb"}, ids)
}
