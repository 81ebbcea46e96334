// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"testing"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/stretchr/testify/require"
)

func ssnPolicy(id string) wire.Policy {
	return wire.Policy{
		PolicyID: id,
		Name:     "ssn file policy",
		Type:     wire.PolicyTypeFileSystem,
		Severity: wire.SeverityCritical,
		Priority: 10,
		Enabled:  true,
		Config: map[string]any{
			"monitoredPaths":  []string{"/tmp/watch"},
			"fileExtensions":  []string{".txt"},
			"monitoredEvents": []string{"file_modified"},
			"patterns":        map[string]any{"predefined": []string{"ssn"}},
			"action":          "quarantine",
			"minMatchCount":   1,
		},
	}
}

func TestClassify_ScenarioA_SSNModify(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	content := []byte("hello\nSSN: 123-45-6789")
	result := c.Classify(content, wire.EventTypeFile, "file_modified", []wire.Policy{ssnPolicy("p1")})

	require.True(t, result.HasMatches())
	require.Equal(t, []string{"p1"}, result.MatchedPolicies)
	require.Equal(t, []string{"ssn"}, result.DataTypes)
	require.Equal(t, 1, result.TotalMatches)
	require.Equal(t, wire.ActionQuarantine, result.Action)
	require.Equal(t, wire.SeverityCritical, result.Severity)
}

func TestClassify_SubtypeFiltering(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	content := []byte("SSN: 123-45-6789")
	// Policy only cares about file_modified; a file_created observation
	// must not match .
	result := c.Classify(content, wire.EventTypeFile, "file_created", []wire.Policy{ssnPolicy("p1")})
	require.False(t, result.HasMatches())
}

func TestClassify_ScenarioF_ClipboardZeroMatchSuppression(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	policy := wire.Policy{
		PolicyID: "cp1",
		Type:     wire.PolicyTypeClipboard,
		Severity: wire.SeverityMedium,
		Enabled:  true,
		Config: map[string]any{
			"patterns": map[string]any{"predefined": []string{"email"}},
			"action":   "alert",
		},
	}

	none := c.Classify([]byte("hello world"), wire.EventTypeClipboard, "clipboard_copy", []wire.Policy{policy})
	require.False(t, none.HasMatches())

	matched := c.Classify([]byte("contact foo@bar.com"), wire.EventTypeClipboard, "clipboard_copy", []wire.Policy{policy})
	require.True(t, matched.HasMatches())
	require.Equal(t, []string{"email"}, matched.DataTypes)
}

func TestClassify_RedactsSensitiveSamples(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	policy := wire.Policy{
		PolicyID: "pw1",
		Type:     wire.PolicyTypeClipboard,
		Severity: wire.SeverityHigh,
		Enabled:  true,
		Config: map[string]any{
			"patterns": map[string]any{"predefined": []string{"password"}},
			"action":   "alert",
		},
	}
	result := c.Classify([]byte("password: hunter2"), wire.EventTypeClipboard, "clipboard_copy", []wire.Policy{policy})
	require.True(t, result.HasMatches())
	require.Equal(t, []string{"[REDACTED]"}, result.Samples["password"])
}

func TestClassify_UnknownPatternNameMatchesNothingNotError(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	policy := ssnPolicy("p1")
	policy.Config["patterns"] = map[string]any{"predefined": []string{"not_a_real_detector"}}
	result := c.Classify([]byte("SSN: 123-45-6789"), wire.EventTypeFile, "file_modified", []wire.Policy{policy})
	require.False(t, result.HasMatches())
}

func TestClassify_IsPure(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	policies := []wire.Policy{ssnPolicy("p1")}
	content := []byte("SSN: 123-45-6789")

	first := c.Classify(content, wire.EventTypeFile, "file_modified", policies)
	second := c.Classify(content, wire.EventTypeFile, "file_modified", policies)
	require.Equal(t, first, second)
}

func TestClassify_ActionOrderingBlockBeatsQuarantine(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	quarantine := ssnPolicy("p1")
	block := ssnPolicy("p2")
	block.Config["action"] = "block"
	block.Priority = 5

	result := c.Classify([]byte("SSN: 123-45-6789"), wire.EventTypeFile, "file_modified", []wire.Policy{quarantine, block})
	require.Equal(t, wire.ActionBlock, result.Action)
}
