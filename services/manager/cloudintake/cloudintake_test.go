// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cloudintake

import (
	"encoding/json"
	"testing"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestNormalize_MapsKnownFields(t *testing.T) {
	raw := json.RawMessage(`{
		"object_path": "/shared/finance/q3.xlsx",
		"object_name": "q3.xlsx",
		"size_bytes": 4096,
		"actor_email": "alice@example.com",
		"description": "shared with external domain",
		"occurred_at": "2026-01-01T00:00:00Z"
	}`)

	e, err := Normalize(raw, "gdrive")
	require.NoError(t, err)
	require.Equal(t, "cloud:gdrive", e.AgentID)
	require.Equal(t, wire.SourceCloud, e.SourceType)
	require.Equal(t, wire.EventTypeFile, e.EventType)
	require.Equal(t, "gdrive", e.EventSubtype)
	require.Equal(t, "/shared/finance/q3.xlsx", e.FilePath)
	require.Equal(t, "alice@example.com", e.UserEmail)
	require.NotEmpty(t, e.EventID)
}

func TestNormalize_DefaultsTimestamp(t *testing.T) {
	raw := json.RawMessage(`{"object_path": "/x"}`)
	e, err := Normalize(raw, "s3")
	require.NoError(t, err)
	require.False(t, e.Timestamp.IsZero())
}

func TestNormalize_RejectsMalformedJSON(t *testing.T) {
	_, err := Normalize(json.RawMessage(`not json`), "s3")
	require.Error(t, err)
}
