// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cloudintake is the thin normalizer spec §1 calls for without
// putting any cloud-storage connector in scope: it turns a raw,
// provider-shaped JSON payload into the same wire.Event shape agent
// reports use, so a single Ingestor serves both sources. It does not
// poll, authenticate against, or otherwise talk to any cloud provider
// — that integration is explicitly out of scope; this package only
// shapes bytes a caller already obtained however it chooses to.
package cloudintake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cybersentinel/core/pkg/wire"
	"github.com/google/uuid"
)

// genericCloudEvent is the minimal, provider-agnostic shape this
// package expects a cloud-storage source to have already reduced its
// own webhook/audit-log payload to. Real connectors (out of scope)
// would each have their own richer payload and map it down to this
// before calling Normalize.
type genericCloudEvent struct {
	ObjectPath  string    `json:"object_path"`
	ObjectName  string    `json:"object_name"`
	SizeBytes   int64     `json:"size_bytes"`
	ActorEmail  string    `json:"actor_email"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Normalize maps a raw cloud-storage payload into a wire.Event ready
// for Ingestor.Ingest. sourceType identifies the originating connector
// (e.g. "gdrive", "onedrive", "s3") and is recorded as the event's
// subtype since cloud events have no agent-assigned event_id of their
// own to disambiguate by.
func Normalize(raw json.RawMessage, sourceType string) (wire.Event, error) {
	var src genericCloudEvent
	if err := json.Unmarshal(raw, &src); err != nil {
		return wire.Event{}, fmt.Errorf("cloudintake: normalize %s payload: %w", sourceType, err)
	}
	if src.OccurredAt.IsZero() {
		src.OccurredAt = time.Now().UTC()
	}

	return wire.Event{
		EventID:      uuid.NewString(),
		AgentID:      "cloud:" + sourceType,
		SourceType:   wire.SourceCloud,
		EventType:    wire.EventTypeFile,
		EventSubtype: sourceType,
		Severity:     wire.SeverityLow,
		Action:       string(wire.ActionLog),
		FilePath:     src.ObjectPath,
		FileName:     src.ObjectName,
		FileSize:     src.SizeBytes,
		Description:  src.Description,
		UserEmail:    src.ActorEmail,
		Timestamp:    src.OccurredAt,
	}, nil
}
