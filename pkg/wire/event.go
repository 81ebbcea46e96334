// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wire

import (
	"fmt"
	"time"
)

// SourceType distinguishes agent-reported events from cloud-intake
// normalized events.
type SourceType string

const (
	SourceAgent SourceType = "agent"
	SourceCloud SourceType = "cloud"
)

// EventType is the coarse event family.
type EventType string

const (
	EventTypeFile      EventType = "file"
	EventTypeClipboard EventType = "clipboard"
	EventTypeUSB       EventType = "usb"
)

// Event is the immutable record exchanged between the agent and the
// manager, and stored in the event log. event_id is generated at the
// point of observation and carried through the whole pipeline so that
// retries are idempotent .
type Event struct {
	EventID         string    `json:"event_id" validate:"required"`
	AgentID         string    `json:"agent_id" validate:"required"`
	SourceType      SourceType `json:"source_type"`
	EventType       EventType `json:"event_type" validate:"required"`
	EventSubtype    string    `json:"event_subtype"`
	Severity        Severity  `json:"severity"`
	Action          string    `json:"action"`
	FilePath        string    `json:"file_path,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`
	FileHash        string    `json:"file_hash,omitempty"`
	DetectedContent []string  `json:"detected_content,omitempty"`
	DataTypes       []string  `json:"data_types,omitempty"`
	MatchedPolicies []string  `json:"matched_policies,omitempty"`
	TotalMatches    int       `json:"total_matches,omitempty"`
	DeviceName      string    `json:"device_name,omitempty"`
	DeviceID        string    `json:"device_id,omitempty"`
	VendorID        string    `json:"vendor_id,omitempty"`
	ProductID       string    `json:"product_id,omitempty"`
	Description     string    `json:"description,omitempty"`
	UserEmail       string    `json:"user_email,omitempty"`
	Timestamp       time.Time `json:"timestamp" validate:"required"`

	// USB block partial-success fields .
	BlockSuccess    *bool `json:"block_success,omitempty"`
	RegistryBlocked *bool `json:"registry_blocked,omitempty"`
	DevicesDisabled int   `json:"devices_disabled,omitempty"`
	DrivesEjected   int   `json:"drives_ejected,omitempty"`

	// ReEvaluation holds the manager's own classifier run against the
	// current Policy Store .
	// Nil until the manager has ingested and re-evaluated the event.
	ReEvaluation *ReEvaluationResult `json:"re_evaluation,omitempty"`
}

// ReEvaluationResult is the manager-side classification outcome,
// stored alongside the agent-reported action so both views survive.
type ReEvaluationResult struct {
	MatchedPolicies []string          `json:"matched_policies"`
	ActionSummaries map[string]string `json:"policy_action_summaries"`
}

// Validate checks the required fields are present:
// event_id, agent_id, event_type, timestamp.
func (e *Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	return nil
}

// EventListResponse is the body of GET /api/v1/events.
type EventListResponse struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
}
