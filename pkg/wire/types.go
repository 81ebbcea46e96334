// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package wire defines the JSON shapes exchanged between the endpoint
// agent and the manager: agent registration/heartbeat, policy bundles,
// and events. Every exported request type carries `validate` struct
// tags checked through a single package-level validator instance, the
// same pattern the manager's chat request types use.
package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cybersentinel/core/pkg/dlperrors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("policytype", validatePolicyType)
	validate.RegisterValidation("severity", validateSeverity)
	validate.RegisterValidation("platform", validatePlatform)
}

// PolicyType enumerates the closed set of policy families the manager
// and the agent both understand.
type PolicyType string

const (
	PolicyTypeFileSystem    PolicyType = "file_system_monitoring"
	PolicyTypeFileTransfer  PolicyType = "file_transfer_monitoring"
	PolicyTypeClipboard     PolicyType = "clipboard_monitoring"
	PolicyTypeUSBDevice     PolicyType = "usb_device_monitoring"
	PolicyTypeUSBTransfer   PolicyType = "usb_file_transfer_monitoring"
	PolicyTypeCloudStorage  PolicyType = "cloud_storage_monitoring"
)

// KnownPolicyTypes lists every PolicyType the bundle assembler groups
// output under, in the fixed order the bundle payload uses.
var KnownPolicyTypes = []PolicyType{
	PolicyTypeFileSystem,
	PolicyTypeClipboard,
	PolicyTypeUSBDevice,
	PolicyTypeUSBTransfer,
	PolicyTypeFileTransfer,
}

func validatePolicyType(fl validator.FieldLevel) bool {
	switch PolicyType(fl.Field().String()) {
	case PolicyTypeFileSystem, PolicyTypeFileTransfer, PolicyTypeClipboard,
		PolicyTypeUSBDevice, PolicyTypeUSBTransfer, PolicyTypeCloudStorage:
		return true
	default:
		return false
	}
}

// Severity enumerates the policy/event severity scale.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func validateSeverity(fl validator.FieldLevel) bool {
	switch Severity(fl.Field().String()) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, "":
		return true
	default:
		return false
	}
}

// Action enumerates the enforcement actions a policy may request.
type Action string

const (
	ActionLog        Action = "log"
	ActionAlert      Action = "alert"
	ActionQuarantine Action = "quarantine"
	ActionBlock      Action = "block"
)

// Platform enumerates the host operating systems the bundle assembler
// scopes policies by.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

func validatePlatform(fl validator.FieldLevel) bool {
	switch Platform(fl.Field().String()) {
	case PlatformWindows, PlatformLinux, PlatformMacOS:
		return true
	default:
		return false
	}
}

// Agent is the manager's stored record for one enrolled endpoint.
type Agent struct {
	AgentID                string    `json:"agent_id"`
	Name                   string    `json:"name"`
	Hostname               string    `json:"hostname"`
	OS                     string    `json:"os"`
	OSVersion              string    `json:"os_version"`
	IPAddress              string    `json:"ip_address"`
	Version                string    `json:"version"`
	Capabilities           []string  `json:"capabilities,omitempty"`
	FirstSeen              time.Time `json:"first_seen"`
	LastSeen               time.Time `json:"last_seen"`
	InstalledPolicyVersion string    `json:"installed_policy_version,omitempty"`
	Active                 bool      `json:"active"`
}

// RegisterRequest is the body of POST /api/v1/agents.
type RegisterRequest struct {
	AgentID      string   `json:"agent_id" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	Hostname     string   `json:"hostname" validate:"required"`
	OS           string   `json:"os" validate:"required"`
	OSVersion    string   `json:"os_version"`
	IPAddress    string   `json:"ip_address"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Validate checks structural validity beyond what struct tags express:
// agent_id must be non-empty after trimming, matching spec's
// InvalidIdentity rule.
func (r *RegisterRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("register request: %w", err)
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return fmt.Errorf("register request: agent_id is blank: %w", dlperrors.ErrInvalidIdentity)
	}
	return nil
}

// HeartbeatRequest is the body of PUT /api/v1/agents/{agent_id}/heartbeat.
type HeartbeatRequest struct {
	Timestamp     time.Time `json:"timestamp" validate:"required"`
	IPAddress     string    `json:"ip_address"`
	PolicyVersion string    `json:"policy_version,omitempty"`
}

func (r *HeartbeatRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("heartbeat request: %w", err)
	}
	return nil
}

// SyncRequest is the body of POST /api/v1/agents/{agent_id}/policies/sync.
type SyncRequest struct {
	Platform        Platform `json:"platform" validate:"required,platform"`
	InstalledVersion string  `json:"installed_version,omitempty"`
}

func (r *SyncRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	return nil
}

// PolicyWire is a policy transformed into the agent-facing shape
// included in a bundle: `{id, name, enabled, action, config}`.
type PolicyWire struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
	Action  Action         `json:"action"`
	Config  map[string]any `json:"config"`
}

// BundleResponse is the response to a policy sync that is not
// up-to-date. When Status == "up_to_date", only Status is populated.
type BundleResponse struct {
	Status      string                    `json:"status,omitempty"`
	Version     string                    `json:"version,omitempty"`
	PolicyCount int                       `json:"policy_count,omitempty"`
	Platform    Platform                  `json:"platform,omitempty"`
	Policies    map[PolicyType][]PolicyWire `json:"policies,omitempty"`
}

// UpToDateResponse is the shape returned when the caller's installed
// version already matches the current bundle version.
func UpToDateResponse() BundleResponse {
	return BundleResponse{Status: "up_to_date"}
}
