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

// Policy is the manager's authoritative record for one policy. Config
// is kept as a loosely-typed map so the store can persist any of the
// type-specific shapes below without a sum-type encoding; callers
// decode it into the concrete *Config struct matching Type via
// DecodeConfig.
type Policy struct {
	PolicyID    string         `json:"policy_id"`
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description"`
	Type        PolicyType     `json:"type" validate:"required,policytype"`
	Severity    Severity       `json:"severity" validate:"severity"`
	Priority    int            `json:"priority"`
	Enabled     bool           `json:"enabled"`
	Config      map[string]any `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate checks the policy's own fields and, if possible, its
// type-specific config. A config that fails to decode is reported to
// the caller, but the bundle assembler treats this as "exclude and
// log", not a store-level failure.
func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := DecodeConfig(p.Type, p.Config); err != nil {
		return fmt.Errorf("policy %s config: %w", p.PolicyID, err)
	}
	return nil
}

// FileSystemConfig is the type-specific config for
// file_system_monitoring and file_transfer_monitoring policies.
type FileSystemConfig struct {
	MonitoredPaths  []string `json:"monitoredPaths"`
	FileExtensions  []string `json:"fileExtensions"`
	MonitoredEvents []string `json:"monitoredEvents"`
	PatternsPredef  []string `json:"-"`
	PatternsCustom  []string `json:"-"`
	Patterns        Patterns `json:"patterns"`
	Action          Action   `json:"action" validate:"required"`
	QuarantinePath  string   `json:"quarantinePath,omitempty"`
	MinMatchCount   int      `json:"minMatchCount"`
}

// Patterns is the nested `patterns.predefined` / `patterns.custom`
// shape shared by file and clipboard policy configs.
type Patterns struct {
	Predefined []string `json:"predefined"`
	Custom     []string `json:"custom"`
}

// ClipboardConfig is the type-specific config for clipboard_monitoring
// policies.
type ClipboardConfig struct {
	Patterns            Patterns `json:"patterns"`
	Action              Action   `json:"action" validate:"required"`
	MonitoredEvents     []string `json:"monitoredEvents"`
	PollIntervalSeconds int      `json:"pollIntervalSeconds"`
}

// USBDeviceEvents is the `events` boolean-flag block for
// usb_device_monitoring policies, expanded by the bundle assembler
// into a monitoredEvents string list for the agent.
type USBDeviceEvents struct {
	Connect      bool `json:"connect"`
	Disconnect   bool `json:"disconnect"`
	FileTransfer bool `json:"fileTransfer"`
}

// USBDeviceConfig is the type-specific config for
// usb_device_monitoring policies.
type USBDeviceConfig struct {
	Events          USBDeviceEvents `json:"events"`
	Action          Action          `json:"action" validate:"required"`
	MonitoredEvents []string        `json:"monitoredEvents,omitempty"`
}

// USBTransferConfig is the type-specific config for
// usb_file_transfer_monitoring policies.
type USBTransferConfig struct {
	MonitoredPaths []string `json:"monitoredPaths"`
	Action         Action   `json:"action" validate:"required"`
	QuarantinePath string   `json:"quarantinePath,omitempty"`
	Patterns       Patterns `json:"patterns,omitempty"`
}

// DecodeConfig validates that raw matches the shape expected for
// policyType and returns it as one of the *Config structs above.
// An unrecognized policyType or a config that fails to marshal into
// its expected shape returns a plain error, not wrapped with
// ErrInvalidPolicyConfig (the policy store adds that wrapping when
// Policy.Validate fails); callers (the bundle assembler) exclude the
// policy rather than fail the whole bundle.
func DecodeConfig(policyType PolicyType, raw map[string]any) (any, error) {
	remarshal := func(dst any) error {
		return remapViaJSON(raw, dst)
	}

	switch policyType {
	case PolicyTypeFileSystem, PolicyTypeFileTransfer:
		var cfg FileSystemConfig
		if err := remarshal(&cfg); err != nil {
			return nil, err
		}
		if cfg.Action == "" {
			return nil, fmt.Errorf("missing action")
		}
		if cfg.MinMatchCount < 1 {
			cfg.MinMatchCount = 1
		}
		return cfg, nil
	case PolicyTypeClipboard:
		var cfg ClipboardConfig
		if err := remarshal(&cfg); err != nil {
			return nil, err
		}
		if cfg.Action == "" {
			return nil, fmt.Errorf("missing action")
		}
		if cfg.PollIntervalSeconds <= 0 {
			cfg.PollIntervalSeconds = 2
		}
		return cfg, nil
	case PolicyTypeUSBDevice:
		var cfg USBDeviceConfig
		if err := remarshal(&cfg); err != nil {
			return nil, err
		}
		if cfg.Action == "" {
			return nil, fmt.Errorf("missing action")
		}
		cfg.MonitoredEvents = expandUSBEvents(cfg.Events)
		return cfg, nil
	case PolicyTypeUSBTransfer:
		var cfg USBTransferConfig
		if err := remarshal(&cfg); err != nil {
			return nil, err
		}
		if cfg.Action == "" {
			return nil, fmt.Errorf("missing action")
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("unsupported policy type %q", policyType)
	}
}

// expandUSBEvents turns the boolean flag block into the
// monitoredEvents string list the agent consumes.
func expandUSBEvents(events USBDeviceEvents) []string {
	var out []string
	if events.Connect {
		out = append(out, "usb_connect")
	}
	if events.Disconnect {
		out = append(out, "usb_disconnect")
	}
	if events.FileTransfer {
		out = append(out, "usb_file_transfer")
	}
	return out
}

// ToWire transforms a Policy into the agent-facing PolicyWire shape,
// expanding usb_device_monitoring's events flags into monitoredEvents
// along the way .
func (p *Policy) ToWire() (PolicyWire, error) {
	decoded, err := DecodeConfig(p.Type, p.Config)
	if err != nil {
		return PolicyWire{}, err
	}
	cfg, err := configToMap(decoded)
	if err != nil {
		return PolicyWire{}, err
	}
	var action Action
	switch v := decoded.(type) {
	case FileSystemConfig:
		action = v.Action
	case ClipboardConfig:
		action = v.Action
	case USBDeviceConfig:
		action = v.Action
	case USBTransferConfig:
		action = v.Action
	}
	return PolicyWire{
		ID:      p.PolicyID,
		Name:    p.Name,
		Enabled: p.Enabled,
		Action:  action,
		Config:  cfg,
	}, nil
}
