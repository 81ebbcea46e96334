// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config is the endpoint's local configuration file (spec §6
// "Local endpoint config"): server_url, a generated-once agent_id,
// agent_name, and the heartbeat/policy-sync intervals. It is loaded
// and saved as plain JSON via encoding/json, the same remarshal
// approach pkg/wire uses for policy configs — unknown fields are
// ignored by encoding/json.Unmarshal's default behavior, already
// satisfying spec §6's "unknown fields ignored" requirement.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/google/uuid"
)

// Default tuning values .
const (
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultPolicySyncInterval  = 60 * time.Second
	DefaultMaxFileSizeMB       = 10
	DefaultRestorationWindow   = 10 * time.Minute
	DefaultRestoredGracePeriod = 30 * time.Second
	DefaultTransferQuarantine  = 2 * time.Minute
	DefaultNetworkTimeout      = 30 * time.Second
)

// Config is the shape persisted at the endpoint's local config path.
// Durations are stored in seconds on the wire for readability in the
// JSON file, matching the reference's preference for plain scalar
// fields over marshaled time.Duration strings.
type Config struct {
	ServerURL              string `json:"server_url"`
	AgentID                string `json:"agent_id"`
	AgentName              string `json:"agent_name"`
	HeartbeatIntervalSec   int    `json:"heartbeat_interval"`
	PolicySyncIntervalSec  int    `json:"policy_sync_interval"`
	QuarantinePath         string `json:"quarantine_path,omitempty"`
	DataDir                string `json:"data_dir,omitempty"`
}

// HeartbeatInterval returns the configured heartbeat cadence as a
// time.Duration, substituting the default when unset or invalid.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalSec <= 0 {
		return DefaultHeartbeatInterval
	}
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// PolicySyncInterval returns the configured policy-sync cadence.
func (c *Config) PolicySyncInterval() time.Duration {
	if c.PolicySyncIntervalSec <= 0 {
		return DefaultPolicySyncInterval
	}
	return time.Duration(c.PolicySyncIntervalSec) * time.Second
}

// EnsureDefaults fills in zero-valued fields: a freshly generated
// agent_id ,
// a hostname-derived agent_name, and the default intervals.
func (c *Config) EnsureDefaults() {
	if c.AgentID == "" {
		c.AgentID = uuid.NewString()
	}
	if c.AgentName == "" {
		if host, err := os.Hostname(); err == nil {
			c.AgentName = host
		} else {
			c.AgentName = c.AgentID
		}
	}
	if c.HeartbeatIntervalSec <= 0 {
		c.HeartbeatIntervalSec = int(DefaultHeartbeatInterval.Seconds())
	}
	if c.PolicySyncIntervalSec <= 0 {
		c.PolicySyncIntervalSec = int(DefaultPolicySyncInterval.Seconds())
	}
}

// Validate reports dlperrors.ErrFatalConfig when the config is missing
// values the agent cannot run without. EnsureDefaults should be called
// first; Validate only rejects what defaulting cannot repair.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required: %w", dlperrors.ErrFatalConfig)
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required: %w", dlperrors.ErrFatalConfig)
	}
	return nil
}

// ApplyEnv overrides fields from the environment variables spec §6
// names: CYBERSENTINEL_SERVER_URL overrides server_url. LogDir is read
// and returned separately by the caller (it configures pkg/logging,
// not this struct) via CYBERSENTINEL_LOG_DIR.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CYBERSENTINEL_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
}

// LogDirFromEnv returns CYBERSENTINEL_LOG_DIR, or def if unset.
func LogDirFromEnv(def string) string {
	if v := os.Getenv("CYBERSENTINEL_LOG_DIR"); v != "" {
		return v
	}
	return def
}

// Load reads and parses the config file at path. A missing file is
// not an error: Load returns a zero-value Config so the caller can
// EnsureDefaults and Save it, matching spec §4.4's "load/generate
// agent_id" startup step.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config %s: %w: %w", path, dlperrors.ErrFatalConfig, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w: %w", path, dlperrors.ErrFatalConfig, err)
	}
	return &c, nil
}

// Save writes the config back to path, creating parent directories as
// needed, so a first-run agent_id generation survives restart.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// DefaultPath returns the conventional config file location under the
// user's home directory, used when CYBERSENTINEL_CONFIG is not set.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cybersentinel/agent.json"
	}
	return filepath.Join(home, ".cybersentinel", "agent.json")
}
