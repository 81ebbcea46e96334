// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dlperrors defines the sentinel error kinds shared by the agent
// and the manager. Callers use errors.Is against these sentinels rather
// than comparing strings, and wrap them with fmt.Errorf("...: %w", ...)
// to add context.
package dlperrors

import "errors"

var (
	// ErrInvalidIdentity is returned when an agent presents a malformed
	// or missing agent_id on enrollment or heartbeat.
	ErrInvalidIdentity = errors.New("invalid agent identity")

	// ErrUnknownAgent is returned when an operation references an
	// agent_id that the registry has never seen.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidEvent is returned when an uploaded event fails
	// structural validation (missing required fields, malformed enum).
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDuplicateEvent is returned when an event_id has already been
	// recorded in the event log. Callers should treat this as success,
	// not failure: the event was already durably stored.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrInvalidPolicyConfig is returned when a policy's type-specific
	// config fails validation (e.g. an unparseable regex extension list).
	ErrInvalidPolicyConfig = errors.New("invalid policy config")

	// ErrBusy is returned when a component must shed load rather than
	// accept more work right now (e.g. the event ingestor's queue is
	// full). Callers should back off and retry.
	ErrBusy = errors.New("component busy")

	// ErrTransientNetwork is returned for failures that are expected to
	// resolve on retry: connection refused, timeout, 5xx responses.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrFatalConfig is returned for configuration errors that cannot
	// be retried away: a malformed local config file, an unreadable
	// policy store path. The caller should stop, not degrade.
	ErrFatalConfig = errors.New("fatal configuration error")
)

// Kind classifies an error for manager HTTP status mapping and agent
// retry/degrade decisions. It is deliberately small and closed: new
// failure modes should map onto one of these before being introduced.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidIdentity
	KindUnknownAgent
	KindInvalidEvent
	KindDuplicateEvent
	KindInvalidPolicyConfig
	KindBusy
	KindTransientNetwork
	KindFatalConfig
)

// Classify maps an error (via errors.Is against the sentinels above) to
// a Kind. Errors that don't match any sentinel classify as KindUnknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidIdentity):
		return KindInvalidIdentity
	case errors.Is(err, ErrUnknownAgent):
		return KindUnknownAgent
	case errors.Is(err, ErrInvalidEvent):
		return KindInvalidEvent
	case errors.Is(err, ErrDuplicateEvent):
		return KindDuplicateEvent
	case errors.Is(err, ErrInvalidPolicyConfig):
		return KindInvalidPolicyConfig
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrTransientNetwork):
		return KindTransientNetwork
	case errors.Is(err, ErrFatalConfig):
		return KindFatalConfig
	default:
		return KindUnknown
	}
}

// String names a Kind for metrics labels and log fields.
func (k Kind) String() string {
	switch k {
	case KindInvalidIdentity:
		return "invalid_identity"
	case KindUnknownAgent:
		return "unknown_agent"
	case KindInvalidEvent:
		return "invalid_event"
	case KindDuplicateEvent:
		return "duplicate_event"
	case KindInvalidPolicyConfig:
		return "invalid_policy_config"
	case KindBusy:
		return "busy"
	case KindTransientNetwork:
		return "transient_network"
	case KindFatalConfig:
		return "fatal_config"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind to the manager's HTTP response code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidIdentity, KindInvalidEvent, KindInvalidPolicyConfig:
		return 400
	case KindUnknownAgent:
		return 404
	case KindDuplicateEvent:
		return 200
	case KindBusy:
		return 503
	case KindFatalConfig:
		return 500
	case KindTransientNetwork:
		return 502
	default:
		return 500
	}
}
