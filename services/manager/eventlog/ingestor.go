// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eventlog

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/cybersentinel/core/pkg/wire"
)

// PolicyProvider is the narrow view of the Policy Store the Ingestor
// needs: the currently enabled policy set, used for re-evaluation
// . services/manager/policystore.Store satisfies
// this.
type PolicyProvider interface {
	EnabledPolicies() []wire.Policy
}

// ClassifyResult mirrors services/classifier.Result's fields the
// Ingestor consumes, kept as a local type so this package does not
// import services/classifier directly — re-evaluation content is
// rarely available server-side (the agent does not upload raw file
// bytes), so in practice re-evaluation runs against the event's own
// detected_content samples rather than original content; see the
// manager HTTP layer's reEvaluate, which builds the classify callback.
type ClassifyResult struct {
	MatchedPolicies []string
	PolicyActions   map[string]string
}

// DefaultMaxQueueDepth bounds the number of events the Ingestor will
// buffer before shedding load with dlperrors.ErrBusy (spec §4.3
// "back-pressure").
const DefaultMaxQueueDepth = 10000

// Ingestor implements spec §4.3's ingest(event) algorithm: validate,
// de-duplicate, re-evaluate, append.
type Ingestor struct {
	log      *Log
	policies PolicyProvider
	logger   *slog.Logger

	maxQueueDepth int64
	inFlight      atomic.Int64
}

// NewIngestor binds an Ingestor to a Log and a PolicyProvider.
func NewIngestor(log *Log, policies PolicyProvider, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		log:           log,
		policies:      policies,
		logger:        logger,
		maxQueueDepth: DefaultMaxQueueDepth,
	}
}

// WithMaxQueueDepth overrides the default back-pressure high-water
// mark, primarily for tests.
func (in *Ingestor) WithMaxQueueDepth(n int64) *Ingestor {
	in.maxQueueDepth = n
	return in
}

// Ingest runs spec §4.3's algorithm:
//  1. Structural validation (dlperrors.ErrInvalidEvent on failure).
//  2. Idempotency: an already-seen event_id is not re-appended or
//     re-evaluated; Ingest returns the stored event together with
//     dlperrors.ErrDuplicateEvent, a kind callers answer as success.
//  3. Re-evaluation against the manager's current enabled policy set,
//     recording the outcome on the stored event without altering the
//     agent-reported action .
//  4. Append to the log.
//
// Back-pressure: when the number of in-flight Ingest calls exceeds
// maxQueueDepth, Ingest returns dlperrors.ErrBusy immediately rather
// than blocking .
func (in *Ingestor) Ingest(e wire.Event, classify func(enabled []wire.Policy) ClassifyResult) (wire.Event, error) {
	if in.inFlight.Load() >= in.maxQueueDepth {
		return wire.Event{}, fmt.Errorf("ingest event %s: %w", e.EventID, dlperrors.ErrBusy)
	}
	in.inFlight.Add(1)
	defer in.inFlight.Add(-1)

	if err := e.Validate(); err != nil {
		return wire.Event{}, fmt.Errorf("%w: %w", dlperrors.ErrInvalidEvent, err)
	}

	if in.log.Exists(e.EventID) {
		in.logger.Debug("duplicate event ignored", slog.String("event_id", e.EventID))
		existing, _ := in.log.Get(e.EventID)
		return *existing, fmt.Errorf("ingest event %s: %w", e.EventID, dlperrors.ErrDuplicateEvent)
	}

	if classify != nil {
		enabled := in.policies.EnabledPolicies()
		result := classify(enabled)
		if len(result.MatchedPolicies) > 0 {
			e.ReEvaluation = &wire.ReEvaluationResult{
				MatchedPolicies: result.MatchedPolicies,
				ActionSummaries: result.PolicyActions,
			}
		}
	}

	in.log.Append(e)
	in.logger.Info("event ingested",
		slog.String("event_id", e.EventID),
		slog.String("agent_id", e.AgentID),
		slog.String("event_type", string(e.EventType)))
	return e, nil
}
