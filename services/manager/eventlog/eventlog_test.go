// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package eventlog

import (
	"testing"
	"time"

	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/cybersentinel/core/pkg/wire"
	"github.com/stretchr/testify/require"
)

type fakePolicies struct{ policies []wire.Policy }

func (f fakePolicies) EnabledPolicies() []wire.Policy { return f.policies }

func baseEvent(id string, ts time.Time) wire.Event {
	return wire.Event{
		EventID:   id,
		AgentID:   "agent-1",
		EventType: wire.EventTypeFile,
		Timestamp: ts,
	}
}

func TestIngest_RejectsInvalidEvent(t *testing.T) {
	log := New()
	in := NewIngestor(log, fakePolicies{}, nil)

	_, err := in.Ingest(wire.Event{}, nil)
	require.ErrorIs(t, err, dlperrors.ErrInvalidEvent)
	require.Equal(t, 0, log.Count())
}

func TestIngest_DuplicateTreatedAsSuccess(t *testing.T) {
	log := New()
	in := NewIngestor(log, fakePolicies{}, nil)
	now := time.Now()

	e := baseEvent("ev-1", now)
	first, err := in.Ingest(e, nil)
	require.NoError(t, err)
	require.Equal(t, "ev-1", first.EventID)
	require.Equal(t, 1, log.Count())

	again, err := in.Ingest(e, nil)
	require.ErrorIs(t, err, dlperrors.ErrDuplicateEvent)
	require.Equal(t, "ev-1", again.EventID)
	require.Equal(t, 1, log.Count(), "duplicate must not grow the log")
}

func TestIngest_BackPressure(t *testing.T) {
	log := New()
	in := NewIngestor(log, fakePolicies{}, nil).WithMaxQueueDepth(0)

	_, err := in.Ingest(baseEvent("ev-1", time.Now()), nil)
	require.ErrorIs(t, err, dlperrors.ErrBusy)
}

func TestIngest_ReEvaluationRecorded(t *testing.T) {
	log := New()
	policies := []wire.Policy{{PolicyID: "p1"}}
	in := NewIngestor(log, fakePolicies{policies: policies}, nil)

	classify := func(enabled []wire.Policy) ClassifyResult {
		require.Equal(t, policies, enabled)
		return ClassifyResult{
			MatchedPolicies: []string{"p1"},
			PolicyActions:   map[string]string{"p1": "quarantine"},
		}
	}

	out, err := in.Ingest(baseEvent("ev-1", time.Now()), classify)
	require.NoError(t, err)
	require.NotNil(t, out.ReEvaluation)
	require.Equal(t, []string{"p1"}, out.ReEvaluation.MatchedPolicies)
	require.Equal(t, "quarantine", out.ReEvaluation.ActionSummaries["p1"])
}

func TestLog_ListFiltersAndPaginates(t *testing.T) {
	log := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log.Append(wire.Event{EventID: "e1", AgentID: "a1", EventType: wire.EventTypeFile, Severity: wire.SeverityHigh, Timestamp: base})
	log.Append(wire.Event{EventID: "e2", AgentID: "a1", EventType: wire.EventTypeClipboard, Severity: wire.SeverityLow, Timestamp: base.Add(time.Minute)})
	log.Append(wire.Event{EventID: "e3", AgentID: "a2", EventType: wire.EventTypeFile, Severity: wire.SeverityHigh, Timestamp: base.Add(2 * time.Minute)})

	resp := log.List(Filter{AgentID: "a1"})
	require.Equal(t, 2, resp.Total)
	require.Equal(t, "e2", resp.Events[0].EventID, "newest first")

	resp = log.List(Filter{EventType: wire.EventTypeFile})
	require.Equal(t, 2, resp.Total)

	resp = log.List(Filter{Limit: 1})
	require.Equal(t, 3, resp.Total)
	require.Len(t, resp.Events, 1)
	require.Equal(t, "e3", resp.Events[0].EventID)
}
