// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/cybersentinel/core/pkg/storage/badgerkv"
)

func newTestJournal(t *testing.T) *RestorationJournal {
	t.Helper()
	db, err := badgerkv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	j, err := newRestorationJournal(db, false, nil)
	require.NoError(t, err)
	return j
}

func entry(id string, at time.Time) RestorationEntry {
	return RestorationEntry{
		EventID:         id,
		OriginalPath:    "/orig/" + id,
		QuarantinePath:  "/quarantine/" + id,
		OriginalContent: []byte("content-" + id),
		RestoreAt:       at,
	}
}

func TestRestorationJournal_AppendAndReplay(t *testing.T) {
	j := newTestJournal(t)
	base := time.Now()

	require.NoError(t, j.Append(entry("a", base.Add(2*time.Minute))))
	require.NoError(t, j.Append(entry("b", base.Add(time.Minute))))

	entries, err := j.Replay()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].EventID, "replay orders by restore time")
	require.Equal(t, "a", entries[1].EventID)
}

func TestRestorationJournal_MarkDoneExcludesFromReplay(t *testing.T) {
	j := newTestJournal(t)
	base := time.Now()
	require.NoError(t, j.Append(entry("a", base)))
	require.NoError(t, j.Append(entry("b", base)))

	require.NoError(t, j.MarkDone("a"))

	entries, err := j.Replay()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].EventID)
}

func TestRestorationJournal_SequenceNumbersSurviveReopen(t *testing.T) {
	db, err := badgerkv.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	j1, err := newRestorationJournal(db, true, nil)
	require.NoError(t, err)
	require.NoError(t, j1.Append(entry("a", time.Now())))
	require.NoError(t, j1.Append(entry("b", time.Now())))

	j2, err := newRestorationJournal(db, true, nil)
	require.NoError(t, err)
	require.NoError(t, j2.Append(entry("c", time.Now())))

	entries, err := j2.Replay()
	require.NoError(t, err)
	require.Len(t, entries, 3, "a fresh journal over the same db must not reuse sequence numbers")
}

func TestRestorationJournal_CorruptedEntrySkippedNotFatal(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.Append(entry("good", time.Now())))

	seq := j.seqNum.Add(1)
	require.NoError(t, j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(restoreKey(seq), []byte("not a valid entry"))
	}))

	entries, err := j.Replay()
	require.NoError(t, err, "a corrupted entry must be skipped, not fail the whole replay")
	require.Len(t, entries, 1)
	require.Equal(t, "good", entries[0].EventID)
}

func TestRestorationJournal_CloseIsNoopWhenNotOwned(t *testing.T) {
	db, err := badgerkv.OpenInMemory()
	require.NoError(t, err)
	j, err := newRestorationJournal(db, true, nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	// db must still be usable: Close on a shared journal is a no-op.
	require.NoError(t, db.Close())
}
