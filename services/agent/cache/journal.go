// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cybersentinel/core/pkg/storage/badgerkv"
)

// ErrJournalCorrupted is returned when a journal entry fails its CRC32
// integrity check, the same failure mode the trace agent's delta
// journal guards against.
var ErrJournalCorrupted = errors.New("restoration journal entry corrupted (CRC mismatch)")

const (
	restoreKeyPrefix = "restore:"
	doneKeyPrefix    = "restoredone:"
)

// RestorationEntry is one pending quarantine restoration: the
// enforcer appends one when it quarantines a file with a scheduled
// restore, and the journal replays any entry still pending at startup
// so a restoration due during downtime still happens.
type RestorationEntry struct {
	EventID         string
	OriginalPath    string
	QuarantinePath  string
	OriginalContent []byte
	RestoreAt       time.Time
}

// RestorationJournal is a Badger-backed, CRC32-checksummed,
// sequence-numbered append-only log of pending restorations, adapted
// from the trace agent's BadgerJournal (services/trace/agent/mcts/crs/journal.go):
// same key layout (prefix + zero-padded sequence number), same
// [4-byte CRC32][gob payload] entry encoding, same seek-to-last-key
// sequence initialization. It drops that journal's otel tracing spans
// and generic Delta interface — this journal has exactly one payload
// type and a much smaller working set (quarantined files awaiting
// restoration, not every CRS delta in a reasoning session).
type RestorationJournal struct {
	db     *badgerkv.DB
	owned  bool
	logger *slog.Logger
	seqNum atomic.Uint64
}

// OpenRestorationJournal opens (or creates) the journal at dir. A
// shared *badgerkv.DB may be passed instead via OpenRestorationJournalWith
// so the journal and the original-content cache can live in one
// Badger database .
func OpenRestorationJournal(dir string, logger *slog.Logger) (*RestorationJournal, error) {
	db, err := badgerkv.OpenWithPath(dir)
	if err != nil {
		return nil, fmt.Errorf("open restoration journal: %w", err)
	}
	j, err := newRestorationJournal(db, false, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// OpenRestorationJournalWith wraps an already-open DB the caller owns
// and will close itself.
func OpenRestorationJournalWith(db *badgerkv.DB, logger *slog.Logger) (*RestorationJournal, error) {
	return newRestorationJournal(db, true, logger)
}

func newRestorationJournal(db *badgerkv.DB, sharedDB bool, logger *slog.Logger) (*RestorationJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &RestorationJournal{db: db, owned: !sharedDB, logger: logger}
	if err := j.initSeqNum(); err != nil {
		return nil, fmt.Errorf("init restoration journal sequence: %w", err)
	}
	return j, nil
}

func (j *RestorationJournal) initSeqNum() error {
	var maxSeq uint64
	prefix := []byte(restoreKeyPrefix)
	err := j.db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix(prefix) {
			key := it.Item().Key()
			var seq uint64
			if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016d", &seq); err == nil {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.seqNum.Store(maxSeq)
	return nil
}

func restoreKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", restoreKeyPrefix, seq))
}

func doneKey(eventID string) []byte {
	return []byte(doneKeyPrefix + eventID)
}

func encodeEntry(e RestorationEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return nil, fmt.Errorf("gob encode restoration entry: %w", err)
	}
	crc := crc32.ChecksumIEEE(buf.Bytes())
	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], crc)
	copy(out[4:], buf.Bytes())
	return out, nil
}

func decodeEntry(data []byte) (RestorationEntry, error) {
	if len(data) < 5 {
		return RestorationEntry{}, fmt.Errorf("%w: entry too short", ErrJournalCorrupted)
	}
	stored := binary.BigEndian.Uint32(data[:4])
	payload := data[4:]
	if crc32.ChecksumIEEE(payload) != stored {
		return RestorationEntry{}, fmt.Errorf("%w", ErrJournalCorrupted)
	}
	var e RestorationEntry
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return RestorationEntry{}, fmt.Errorf("gob decode restoration entry: %w", err)
	}
	return e, nil
}

// Append durably records a pending restoration. Safe for concurrent
// callers; each append claims its own sequence number atomically.
func (j *RestorationJournal) Append(entry RestorationEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	seq := j.seqNum.Add(1)
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(restoreKey(seq), data)
	}); err != nil {
		return fmt.Errorf("append restoration entry: %w", err)
	}
	return nil
}

// MarkDone records that the restoration for eventID has completed
// (either performed now, or already performed before the journal saw
// it replayed). A done entry is excluded from future Replay calls and
// its underlying journal record is deleted, bounding journal growth
// to currently-pending restorations.
func (j *RestorationJournal) MarkDone(eventID string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(doneKey(eventID), []byte{1}); err != nil {
			return err
		}
		// Best-effort: delete the matching restore: record too, so a
		// long-lived agent doesn't accumulate tombstones forever.
		prefix := []byte(restoreKeyPrefix)
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var match bool
			_ = item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err == nil && e.EventID == eventID {
					match = true
				}
				return nil
			})
			if match {
				_ = txn.Delete(append([]byte{}, item.Key()...))
				break
			}
		}
		return nil
	})
}

// Replay returns every pending (not yet marked done) restoration
// entry, ordered by scheduled restore time (RestoreAt, earliest
// first), for the agent to reschedule or immediately perform
// on startup.
func (j *RestorationJournal) Replay() ([]RestorationEntry, error) {
	var entries []RestorationEntry
	done := make(map[string]bool)

	err := j.db.View(func(txn *badger.Txn) error {
		donePrefix := []byte(doneKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(donePrefix); it.ValidForPrefix(donePrefix); it.Next() {
			key := string(it.Item().Key())
			done[key[len(doneKeyPrefix):]] = true
		}

		restorePrefix := []byte(restoreKeyPrefix)
		it2 := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it2.Close()
		for it2.Seek(restorePrefix); it2.ValidForPrefix(restorePrefix); it2.Next() {
			item := it2.Item()
			return_err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					if errors.Is(err, ErrJournalCorrupted) {
						j.logger.Warn("skipping corrupted restoration journal entry",
							slog.String("key", string(item.Key())))
						return nil
					}
					return err
				}
				if !done[e.EventID] {
					entries = append(entries, e)
				}
				return nil
			})
			if return_err != nil {
				return return_err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay restoration journal: %w", err)
	}

	sort.Slice(entries, func(i, k int) bool { return entries[i].RestoreAt.Before(entries[k].RestoreAt) })
	return entries, nil
}

// Sync flushes pending writes to stable storage.
func (j *RestorationJournal) Sync() error {
	return j.db.Sync()
}

// Close releases the journal's database handle, unless it was opened
// with OpenRestorationJournalWith against a DB another component owns.
func (j *RestorationJournal) Close() error {
	if !j.owned {
		return nil
	}
	return j.db.Close()
}
