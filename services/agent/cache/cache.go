// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache is the endpoint's original-content cache and
// restoration journal: the Enforcer's exclusive durable side-channel
// state. ContentCache maps file_path -> bytes captured at first
// observation of a monitored file, bounded by an LRU with a pinning
// escape hatch so bytes referenced by an in-flight quarantine are
// never evicted. Both the cache and
// the RestorationJournal in journal.go are Badger-backed so a restart
// does not lose state a scheduled restoration depends on.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cybersentinel/core/pkg/storage/badgerkv"
)

// DefaultCapacity is the default LRU size.
const DefaultCapacity = 1000

const cacheKeyPrefix = "content:"

// ContentCache is the Enforcer's map of file_path -> originally
// observed bytes. It is guarded by a dedicated lock under the
// lock-ordering rule "policy lock -> content cache lock -> quarantine
// lock -> restored lock"; callers elsewhere in the agent must not
// hold this cache's lock while acquiring another.
type ContentCache struct {
	db    *badgerkv.DB
	owned bool

	lru    *lru.Cache[string, []byte]
	pinned map[string][]byte

	mu sync.Mutex
}

// Open opens (or creates) a content cache backed by a Badger database
// at dir, with the given in-memory LRU capacity.
func Open(dir string, capacity int, logger *slog.Logger) (*ContentCache, error) {
	db, err := badgerkv.OpenWithPath(dir)
	if err != nil {
		return nil, fmt.Errorf("open content cache: %w", err)
	}
	c, err := newContentCache(db, false, capacity, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// OpenWith wraps an already-open DB shared with a RestorationJournal
// .
func OpenWith(db *badgerkv.DB, capacity int, logger *slog.Logger) (*ContentCache, error) {
	return newContentCache(db, true, capacity, logger)
}

func newContentCache(db *badgerkv.DB, sharedDB bool, capacity int, logger *slog.Logger) (*ContentCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ContentCache{
		db:     db,
		owned:  !sharedDB,
		pinned: make(map[string][]byte),
	}
	l, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("create content cache lru: %w", err)
	}
	c.lru = l
	_ = logger
	return c, nil
}

// Put records the originally observed bytes for path, persisting them
// durably and admitting them to the in-memory LRU. Called on baseline
// scan and on file_created .
func (c *ContentCache) Put(path string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.persist(path, content); err != nil {
		return err
	}
	if _, pinned := c.pinned[path]; !pinned {
		c.lru.Add(path, content)
	}
	return nil
}

// Get returns the cached bytes for path, consulting the pinned set,
// then the in-memory LRU, then Badger.
func (c *ContentCache) Get(path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.pinned[path]; ok {
		return b, true
	}
	if b, ok := c.lru.Get(path); ok {
		return b, true
	}
	b, err := c.load(path)
	if err != nil {
		return nil, false
	}
	return b, b != nil
}

// Pin marks path's cached bytes as referenced by an in-flight
// quarantine, removing it from LRU eviction eligibility until Unpin or
// Clear is called: an entry referenced by an in-flight quarantine must
// never be evicted before restoration completes.
// Pin is idempotent and safe to call even if no entry is cached yet
// (e.g. the delete-interception path, which has content but the file
// is already gone from the LRU's perspective).
func (c *ContentCache) Pin(path string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if content == nil {
		if b, ok := c.lru.Peek(path); ok {
			content = b
		} else if b, err := c.load(path); err == nil && b != nil {
			content = b
		}
	}
	c.pinned[path] = content
	c.lru.Remove(path)
}

// Unpin releases path back under normal LRU eviction rules, without
// clearing its durable or in-memory value. Used when a quarantine's
// bytes must remain cached (e.g. the restoration failed and will be
// retried) but is no longer strictly in-flight.
func (c *ContentCache) Unpin(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content, ok := c.pinned[path]
	if !ok {
		return
	}
	delete(c.pinned, path)
	c.lru.Add(path, content)
}

// Clear removes path's cached bytes entirely (memory, pin, and disk),
// called on successful restore.
func (c *ContentCache) Clear(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pinned, path)
	c.lru.Remove(path)
	if err := c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(cacheKeyPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}); err != nil {
		return fmt.Errorf("clear content cache entry: %w", err)
	}
	return nil
}

// Len reports the number of entries currently resident in memory
// (pinned + LRU-tracked), for tests and diagnostics. It does not
// count entries that exist only on disk.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pinned) + c.lru.Len()
}

func (c *ContentCache) persist(path string, content []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cacheKeyPrefix+path), content)
	})
}

func (c *ContentCache) load(path string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	return out, err
}

// Close releases the underlying Badger handle, unless the cache was
// opened against a DB another component (the restoration journal)
// owns.
func (c *ContentCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}
