// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerkv wraps github.com/dgraph-io/badger/v4 with the small
// surface the endpoint's restoration journal and original-content
// cache need: an explicit Config, context-aware transaction helpers,
// and a background GC runner. It is deliberately thin — callers reach
// for txn.Update/txn.View directly when they need the full badger API.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls how a DB is opened.
type Config struct {
	// InMemory runs badger entirely in memory; Path is ignored.
	InMemory bool

	// Path is the on-disk directory for the database. Required unless
	// InMemory is true.
	Path string

	// SyncWrites forces an fsync after every write transaction commit.
	SyncWrites bool

	// NumVersionsToKeep bounds how many historical versions of a key
	// badger retains before garbage collection reclaims them.
	NumVersionsToKeep int

	// GCInterval records how often value log compaction is wanted. Open
	// does not read it and starts no GC runner; NewGCRunner takes its
	// interval as an argument.
	GCInterval time.Duration

	// GCDiscardRatio is the badger value-log GC discard ratio.
	GCDiscardRatio float64

	// Logger is not read by Open: badger's own internal log output is
	// disabled rather than routed anywhere.
	Logger *slog.Logger
}

// DefaultConfig returns the config used for durable, on-disk stores.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns the config used for tests and ephemeral runs.
func InMemoryConfig() Config {
	return Config{
		InMemory:       true,
		SyncWrites:     false,
		GCInterval:     0,
		GCDiscardRatio: 0.5,
	}
}

// DB wraps a badger.DB with context-aware helpers.
type DB struct {
	bdb *badger.DB
}

// Open validates cfg and opens the underlying badger database.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required")
	}
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}
	opts = opts.WithLogger(nil)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &DB{bdb: bdb}, nil
}

// OpenDB is an alias for Open kept for call-site symmetry with
// OpenInMemory/OpenWithPath.
func OpenDB(cfg Config) (*DB, error) { return Open(cfg) }

// OpenInMemory opens an in-memory database, for tests.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// OpenWithPath opens a durable database at path with default options.
func OpenWithPath(path string) (*DB, error) {
	return Open(DefaultConfig(path))
}

// Update runs fn inside a read-write transaction and commits on
// success, passing through directly to badger.
func (d *DB) Update(fn func(txn *badger.Txn) error) error {
	return d.bdb.Update(fn)
}

// View runs fn inside a read-only transaction.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	return d.bdb.View(fn)
}

// WithTxn runs fn inside a read-write transaction, aborting early if
// ctx is already done.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.bdb.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction, aborting early
// if ctx is already done.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.bdb.View(fn)
}

// Sync flushes all pending writes to stable storage.
func (d *DB) Sync() error {
	return d.bdb.Sync()
}

// Close releases the database's file handles.
func (d *DB) Close() error {
	return d.bdb.Close()
}

// Badger exposes the underlying *badger.DB for callers that need the
// full API (iterators, stream, backup).
func (d *DB) Badger() *badger.DB {
	return d.bdb
}

// GCRunner periodically requests badger value-log garbage collection.
type GCRunner struct {
	db       *DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewGCRunner validates its arguments and returns a stopped GCRunner.
func NewGCRunner(db *DB, interval time.Duration, discardRatio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if discardRatio <= 0 || discardRatio >= 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &GCRunner{db: db, interval: interval, ratio: discardRatio, logger: logger}, nil
}

// Start launches the GC loop in a background goroutine. Calling Start
// on an already-running GCRunner is a no-op.
func (r *GCRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.done = make(chan struct{})
	go r.loop(r.done)
}

// Stop halts the GC loop. Calling Stop when not running is a no-op.
func (r *GCRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	close(r.done)
	r.running = false
}

func (r *GCRunner) loop(done chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		again:
			err := r.db.bdb.RunValueLogGC(r.ratio)
			if err == nil {
				goto again
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("value log gc failed", "error", err)
			}
		}
	}
}

// TempDir creates a fresh temporary directory for a test-scoped
// on-disk database.
func TempDir(prefix string) (string, error) {
	return os.MkdirTemp("", prefix)
}

// CleanupDir removes a directory created by TempDir. A no-op on an
// empty path.
func CleanupDir(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}
