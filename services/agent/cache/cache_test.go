// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybersentinel/core/pkg/storage/badgerkv"
)

func newTestCache(t *testing.T, capacity int) *ContentCache {
	t.Helper()
	db, err := badgerkv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c, err := newContentCache(db, false, capacity, nil)
	require.NoError(t, err)
	return c
}

func TestContentCache_PutGetRoundTrips(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("/a", []byte("hello")))

	got, ok := c.Get("/a")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)

	_, ok = c.Get("/missing")
	require.False(t, ok)
}

func TestContentCache_GetFallsBackToDiskAfterLRUEviction(t *testing.T) {
	c := newTestCache(t, 1)
	require.NoError(t, c.Put("/a", []byte("aaa")))
	require.NoError(t, c.Put("/b", []byte("bbb"))) // evicts /a from the in-memory LRU

	got, ok := c.Get("/a")
	require.True(t, ok, "evicted entries must still be retrievable from durable storage")
	require.Equal(t, []byte("aaa"), got)
}

func TestContentCache_PinPreventsEviction(t *testing.T) {
	c := newTestCache(t, 1)
	require.NoError(t, c.Put("/a", []byte("aaa")))
	c.Pin("/a", nil) // nil content: Pin must look it up itself

	require.NoError(t, c.Put("/b", []byte("bbb")))
	require.NoError(t, c.Put("/c", []byte("ccc")))

	got, ok := c.Get("/a")
	require.True(t, ok, "pinned entries must survive LRU pressure from unrelated keys")
	require.Equal(t, []byte("aaa"), got)
}

func TestContentCache_UnpinReturnsToNormalEviction(t *testing.T) {
	c := newTestCache(t, 1)
	require.NoError(t, c.Put("/a", []byte("aaa")))
	c.Pin("/a", []byte("aaa"))
	c.Unpin("/a")

	require.Equal(t, 1, c.lru.Len(), "Unpin re-admits the entry to the LRU")
	got, ok := c.Get("/a")
	require.True(t, ok)
	require.Equal(t, []byte("aaa"), got)
}

func TestContentCache_ClearRemovesMemoryPinAndDisk(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Put("/a", []byte("aaa")))
	c.Pin("/a", nil)

	require.NoError(t, c.Clear("/a"))
	_, ok := c.Get("/a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestContentCache_LenCountsPinnedAndLRU(t *testing.T) {
	c := newTestCache(t, 10)
	require.NoError(t, c.Put("/a", []byte("aaa")))
	require.NoError(t, c.Put("/b", []byte("bbb")))
	c.Pin("/b", nil)

	require.Equal(t, 2, c.Len())
}

func TestContentCache_ClearOnMissingKeyIsNotAnError(t *testing.T) {
	c := newTestCache(t, 0)
	require.NoError(t, c.Clear("/never-existed"))
}
