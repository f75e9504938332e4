// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewHistoryStore(context.Background(), db)
	require.NoError(t, err)
	return store
}

func TestHistoryRecordAndRecent(t *testing.T) {
	store := newHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, HistoryEntry{
		Query:     "inception",
		Title:     "Inception.2010.1080p.BluRay",
		InfoHash:  "abcd",
		FilePath:  "Inception/movie.mkv",
		FileSize:  8 << 30,
		Seeders:   120,
		WatchedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.Record(ctx, HistoryEntry{
		Query: "dune",
		Title: "Dune.2021.2160p.WEB-DL",
	}))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "dune", entries[0].Query, "newest entry comes first")
	assert.Equal(t, "inception", entries[1].Query)
	assert.Equal(t, int64(8<<30), entries[1].FileSize)
	assert.NotZero(t, entries[0].WatchedAt, "a zero watched-at should be defaulted on insert")
}

func TestHistoryRecentLimit(t *testing.T) {
	store := newHistoryStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, HistoryEntry{Query: "q", Title: "t"}))
	}

	entries, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestHistoryPrune(t *testing.T) {
	store := newHistoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, HistoryEntry{
		Query: "old", Title: "old", WatchedAt: time.Now().Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, store.Record(ctx, HistoryEntry{Query: "new", Title: "new"}))

	pruned, err := store.Prune(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Query)
}
