// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/streamsel/streamsel/internal/dbinterface"
)

// HistoryEntry records one completed (or abandoned) playback.
type HistoryEntry struct {
	ID           int64
	Query        string
	Title        string
	InfoHash     string
	FilePath     string
	FileSize     int64
	Seeders      int
	WatchedAt    time.Time
	DurationSecs int64
}

const historySchema = `
CREATE TABLE IF NOT EXISTS watch_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	query         TEXT NOT NULL,
	title         TEXT NOT NULL,
	info_hash     TEXT NOT NULL DEFAULT '',
	file_path     TEXT NOT NULL DEFAULT '',
	file_size     INTEGER NOT NULL DEFAULT 0,
	seeders       INTEGER NOT NULL DEFAULT 0,
	watched_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	duration_secs INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_watch_history_watched_at ON watch_history (watched_at);
`

// HistoryStore persists watch history in sqlite.
type HistoryStore struct {
	db dbinterface.Querier
}

func NewHistoryStore(ctx context.Context, db dbinterface.Querier) (*HistoryStore, error) {
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		return nil, errors.Wrap(err, "create history schema")
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Record(ctx context.Context, e HistoryEntry) error {
	watchedAt := e.WatchedAt
	if watchedAt.IsZero() {
		watchedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_history (query, title, info_hash, file_path, file_size, seeders, watched_at, duration_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Query, e.Title, e.InfoHash, e.FilePath, e.FileSize, e.Seeders, watchedAt.UTC(), e.DurationSecs,
	)
	return errors.Wrap(err, "record history")
}

// Recent returns the newest entries, most recent first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, title, info_hash, file_path, file_size, seeders, watched_at, duration_secs
		FROM watch_history
		ORDER BY watched_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Query, &e.Title, &e.InfoHash, &e.FilePath, &e.FileSize, &e.Seeders, &e.WatchedAt, &e.DurationSecs); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and reports how
// many were removed.
func (s *HistoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM watch_history WHERE watched_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "prune history")
	}
	return res.RowsAffected()
}
