// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the SQL abstractions shared by stores, so they
// can run against *sql.DB and *sql.Tx alike.
package dbinterface

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Querier is the read/write surface implemented by *sql.DB, *sql.Tx, and
// *sql.Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner additionally opens transactions.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	_ TxBeginner = (*sql.DB)(nil)
	_ Querier    = (*sql.Tx)(nil)
)

// OpenSQLite opens (or creates) an sqlite database with the pragmas a
// single-writer local app wants: WAL for concurrent readers and a busy
// timeout instead of immediate SQLITE_BUSY errors.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// modernc sqlite is serialized per connection; one writer avoids lock
	// churn entirely.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return db, nil
}
