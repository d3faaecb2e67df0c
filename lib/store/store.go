// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/sqlitepool"
)

// ErrNotFound is returned when a request, stage, task, or host does
// not exist.
var ErrNotFound = errors.New("not found")

// Store persists requests, stages, tasks, and host lifecycle
// snapshots in SQLite. It implements the aggregator's persistence
// collaborator.
//
// Write path: CreateRequest inserts a request with all its stages and
// tasks in one IMMEDIATE transaction, assigning task IDs. Status
// updates are single-row writes.
//
// Read path: LoadRequest and LoadStage serve the aggregator when it
// first indexes a request; RequestDetail, ListRequests, and Hosts serve
// the socket API.
type Store struct {
	pool        *sqlitepool.Pool
	clock       clock.Clock
	logger      *slog.Logger
	compression Compression
}

// StoreConfig holds the parameters for opening a store.
type StoreConfig struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize is the number of connections. Defaults to 4.
	PoolSize int

	// Compression is applied to task stdout and stderr before they
	// are written. Defaults to CompressionNone.
	Compression Compression

	// Clock stamps creation and update times. Required.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger
}

// OpenStore opens or creates the database and its tables.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  cfg.PoolSize,
		Logger:    logger,
		OnConnect: createSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{
		pool:        pool,
		clock:       cfg.Clock,
		logger:      logger,
		compression: cfg.Compression,
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func createSchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, schemaScript, nil)
}

const schemaScript = `
	CREATE TABLE IF NOT EXISTS requests (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		plan_digest    TEXT NOT NULL,
		status         TEXT NOT NULL,
		display_status TEXT NOT NULL,
		stage_count    INTEGER NOT NULL,
		dry_run        INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);

	CREATE TABLE IF NOT EXISTS stages (
		request_id      TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		stage_index     INTEGER NOT NULL,
		skippable       INTEGER NOT NULL,
		success_factors BLOB,
		status          TEXT NOT NULL,
		display_status  TEXT NOT NULL,
		PRIMARY KEY (request_id, stage_index)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT NOT NULL,
		stage_index INTEGER NOT NULL,
		host        TEXT NOT NULL,
		role        TEXT NOT NULL,
		command     TEXT NOT NULL,
		status      TEXT NOT NULL,
		exit_code   INTEGER,
		stdout      BLOB,
		stderr      BLOB,
		updated_at  INTEGER NOT NULL,
		FOREIGN KEY (request_id, stage_index)
			REFERENCES stages(request_id, stage_index) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_stage ON tasks(request_id, stage_index);
	CREATE INDEX IF NOT EXISTS idx_tasks_host ON tasks(host, status);

	CREATE TABLE IF NOT EXISTS hosts (
		kind              TEXT NOT NULL,
		hostname          TEXT NOT NULL,
		state             TEXT NOT NULL,
		health            TEXT NOT NULL,
		health_detail     TEXT NOT NULL,
		inventory         BLOB,
		last_heartbeat    INTEGER NOT NULL,
		last_registration INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		PRIMARY KEY (kind, hostname)
	);
`
