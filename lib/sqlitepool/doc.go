// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind
// Orchestra's persistent store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with fixed pragmas:
// WAL journal mode, NORMAL synchronous, a busy timeout, and foreign
// keys enabled. Callers [Pool.Take] a connection, perform work, and
// [Pool.Put] it back, or use [Pool.With] to do both around a function.
// Connections are not safe for concurrent use; each goroutine holds
// its own for the duration of its work.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=NORMAL: commits survive process crashes.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - foreign_keys=ON: stages and tasks reference their request.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:      "/var/lib/orchestra/orchestra.db",
//	    PoolSize:  4,
//	    Logger:    logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
// SQL is written directly against the zombiezen API: sqlitex.Execute
// for cached statements, sqlitex.ImmediateTransaction for writes.
package sqlitepool
