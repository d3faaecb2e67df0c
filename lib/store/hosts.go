// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/orchestra/lib/codec"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// SaveHost upserts a lifecycle snapshot. The inventory is stored as a
// CBOR blob.
func (s *Store) SaveHost(ctx context.Context, snapshot schema.HostSnapshot) error {
	inventory, err := codec.Marshal(snapshot.Info)
	if err != nil {
		return fmt.Errorf("store: encoding inventory of %s: %w", snapshot.Hostname, err)
	}
	return s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO hosts (kind, hostname, state, health, health_detail, inventory,
				last_heartbeat, last_registration, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, hostname) DO UPDATE SET
				state = excluded.state,
				health = excluded.health,
				health_detail = excluded.health_detail,
				inventory = excluded.inventory,
				last_heartbeat = excluded.last_heartbeat,
				last_registration = excluded.last_registration,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{Args: []any{
				snapshot.Kind, snapshot.Hostname, string(snapshot.State),
				string(snapshot.Health.Status), snapshot.Health.Detail, inventory,
				snapshot.LastHeartbeat, snapshot.LastRegistration, s.clock.Now().UnixNano(),
			}})
		if err != nil {
			return fmt.Errorf("store: save host %s: %w", snapshot.Hostname, err)
		}
		return nil
	})
}

// Hosts returns the saved snapshots of one entity kind, sorted by
// hostname.
func (s *Store) Hosts(ctx context.Context, kind string) ([]schema.HostSnapshot, error) {
	var snapshots []schema.HostSnapshot
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT kind, hostname, state, health, health_detail, inventory,
				last_heartbeat, last_registration
			FROM hosts WHERE kind = ? ORDER BY hostname`,
			&sqlitex.ExecOptions{
				Args: []any{kind},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					snapshot, err := scanHost(stmt)
					if err != nil {
						return err
					}
					snapshots = append(snapshots, snapshot)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list hosts: %w", err)
	}
	return snapshots, nil
}

// LoadHost returns the saved snapshot of one entity, or ErrNotFound.
func (s *Store) LoadHost(ctx context.Context, kind, hostname string) (schema.HostSnapshot, error) {
	var snapshot schema.HostSnapshot
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT kind, hostname, state, health, health_detail, inventory,
				last_heartbeat, last_registration
			FROM hosts WHERE kind = ? AND hostname = ?`,
			&sqlitex.ExecOptions{
				Args: []any{kind, hostname},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					snapshot, err = scanHost(stmt)
					found = true
					return err
				},
			})
	})
	if err != nil {
		return schema.HostSnapshot{}, fmt.Errorf("store: load host %s: %w", hostname, err)
	}
	if !found {
		return schema.HostSnapshot{}, fmt.Errorf("store: host %s: %w", hostname, ErrNotFound)
	}
	return snapshot, nil
}

func scanHost(stmt *sqlite.Stmt) (schema.HostSnapshot, error) {
	snapshot := schema.HostSnapshot{
		Kind:     stmt.ColumnText(0),
		Hostname: stmt.ColumnText(1),
		State:    schema.HostState(stmt.ColumnText(2)),
		Health: schema.HostHealth{
			Status: schema.HealthStatus(stmt.ColumnText(3)),
			Detail: stmt.ColumnText(4),
		},
		LastHeartbeat:    stmt.ColumnInt64(6),
		LastRegistration: stmt.ColumnInt64(7),
	}
	if blob := columnBlob(stmt, 5); blob != nil {
		if err := codec.Unmarshal(blob, &snapshot.Info); err != nil {
			return snapshot, fmt.Errorf("decoding inventory of %s: %w", snapshot.Hostname, err)
		}
	}
	return snapshot, nil
}
