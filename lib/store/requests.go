// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/orchestra/lib/codec"
	"github.com/bureau-foundation/orchestra/lib/rolegraph"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// NewRequest is a planned request ready to be persisted.
type NewRequest struct {
	// ID is the request identifier, chosen by the caller.
	ID   string
	Name string
	Plan *rolegraph.Plan

	// Skippable and SuccessFactors apply to every stage.
	Skippable      bool
	SuccessFactors map[string]float64

	// DryRun turns package installs into download-and-test checks.
	DryRun bool
}

// CreateRequest inserts the request, one row per planned stage, and one
// task per planned (host, role, command), all PENDING. The returned
// task records carry their assigned IDs in plan order.
func (s *Store) CreateRequest(ctx context.Context, request NewRequest) (record schema.RequestRecord, tasks []schema.TaskRecord, err error) {
	if request.ID == "" {
		return record, nil, fmt.Errorf("store: create request: ID is required")
	}
	if request.Plan == nil || len(request.Plan.Stages) == 0 {
		return record, nil, fmt.Errorf("store: create request %s: plan has no stages", request.ID)
	}

	var factors []byte
	if len(request.SuccessFactors) > 0 {
		factors, err = codec.Marshal(request.SuccessFactors)
		if err != nil {
			return record, nil, fmt.Errorf("store: encoding success factors: %w", err)
		}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return record, nil, fmt.Errorf("store: create request: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return record, nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := s.clock.Now().UTC()
	record = schema.RequestRecord{
		ID:            request.ID,
		Name:          request.Name,
		PlanDigest:    request.Plan.Digest.String(),
		Status:        schema.StatusPending,
		DisplayStatus: schema.StatusPending,
		StageCount:    len(request.Plan.Stages),
		DryRun:        request.DryRun,
		CreatedAt:     now,
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO requests (id, name, plan_digest, status, display_status, stage_count, dry_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			record.ID, record.Name, record.PlanDigest,
			string(record.Status), string(record.DisplayStatus),
			int64(record.StageCount), boolArg(record.DryRun), now.UnixNano(), now.UnixNano(),
		}})
	if err != nil {
		return record, nil, fmt.Errorf("store: insert request %s: %w", record.ID, err)
	}

	for _, stage := range request.Plan.Stages {
		var factorsArg any
		if factors != nil {
			factorsArg = factors
		}
		err = sqlitex.Execute(conn, `
			INSERT INTO stages (request_id, stage_index, skippable, success_factors, status, display_status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				record.ID, int64(stage.Index), boolArg(request.Skippable), factorsArg,
				string(schema.StatusPending), string(schema.StatusPending),
			}})
		if err != nil {
			return record, nil, fmt.Errorf("store: insert stage %d of %s: %w", stage.Index, record.ID, err)
		}

		for _, planned := range stage.Tasks {
			err = sqlitex.Execute(conn, `
				INSERT INTO tasks (request_id, stage_index, host, role, command, status, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{
					record.ID, int64(stage.Index), planned.Host, planned.Role,
					string(planned.Command), string(schema.StatusPending), now.UnixNano(),
				}})
			if err != nil {
				return record, nil, fmt.Errorf("store: insert task %s:%s-%s: %w",
					planned.Host, planned.Role, planned.Command, err)
			}
			tasks = append(tasks, schema.TaskRecord{
				ID:      conn.LastInsertRowID(),
				Stage:   schema.StageID{RequestID: record.ID, Index: stage.Index},
				Host:    planned.Host,
				Role:    planned.Role,
				Command: planned.Command,
				Status:  schema.StatusPending,
			})
		}
	}

	s.logger.Info("request created",
		"request", record.ID,
		"stages", record.StageCount,
		"tasks", len(tasks),
		"plan_digest", record.PlanDigest,
	)
	return record, tasks, nil
}

// LoadRequest returns the persisted request.
func (s *Store) LoadRequest(ctx context.Context, id string) (schema.RequestRecord, error) {
	var record schema.RequestRecord
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectRequest+` WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				record, scanErr = scanRequest(stmt)
				found = true
				return scanErr
			},
		})
	})
	if err != nil {
		return record, fmt.Errorf("store: load request %s: %w", id, err)
	}
	if !found {
		return record, fmt.Errorf("store: request %s: %w", id, ErrNotFound)
	}
	return record, nil
}

// LoadStage returns the persisted stage.
func (s *Store) LoadStage(ctx context.Context, id schema.StageID) (schema.StageRecord, error) {
	var record schema.StageRecord
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectStage+` WHERE request_id = ? AND stage_index = ?`, &sqlitex.ExecOptions{
			Args: []any{id.RequestID, int64(id.Index)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				record, scanErr = scanStage(stmt)
				found = true
				return scanErr
			},
		})
	})
	if err != nil {
		return record, fmt.Errorf("store: load stage %s: %w", id, err)
	}
	if !found {
		return record, fmt.Errorf("store: stage %s: %w", id, ErrNotFound)
	}
	return record, nil
}

// UpdateTaskStatus writes a task's status and, when result is non-nil,
// its exit code and compressed output.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status schema.TaskStatus, result *schema.CommandResult) error {
	now := s.clock.Now().UnixNano()
	query := `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), now, id}

	if result != nil {
		stdout, err := encodeOutput(result.Stdout, s.compression)
		if err != nil {
			return fmt.Errorf("store: task %d stdout: %w", id, err)
		}
		stderr, err := encodeOutput(result.Stderr, s.compression)
		if err != nil {
			return fmt.Errorf("store: task %d stderr: %w", id, err)
		}
		query = `UPDATE tasks SET status = ?, updated_at = ?, exit_code = ?, stdout = ?, stderr = ? WHERE id = ?`
		args = []any{string(status), now, int64(result.ExitCode), blobArg(stdout), blobArg(stderr), id}
	}

	return s.updateOne(ctx, fmt.Sprintf("task %d", id), query, args)
}

// UpdateStageStatus writes a stage's status pair.
func (s *Store) UpdateStageStatus(ctx context.Context, id schema.StageID, status, display schema.TaskStatus) error {
	return s.updateOne(ctx, "stage "+id.String(),
		`UPDATE stages SET status = ?, display_status = ? WHERE request_id = ? AND stage_index = ?`,
		[]any{string(status), string(display), id.RequestID, int64(id.Index)})
}

// UpdateRequestStatus writes a request's status pair.
func (s *Store) UpdateRequestStatus(ctx context.Context, id string, status, display schema.TaskStatus) error {
	return s.updateOne(ctx, "request "+id,
		`UPDATE requests SET status = ?, display_status = ?, updated_at = ? WHERE id = ?`,
		[]any{string(status), string(display), s.clock.Now().UnixNano(), id})
}

func (s *Store) updateOne(ctx context.Context, what, query string, args []any) error {
	return s.pool.With(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("store: update %s: %w", what, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("store: update %s: %w", what, ErrNotFound)
		}
		return nil
	})
}

// RequestDetail returns a request with its stages in order and its
// tasks in ID order.
func (s *Store) RequestDetail(ctx context.Context, id string) (schema.RequestDetail, error) {
	var detail schema.RequestDetail
	request, err := s.LoadRequest(ctx, id)
	if err != nil {
		return detail, err
	}
	detail.Request = request

	err = s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, selectStage+` WHERE request_id = ? ORDER BY stage_index`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stage, err := scanStage(stmt)
				if err != nil {
					return err
				}
				detail.Stages = append(detail.Stages, stage)
				return nil
			},
		})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, selectTask+` WHERE request_id = ? ORDER BY id`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task, err := scanTask(stmt)
				if err != nil {
					return err
				}
				detail.Tasks = append(detail.Tasks, task)
				return nil
			},
		})
	})
	if err != nil {
		return detail, fmt.Errorf("store: request detail %s: %w", id, err)
	}
	return detail, nil
}

// ListRequests returns up to limit requests, newest first. A limit of
// zero or less returns all of them.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]schema.RequestRecord, error) {
	query := selectRequest + ` ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, int64(limit))
	}

	var records []schema.RequestRecord
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRequest(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	return records, nil
}

// ActiveTasks returns every task of every request whose status is not
// yet terminal, in ID order. The controller re-indexes these after a
// restart.
func (s *Store) ActiveTasks(ctx context.Context) ([]schema.TaskRecord, error) {
	var tasks []schema.TaskRecord
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectTask+`
			WHERE request_id IN (
				SELECT id FROM requests
				WHERE status NOT IN ('COMPLETED', 'FAILED', 'TIMEDOUT', 'ABORTED', 'SKIPPED_FAILED')
			)
			ORDER BY id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					task, err := scanTask(stmt)
					if err != nil {
						return err
					}
					tasks = append(tasks, task)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("store: active tasks: %w", err)
	}
	return tasks, nil
}

const selectRequest = `SELECT id, name, plan_digest, status, display_status, stage_count, dry_run, created_at FROM requests`

func scanRequest(stmt *sqlite.Stmt) (schema.RequestRecord, error) {
	status, err := schema.ParseTaskStatus(stmt.ColumnText(3))
	if err != nil {
		return schema.RequestRecord{}, err
	}
	display, err := schema.ParseTaskStatus(stmt.ColumnText(4))
	if err != nil {
		return schema.RequestRecord{}, err
	}
	return schema.RequestRecord{
		ID:            stmt.ColumnText(0),
		Name:          stmt.ColumnText(1),
		PlanDigest:    stmt.ColumnText(2),
		Status:        status,
		DisplayStatus: display,
		StageCount:    stmt.ColumnInt(5),
		DryRun:        stmt.ColumnInt64(6) != 0,
		CreatedAt:     time.Unix(0, stmt.ColumnInt64(7)).UTC(),
	}, nil
}

const selectStage = `SELECT request_id, stage_index, skippable, success_factors, status, display_status FROM stages`

func scanStage(stmt *sqlite.Stmt) (schema.StageRecord, error) {
	record := schema.StageRecord{
		ID:        schema.StageID{RequestID: stmt.ColumnText(0), Index: stmt.ColumnInt(1)},
		Skippable: stmt.ColumnInt64(2) != 0,
	}
	if !stmt.ColumnIsNull(3) {
		if err := codec.Unmarshal(columnBlob(stmt, 3), &record.SuccessFactors); err != nil {
			return record, fmt.Errorf("decoding success factors of stage %s: %w", record.ID, err)
		}
	}
	var err error
	if record.Status, err = schema.ParseTaskStatus(stmt.ColumnText(4)); err != nil {
		return record, err
	}
	if record.DisplayStatus, err = schema.ParseTaskStatus(stmt.ColumnText(5)); err != nil {
		return record, err
	}
	return record, nil
}

const selectTask = `SELECT id, request_id, stage_index, host, role, command, status, exit_code, stdout, stderr FROM tasks`

func scanTask(stmt *sqlite.Stmt) (schema.TaskRecord, error) {
	record := schema.TaskRecord{
		ID:      stmt.ColumnInt64(0),
		Stage:   schema.StageID{RequestID: stmt.ColumnText(1), Index: stmt.ColumnInt(2)},
		Host:    stmt.ColumnText(3),
		Role:    stmt.ColumnText(4),
		Command: schema.RoleCommand(stmt.ColumnText(5)),
	}
	var err error
	if record.Status, err = schema.ParseTaskStatus(stmt.ColumnText(6)); err != nil {
		return record, err
	}
	if stmt.ColumnIsNull(7) {
		return record, nil
	}

	result := &schema.CommandResult{ExitCode: stmt.ColumnInt(7)}
	if result.Stdout, err = decodeOutput(columnBlob(stmt, 8)); err != nil {
		return record, fmt.Errorf("task %d stdout: %w", record.ID, err)
	}
	if result.Stderr, err = decodeOutput(columnBlob(stmt, 9)); err != nil {
		return record, fmt.Errorf("task %d stderr: %w", record.ID, err)
	}
	record.Result = result
	return record, nil
}

// columnBlob copies a BLOB column. NULL yields nil.
func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	if stmt.ColumnIsNull(column) {
		return nil
	}
	destination := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, destination)
	return destination
}

func boolArg(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

// blobArg binds nil slices as NULL.
func blobArg(data []byte) any {
	if data == nil {
		return nil
	}
	return data
}
