// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/orchestra/lib/aggregate"
	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/lifecycle"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// outstandingCommand is a released task that has not reported back.
type outstandingCommand struct {
	command schema.AgentCommand
	host    string

	// since is when the task was released, reset when it is handed
	// to the agent. Task timeouts count from here.
	since     time.Time
	delivered bool
}

// dispatcher moves released stages to hosts. Each host has a FIFO of
// task IDs that its next heartbeat collects, provided the host is
// eligible. Stage N+1 of a request is released only when the
// aggregator reports stage N COMPLETED; a stage that ends in a hard
// failure aborts the rest of its request.
//
// All methods serialize on mu. The tracker has its own lock and never
// calls back into the dispatcher.
type dispatcher struct {
	clock       clock.Clock
	logger      *slog.Logger
	tracker     *aggregate.Tracker
	hosts       *lifecycle.Registry
	roles       map[string]config.RoleTarget
	taskTimeout time.Duration

	mu          sync.Mutex
	dryRun      map[string]bool
	queues      map[string][]int64
	outstanding map[int64]*outstandingCommand
}

func newDispatcher(clk clock.Clock, tracker *aggregate.Tracker, hosts *lifecycle.Registry, roles map[string]config.RoleTarget, taskTimeout time.Duration, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		clock:       clk,
		logger:      logger,
		tracker:     tracker,
		hosts:       hosts,
		roles:       roles,
		taskTimeout: taskTimeout,
		dryRun:      make(map[string]bool),
		queues:      make(map[string][]int64),
		outstanding: make(map[int64]*outstandingCommand),
	}
}

// track registers a request the tracker has indexed.
func (d *dispatcher) track(requestID string, dryRun bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dryRun[requestID] = dryRun
}

// release queues the request's next ready stage, if any.
func (d *dispatcher) release(ctx context.Context, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseLocked(ctx, requestID)
}

func (d *dispatcher) releaseLocked(ctx context.Context, requestID string) error {
	index, ok := d.tracker.ReadyStage(requestID)
	if !ok {
		return nil
	}
	stageID := schema.StageID{RequestID: requestID, Index: index}
	stage, ok := d.tracker.Stage(stageID)
	if !ok {
		return nil
	}

	now := d.clock.Now()
	var updates []aggregate.TaskUpdate
	for _, task := range stage.Tasks {
		if task.Status != schema.StatusPending {
			continue
		}
		command, err := translate(task, d.roles, d.dryRun[requestID])
		if err != nil {
			d.logger.Error("task cannot be dispatched", "task", task.ID, "host", task.Host, "error", err)
			updates = append(updates, aggregate.TaskUpdate{
				ID:     task.ID,
				Status: schema.StatusFailed,
				Result: &schema.CommandResult{ExitCode: 1, Stderr: err.Error()},
			})
			continue
		}
		d.enqueueLocked(task.Host, command, now, false)
		updates = append(updates, aggregate.TaskUpdate{ID: task.ID, Status: schema.StatusQueued})
	}

	d.logger.Info("stage released",
		"stage", stageID.String(),
		"tasks", len(stage.Tasks),
	)
	return d.applyLocked(ctx, updates)
}

func (d *dispatcher) enqueueLocked(host string, command schema.AgentCommand, since time.Time, delivered bool) {
	d.outstanding[command.TaskID] = &outstandingCommand{
		command:   command,
		host:      host,
		since:     since,
		delivered: delivered,
	}
	if !delivered {
		d.queues[host] = append(d.queues[host], command.TaskID)
	}
}

// requeue restores dispatch state for recovered tasks. QUEUED tasks
// return to their host's queue and IN_PROGRESS tasks are treated as
// delivered. Both count toward the task timeout from now.
func (d *dispatcher) requeue(ctx context.Context, tasks []schema.TaskRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	var updates []aggregate.TaskUpdate
	for _, task := range tasks {
		if task.Status != schema.StatusQueued && task.Status != schema.StatusInProgress {
			continue
		}
		command, err := translate(task, d.roles, d.dryRun[task.Stage.RequestID])
		if err != nil {
			updates = append(updates, aggregate.TaskUpdate{
				ID:     task.ID,
				Status: schema.StatusFailed,
				Result: &schema.CommandResult{ExitCode: 1, Stderr: err.Error()},
			})
			continue
		}
		d.enqueueLocked(task.Host, command, now, task.Status == schema.StatusInProgress)
	}
	return d.applyLocked(ctx, updates)
}

// take hands the host its queued commands and marks them IN_PROGRESS.
// Hosts that are not eligible keep their queue.
func (d *dispatcher) take(ctx context.Context, host string) ([]schema.AgentCommand, error) {
	if !d.hosts.Eligible(host) {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	queue := d.queues[host]
	delete(d.queues, host)

	now := d.clock.Now()
	var commands []schema.AgentCommand
	var updates []aggregate.TaskUpdate
	for _, id := range queue {
		entry, ok := d.outstanding[id]
		if !ok || entry.delivered {
			continue
		}
		entry.delivered = true
		entry.since = now
		commands = append(commands, entry.command)
		updates = append(updates, aggregate.TaskUpdate{ID: id, Status: schema.StatusInProgress})
	}
	if len(commands) > 0 {
		d.logger.Info("commands delivered", "host", host, "commands", len(commands))
	}
	return commands, d.applyLocked(ctx, updates)
}

// report applies an agent's task reports.
func (d *dispatcher) report(ctx context.Context, host string, reports []schema.TaskReport) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	updates := make([]aggregate.TaskUpdate, 0, len(reports))
	for _, report := range reports {
		entry, ok := d.outstanding[report.TaskID]
		if ok && entry.host != host {
			d.logger.Warn("report from a host the task was not sent to",
				"task", report.TaskID,
				"host", host,
				"expected_host", entry.host,
			)
			continue
		}
		if !report.Status.IsTerminal() {
			d.logger.Warn("ignoring non-terminal report", "task", report.TaskID, "status", report.Status)
			continue
		}
		delete(d.outstanding, report.TaskID)
		result := report.Result
		updates = append(updates, aggregate.TaskUpdate{ID: report.TaskID, Status: report.Status, Result: &result})
	}
	return d.applyLocked(ctx, updates)
}

// abort aborts every unfinished task of the request and drops its
// queued commands. Commands already running on agents finish, but
// their reports are ignored.
func (d *dispatcher) abort(ctx context.Context, requestID string) (schema.AbortResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abortLocked(ctx, requestID)
}

func (d *dispatcher) abortLocked(ctx context.Context, requestID string) (schema.AbortResponse, error) {
	response := schema.AbortResponse{RequestID: requestID}
	changes, err := d.tracker.Abort(ctx, requestID)
	if err != nil {
		return response, err
	}
	response.Aborted = len(changes.Tasks)
	for _, change := range changes.Requests {
		if change.ID == requestID {
			response.Status = change.Status
		}
		if change.Retired {
			d.forgetLocked(change.ID)
		}
	}
	d.logger.Info("request aborted", "request", requestID, "tasks", response.Aborted)
	return response, nil
}

// sweepTimeouts marks outstanding tasks older than the task timeout
// TIMEDOUT. Queued tasks count from their release, delivered ones
// from their delivery.
func (d *dispatcher) sweepTimeouts(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.clock.Now().Add(-d.taskTimeout)
	var expired []int64
	for id, entry := range d.outstanding {
		if entry.since.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	updates := make([]aggregate.TaskUpdate, 0, len(expired))
	for _, id := range expired {
		entry := d.outstanding[id]
		delete(d.outstanding, id)
		d.logger.Warn("task timed out",
			"task", id,
			"host", entry.host,
			"delivered", entry.delivered,
			"timeout", d.taskTimeout,
		)
		updates = append(updates, aggregate.TaskUpdate{
			ID:     id,
			Status: schema.StatusTimedOut,
			Result: &schema.CommandResult{
				ExitCode: 1,
				Stderr:   fmt.Sprintf("no result from %s within %s", entry.host, d.taskTimeout),
			},
		})
	}
	return d.applyLocked(ctx, updates)
}

// applyLocked feeds updates to the tracker and settles the stage and
// request changes they caused.
func (d *dispatcher) applyLocked(ctx context.Context, updates []aggregate.TaskUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	changes, err := d.tracker.OnTaskUpdate(ctx, updates)
	if err != nil {
		return err
	}
	return d.settleLocked(ctx, changes)
}

// reconcile rolls every in-flight stage and request up from its tasks,
// then settles each tracked request: one holding a failed stage is
// aborted and the others get their next ready stage released. Both
// are no-ops for a request that is already settled, so a stage write
// lost to a store error or a crash is picked up here.
func (d *dispatcher) reconcile(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	changes, err := d.tracker.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling rollups: %w", err)
	}
	errs := []error{d.settleLocked(ctx, changes)}
	for _, snapshot := range d.tracker.ActiveRequests() {
		requestID := snapshot.Record.ID
		if _, tracked := d.dryRun[requestID]; !tracked {
			continue
		}
		if hasFailedStage(snapshot) {
			if _, err := d.abortLocked(ctx, requestID); err != nil && !errors.Is(err, aggregate.ErrUnknownRequest) {
				errs = append(errs, fmt.Errorf("aborting %s after stage failure: %w", requestID, err))
			}
			continue
		}
		if err := d.releaseLocked(ctx, requestID); err != nil {
			errs = append(errs, fmt.Errorf("releasing next stage of %s: %w", requestID, err))
		}
	}
	return errors.Join(errs...)
}

func hasFailedStage(snapshot aggregate.RequestSnapshot) bool {
	for _, stage := range snapshot.Stages {
		if stage.Outcome.Status.IsFailure() {
			return true
		}
	}
	return false
}

// settleLocked reacts to the stage and request changes of one tracker
// call.
func (d *dispatcher) settleLocked(ctx context.Context, changes aggregate.Changes) error {
	retired := make(map[string]bool)
	for _, change := range changes.Requests {
		if change.Retired {
			retired[change.ID] = true
			d.forgetLocked(change.ID)
		}
	}

	// A request appears at most once in each list; stages of one
	// request change in index order.
	var failed, completed []string
	seen := make(map[string]bool)
	for _, change := range changes.Stages {
		requestID := change.ID.RequestID
		if retired[requestID] || seen[requestID] {
			continue
		}
		switch {
		case change.Status.IsFailure():
			seen[requestID] = true
			failed = append(failed, requestID)
		case change.Status == schema.StatusCompleted:
			seen[requestID] = true
			completed = append(completed, requestID)
		}
	}

	var errs []error
	for _, requestID := range failed {
		d.logger.Warn("stage failed, aborting request", "request", requestID)
		if _, err := d.abortLocked(ctx, requestID); err != nil && !errors.Is(err, aggregate.ErrUnknownRequest) {
			errs = append(errs, fmt.Errorf("aborting %s after stage failure: %w", requestID, err))
		}
	}
	for _, requestID := range completed {
		if err := d.releaseLocked(ctx, requestID); err != nil {
			errs = append(errs, fmt.Errorf("releasing next stage of %s: %w", requestID, err))
		}
	}
	return errors.Join(errs...)
}

// untrack drops a request that never made it into the tracker.
func (d *dispatcher) untrack(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgetLocked(requestID)
}

// forgetLocked drops everything held for a finished request.
func (d *dispatcher) forgetLocked(requestID string) {
	delete(d.dryRun, requestID)
	for id, entry := range d.outstanding {
		if entry.command.RequestID == requestID {
			delete(d.outstanding, id)
		}
	}
}

// counts returns the number of queued and delivered outstanding
// commands.
func (d *dispatcher) counts() (queued, delivered int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.outstanding {
		if entry.delivered {
			delivered++
		} else {
			queued++
		}
	}
	return queued, delivered
}
