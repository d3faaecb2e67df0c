// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bureau-foundation/orchestra/lib/aggregate"
	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/lifecycle"
	"github.com/bureau-foundation/orchestra/lib/roleorder"
	"github.com/bureau-foundation/orchestra/lib/schema"
	"github.com/bureau-foundation/orchestra/lib/store"
	"github.com/bureau-foundation/orchestra/lib/version"
)

// Controller owns the planner's oracle, the host registry, the
// aggregator, and the dispatcher that connects them.
type Controller struct {
	clock  clock.Clock
	logger *slog.Logger

	store    *store.Store
	tracker  *aggregate.Tracker
	hosts    *lifecycle.Registry
	oracle   roleorder.Oracle
	dispatch *dispatcher

	// autoVerify moves freshly registered hosts straight to VERIFIED.
	// Without it an operator runs "verify" for each new host.
	autoVerify bool

	heartbeatTimeout time.Duration
	startedAt        time.Time
}

// controllerConfig carries the collaborators newController wires.
type controllerConfig struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Store  *store.Store
	Oracle roleorder.Oracle
	Roles  map[string]config.RoleTarget

	AutoVerify       bool
	HeartbeatTimeout time.Duration
	TaskTimeout      time.Duration
}

func newController(cfg controllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracker := aggregate.NewTracker(cfg.Store, logger)
	hosts := lifecycle.NewRegistry(lifecycle.KindHost, cfg.Clock)
	return &Controller{
		clock:            cfg.Clock,
		logger:           logger,
		store:            cfg.Store,
		tracker:          tracker,
		hosts:            hosts,
		oracle:           cfg.Oracle,
		dispatch:         newDispatcher(cfg.Clock, tracker, hosts, cfg.Roles, cfg.TaskTimeout, logger),
		autoVerify:       cfg.AutoVerify,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		startedAt:        cfg.Clock.Now(),
	}
}

// resume reloads unfinished requests after a restart. QUEUED tasks go
// back on their host's queue; IN_PROGRESS tasks wait for the agent's
// report and time out from now if it never comes. Stage and request
// rows are rolled up again from their tasks, since a crash can land
// between a task write and its stage write. Host lifecycles are not
// restored: agents re-register on their next heartbeat.
func (c *Controller) resume(ctx context.Context) error {
	tasks, err := c.store.ActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading active tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := c.tracker.OnTaskCreate(ctx, tasks); err != nil {
		return fmt.Errorf("indexing active tasks: %w", err)
	}

	requestIDs := make(map[string]struct{})
	for _, task := range tasks {
		requestIDs[task.Stage.RequestID] = struct{}{}
	}
	sorted := make([]string, 0, len(requestIDs))
	for id := range requestIDs {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		record, err := c.store.LoadRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("loading request %s: %w", id, err)
		}
		c.dispatch.track(id, record.DryRun)
	}
	if err := c.dispatch.requeue(ctx, tasks); err != nil {
		return fmt.Errorf("requeueing recovered tasks: %w", err)
	}
	if err := c.dispatch.reconcile(ctx); err != nil {
		return fmt.Errorf("settling recovered requests: %w", err)
	}

	requests, _, _ := c.tracker.Counts()
	c.logger.Info("recovered unfinished requests",
		"requests", len(sorted),
		"active", requests,
		"tasks", len(tasks),
	)
	return nil
}

// saveHost persists a host's lifecycle snapshot. Failures are logged:
// the in-memory registry stays authoritative.
func (c *Controller) saveHost(ctx context.Context, entity *lifecycle.Lifecycle) {
	snapshot := entity.Snapshot()
	if err := c.store.SaveHost(ctx, snapshot); err != nil {
		c.logger.Error("saving host snapshot failed",
			"host", snapshot.Hostname,
			"state", snapshot.State,
			"error", err,
		)
	}
}

// status summarizes the controller for the "status" action.
func (c *Controller) status() schema.ControllerStatus {
	snapshots := c.hosts.Snapshots()
	eligible := 0
	for _, snapshot := range snapshots {
		if c.hosts.Eligible(snapshot.Hostname) {
			eligible++
		}
	}
	requests, _, tasks := c.tracker.Counts()
	queued, _ := c.dispatch.counts()
	return schema.ControllerStatus{
		UptimeSeconds:  int(c.clock.Now().Sub(c.startedAt).Seconds()),
		Version:        version.Info(),
		Hosts:          len(snapshots),
		EligibleHosts:  eligible,
		ActiveRequests: requests,
		ActiveTasks:    tasks,
		QueuedCommands: queued,
	}
}
