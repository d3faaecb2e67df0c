// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/schema"
	"github.com/bureau-foundation/orchestra/lib/service"
)

// caller is the controller connection. *service.Client implements it.
type caller interface {
	Call(ctx context.Context, action string, fields map[string]any, result any) error
}

// executor runs a batch of commands. *agent.Executor implements it.
type executor interface {
	Execute(ctx context.Context, commands []schema.AgentCommand) ([]schema.TaskReport, error)
}

// Agent registers its host with the controller, heartbeats on a fixed
// interval, and runs the commands heartbeat responses carry.
//
// Reports of finished commands ride on the next heartbeat and are kept
// until a heartbeat is accepted by a HEALTHY or UNHEALTHY controller
// state. A controller that lost the host (restart, or a heartbeat from
// an INIT host) answers RegistrationRequired; the agent registers
// again and resends its reports.
type Agent struct {
	controller caller
	executor   executor
	clock      clock.Clock
	logger     *slog.Logger

	hostname string
	interval time.Duration

	// probe reads the static inventory sent at registration. check
	// classifies current health for each heartbeat.
	probe func() schema.HostInfo
	check func() (bool, string)

	mu          sync.Mutex
	registered  bool
	lastCounter int64
	pending     []schema.TaskReport
	running     map[int64]struct{}

	// commands tracks executing batches so shutdown can wait for them.
	commands sync.WaitGroup
}

// agentConfig carries the collaborators newAgent wires.
type agentConfig struct {
	Controller caller
	Executor   executor
	Clock      clock.Clock
	Logger     *slog.Logger

	Hostname string
	Interval time.Duration
	Probe    func() schema.HostInfo
	Check    func() (bool, string)
}

func newAgent(cfg agentConfig) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Agent{
		controller: cfg.Controller,
		executor:   cfg.Executor,
		clock:      cfg.Clock,
		logger:     logger,
		hostname:   cfg.Hostname,
		interval:   cfg.Interval,
		probe:      cfg.Probe,
		check:      cfg.Check,
		running:    make(map[int64]struct{}),
	}
}

// Run heartbeats until ctx is cancelled, then waits for running
// commands to finish. Commands see ctx, so cancellation stops them.
func (a *Agent) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.step(ctx)
		select {
		case <-ctx.Done():
			a.commands.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// step registers if needed and sends one heartbeat. Failures are
// logged and retried on the next tick.
func (a *Agent) step(ctx context.Context) {
	if !a.isRegistered() {
		if err := a.register(ctx); err != nil {
			a.logger.Warn("registration failed", "error", err)
			return
		}
	}
	if err := a.heartbeat(ctx); err != nil {
		a.logger.Warn("heartbeat failed", "error", err)
	}
}

func (a *Agent) isRegistered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

// counter returns a strictly increasing heartbeat counter derived from
// wall-clock milliseconds, so a restarted agent continues above its
// previous values.
func (a *Agent) counter() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.clock.Now().UnixMilli()
	if next <= a.lastCounter {
		next = a.lastCounter + 1
	}
	a.lastCounter = next
	return next
}

func (a *Agent) register(ctx context.Context) error {
	info := a.probe()
	info.Hostname = a.hostname

	var response schema.RegistrationResponse
	err := a.controller.Call(ctx, "register", map[string]any{
		"registration": schema.Registration{
			Hostname: a.hostname,
			Info:     info,
			Counter:  a.counter(),
		},
	}, &response)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()
	a.logger.Info("registered with controller",
		"hostname", a.hostname,
		"state", response.State,
	)
	return nil
}

func (a *Agent) heartbeat(ctx context.Context) error {
	healthy, detail := a.check()

	a.mu.Lock()
	reports := append([]schema.TaskReport(nil), a.pending...)
	a.mu.Unlock()

	var response schema.HeartbeatResponse
	err := a.controller.Call(ctx, "heartbeat", map[string]any{
		"heartbeat": schema.Heartbeat{
			Hostname: a.hostname,
			Counter:  a.counter(),
			Healthy:  healthy,
			Detail:   detail,
			Reports:  reports,
		},
	}, &response)
	if err != nil {
		var serviceErr *service.ServiceError
		if errors.As(err, &serviceErr) {
			// The controller rejected the beat itself, e.g. a stale
			// counter. Registering again starts a fresh sequence.
			a.mu.Lock()
			a.registered = false
			a.mu.Unlock()
		}
		return err
	}

	if response.RegistrationRequired {
		a.logger.Info("controller requires registration", "state", response.State)
		a.mu.Lock()
		a.registered = false
		a.mu.Unlock()
		return nil
	}

	switch response.State {
	case schema.HostHealthy, schema.HostUnhealthy:
		a.acknowledge(reports)
	default:
		// Not yet verified: the controller ignored the reports.
		return nil
	}

	a.start(ctx, response.Commands)
	return nil
}

// acknowledge drops reports the controller accepted. Reports that
// arrived while the heartbeat was in flight stay pending.
func (a *Agent) acknowledge(sent []schema.TaskReport) {
	if len(sent) == 0 {
		return
	}
	delivered := make(map[int64]struct{}, len(sent))
	for _, report := range sent {
		delivered[report.TaskID] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.pending[:0]
	for _, report := range a.pending {
		if _, ok := delivered[report.TaskID]; !ok {
			kept = append(kept, report)
		}
	}
	a.pending = kept
}

// start runs commands in the background. A command already running or
// awaiting acknowledgement is not started twice.
func (a *Agent) start(ctx context.Context, commands []schema.AgentCommand) {
	a.mu.Lock()
	fresh := make([]schema.AgentCommand, 0, len(commands))
	for _, command := range commands {
		if _, ok := a.running[command.TaskID]; ok || a.pendingLocked(command.TaskID) {
			a.logger.Warn("ignoring duplicate command", "task", command.TaskID)
			continue
		}
		a.running[command.TaskID] = struct{}{}
		fresh = append(fresh, command)
	}
	a.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	a.logger.Info("running commands", "commands", len(fresh))

	a.commands.Add(1)
	go func() {
		defer a.commands.Done()
		reports, err := a.executor.Execute(ctx, fresh)
		if err != nil {
			a.logger.Error("commands rejected", "error", err)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		for _, command := range fresh {
			delete(a.running, command.TaskID)
		}
		a.pending = append(a.pending, reports...)
	}()
}

func (a *Agent) pendingLocked(taskID int64) bool {
	for _, report := range a.pending {
		if report.TaskID == taskID {
			return true
		}
	}
	return false
}

// wait blocks until every started batch has finished.
func (a *Agent) wait() {
	a.commands.Wait()
}
