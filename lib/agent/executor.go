// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Executor runs batches of commands.
type Executor struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	parallelism    int
	commandTimeout time.Duration

	// packages serializes package commands: the package manager holds
	// a global lock and concurrent invocations fail or block.
	packages *semaphore.Weighted
}

// NewExecutor returns an Executor running at most parallelism commands
// at once. A positive commandTimeout bounds each command.
func NewExecutor(dispatcher *Dispatcher, parallelism int, commandTimeout time.Duration, logger *slog.Logger) *Executor {
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		dispatcher:     dispatcher,
		logger:         logger,
		parallelism:    parallelism,
		commandTimeout: commandTimeout,
		packages:       semaphore.NewWeighted(1),
	}
}

// Execute runs every valid command and returns one report per valid
// command, in input order. Invalid commands are skipped before
// anything runs; their validation errors are joined into the returned
// error.
func (e *Executor) Execute(ctx context.Context, commands []schema.AgentCommand) ([]schema.TaskReport, error) {
	var rejected []error
	valid := make([]schema.AgentCommand, 0, len(commands))
	for _, command := range commands {
		if err := Validate(command); err != nil {
			e.logger.Error("rejecting command", "task", command.TaskID, "error", err)
			rejected = append(rejected, err)
			continue
		}
		valid = append(valid, command)
	}

	reports := make([]schema.TaskReport, len(valid))
	var group errgroup.Group
	group.SetLimit(e.parallelism)
	for i, command := range valid {
		group.Go(func() error {
			reports[i] = e.executeOne(ctx, command)
			return nil
		})
	}
	// Workers fold every failure into their report and never return
	// an error.
	group.Wait()

	return reports, errors.Join(rejected...)
}

func (e *Executor) executeOne(ctx context.Context, command schema.AgentCommand) schema.TaskReport {
	report := schema.TaskReport{TaskID: command.TaskID, RequestID: command.RequestID}

	if command.Target == schema.TargetPackage {
		if err := e.packages.Acquire(ctx, 1); err != nil {
			report.Status = schema.StatusAborted
			report.Result = failure(err)
			return report
		}
		defer e.packages.Release(1)
	}

	commandContext := ctx
	if e.commandTimeout > 0 {
		var cancel context.CancelFunc
		commandContext, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	start := time.Now()
	report.Result = e.dispatcher.Dispatch(commandContext, command)
	switch {
	case report.Result.Succeeded():
		report.Status = schema.StatusCompleted
	case errors.Is(commandContext.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		report.Status = schema.StatusTimedOut
	default:
		report.Status = schema.StatusFailed
	}

	e.logger.Info("command finished",
		"task", command.TaskID,
		"request", command.RequestID,
		"target", command.Target,
		"name", command.Name,
		"verb", command.Verb,
		"exit_code", report.Result.ExitCode,
		"status", report.Status,
		"duration", time.Since(start),
	)
	return report
}
