// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// ErrMissingCorrelation: the command lacks a task ID, request ID, or
// target name, so its outcome could not be attributed.
var ErrMissingCorrelation = errors.New("command missing correlation identifiers")

// Config locates the tools a Dispatcher runs. Zero fields take the
// defaults below.
type Config struct {
	// InitDir holds daemon init scripts. Default "/etc/init.d".
	InitDir string

	// PackageManager is the package manager binary. Default "yum".
	PackageManager string

	// TestInstaller checks downloaded packages in a dry run. Default
	// "rpm", invoked as "rpm -i --test <files>".
	TestInstaller string

	// ScratchDir is the parent of dry-run download directories.
	// Default os.TempDir().
	ScratchDir string
}

// Dispatcher turns agent commands into processes.
type Dispatcher struct {
	runner Runner
	config Config
	logger *slog.Logger
}

// NewDispatcher returns a Dispatcher running processes through runner.
func NewDispatcher(runner Runner, config Config, logger *slog.Logger) *Dispatcher {
	if config.InitDir == "" {
		config.InitDir = "/etc/init.d"
	}
	if config.PackageManager == "" {
		config.PackageManager = "yum"
	}
	if config.TestInstaller == "" {
		config.TestInstaller = "rpm"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{runner: runner, config: config, logger: logger}
}

// Validate checks that command can be attributed and executed.
func Validate(command schema.AgentCommand) error {
	switch {
	case command.TaskID == 0:
		return fmt.Errorf("%w: no task ID", ErrMissingCorrelation)
	case command.RequestID == "":
		return fmt.Errorf("%w: task %d has no request ID", ErrMissingCorrelation, command.TaskID)
	case command.Target == schema.TargetDaemon && command.Name == "":
		return fmt.Errorf("%w: task %d names no daemon", ErrMissingCorrelation, command.TaskID)
	case command.Target == schema.TargetPackage && len(command.Params) == 0:
		return fmt.Errorf("%w: task %d names no packages", ErrMissingCorrelation, command.TaskID)
	}
	return nil
}

var (
	daemonVerbs  = []string{schema.DaemonStart, schema.DaemonStop, schema.DaemonStatus}
	packageVerbs = []string{schema.PackageInstall, schema.PackageErase, schema.PackageInfo}
)

// Dispatch runs command and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, command schema.AgentCommand) (result schema.CommandResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("dispatch panicked",
				"task", command.TaskID,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result = failure(fmt.Errorf("panic: %v", recovered))
		}
	}()

	if err := Validate(command); err != nil {
		return failure(err)
	}

	switch command.Target {
	case schema.TargetDaemon:
		if !slices.Contains(daemonVerbs, command.Verb) {
			return failure(fmt.Errorf("unsupported daemon verb %q", command.Verb))
		}
		return d.run(ctx, filepath.Join(d.config.InitDir, command.Name), command.Verb)

	case schema.TargetPackage:
		if !slices.Contains(packageVerbs, command.Verb) {
			return failure(fmt.Errorf("unsupported package verb %q", command.Verb))
		}
		if command.Verb == schema.PackageInstall && command.DryRun {
			return d.dryRunInstall(ctx, command.Params)
		}
		args := []string{command.Verb}
		if command.Verb != schema.PackageInfo {
			args = append(args, "-y")
		}
		return d.run(ctx, d.config.PackageManager, append(args, command.Params...)...)

	default:
		return failure(fmt.Errorf("unsupported target kind %q", command.Target))
	}
}

// dryRunInstall downloads packages into a scratch directory and test
// installs them. The scratch directory never outlives the call.
func (d *Dispatcher) dryRunInstall(ctx context.Context, packages []string) schema.CommandResult {
	scratch, err := os.MkdirTemp(d.config.ScratchDir, "orchestra-dryrun-")
	if err != nil {
		return failure(fmt.Errorf("creating scratch directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			d.logger.Warn("removing dry-run scratch directory", "path", scratch, "error", err)
		}
	}()

	args := append([]string{
		schema.PackageInstall, "-y", "--downloadonly", "--downloaddir=" + scratch,
	}, packages...)
	download := d.run(ctx, d.config.PackageManager, args...)
	if !download.Succeeded() {
		return download
	}

	files, err := filepath.Glob(filepath.Join(scratch, "*.rpm"))
	if err != nil {
		return failure(fmt.Errorf("listing downloaded packages: %w", err))
	}
	if len(files) == 0 {
		// Everything requested is already installed at the wanted
		// version.
		download.Stdout += "dry run: nothing to install\n"
		return download
	}

	check := d.run(ctx, d.config.TestInstaller, append([]string{"-i", "--test"}, files...)...)
	check.Stdout = download.Stdout + check.Stdout
	check.Stderr = download.Stderr + check.Stderr
	return check
}

func (d *Dispatcher) run(ctx context.Context, name string, args ...string) schema.CommandResult {
	d.logger.Debug("running command", "name", name, "args", args)
	result, err := d.runner.Run(ctx, name, args...)
	if err != nil {
		return failure(fmt.Errorf("running %s: %w", name, err))
	}
	return result
}

func failure(err error) schema.CommandResult {
	return schema.CommandResult{ExitCode: 1, Stderr: err.Error()}
}
