// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"

	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Runner runs one process to completion. A process that ran and
// exited non-zero is a result, not an error; errors are reserved for
// processes that could not be run at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (schema.CommandResult, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// Run starts name in its own process group, so cancelling ctx kills
// the process and any children it spawned.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (schema.CommandResult, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	command.Cancel = func() error {
		return syscall.Kill(-command.Process.Pid, syscall.SIGKILL)
	}

	err := command.Run()
	result := schema.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		result.ExitCode = exitError.ExitCode()
		if result.ExitCode < 0 {
			// Killed by a signal.
			result.ExitCode = 1
			result.Stderr += exitError.Error()
		}
		return result, nil
	}
	return result, err
}
