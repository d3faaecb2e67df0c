// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// TargetKind selects how an agent executes a command.
type TargetKind string

const (
	// TargetDaemon runs /etc/init.d/<name> <verb>.
	TargetDaemon TargetKind = "daemon"

	// TargetPackage runs the package manager with <verb> over the
	// packages listed in Params.
	TargetPackage TargetKind = "package"
)

// Daemon verbs.
const (
	DaemonStart  = "start"
	DaemonStop   = "stop"
	DaemonStatus = "status"
)

// Package verbs.
const (
	PackageInstall = "install"
	PackageErase   = "erase"
	PackageInfo    = "info"
)

// AgentCommand is one command dispatched to a host. TaskID and
// RequestID correlate the eventual result back to the task.
type AgentCommand struct {
	TaskID    int64      `json:"task_id"`
	RequestID string     `json:"request_id"`
	Target    TargetKind `json:"target"`

	// Name is the daemon name for TargetDaemon. Unused for packages.
	Name string `json:"name,omitempty"`

	Verb string `json:"verb"`

	// Params are the package names for TargetPackage.
	Params []string `json:"params,omitempty"`

	// DryRun applies to package installs only.
	DryRun bool `json:"dry_run,omitempty"`
}

// CommandResult is the only shape that crosses the execution boundary.
// Process spawn failures and other local errors are reported here with
// ExitCode 1 and a diagnostic in Stderr, never as errors.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Succeeded reports whether the command exited zero.
func (r CommandResult) Succeeded() bool { return r.ExitCode == 0 }

// TaskReport is an agent's report of a finished command.
type TaskReport struct {
	TaskID    int64         `json:"task_id"`
	RequestID string        `json:"request_id"`
	Status    TaskStatus    `json:"status"`
	Result    CommandResult `json:"result"`
}
