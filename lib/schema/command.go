// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strings"
)

// RoleCommand is the verb applied to a role on a host.
type RoleCommand string

const (
	CommandInstall   RoleCommand = "INSTALL"
	CommandUninstall RoleCommand = "UNINSTALL"
	CommandStart     RoleCommand = "START"
	CommandStop      RoleCommand = "STOP"
	CommandStatus    RoleCommand = "STATUS"
)

// ParseRoleCommand accepts a command name in any case.
func ParseRoleCommand(value string) (RoleCommand, error) {
	command := RoleCommand(strings.ToUpper(strings.TrimSpace(value)))
	switch command {
	case CommandInstall, CommandUninstall, CommandStart, CommandStop, CommandStatus:
		return command, nil
	default:
		return "", fmt.Errorf("unknown role command %q", value)
	}
}

// HostRoleCommand is one unit of requested work: run Command for Role
// on Host. A planning pass takes an unordered set of these.
type HostRoleCommand struct {
	Host    string      `json:"host" yaml:"host"`
	Role    string      `json:"role" yaml:"role"`
	Command RoleCommand `json:"command" yaml:"command"`
}

// String renders "host:ROLE-COMMAND" for logs and error messages.
func (c HostRoleCommand) String() string {
	return c.Host + ":" + c.Role + "-" + string(c.Command)
}

// SubmitRequest is the body of a "submit" socket request and the
// format of the CLI's plan files.
type SubmitRequest struct {
	// Name is a human label for the request ("restart HDFS").
	Name string `json:"name" yaml:"name"`

	// Commands is the unordered work set. The controller orders it
	// into stages.
	Commands []HostRoleCommand `json:"commands" yaml:"commands"`

	// Skippable marks every stage of the request as tolerating task
	// failures: failed tasks are reported as SKIPPED_FAILED and the
	// request continues.
	Skippable bool `json:"skippable,omitempty" yaml:"skippable,omitempty"`

	// SuccessFactors maps a role to the fraction of its tasks in a
	// stage that must succeed (0.0-1.0). Roles not listed require 1.0.
	SuccessFactors map[string]float64 `json:"success_factors,omitempty" yaml:"success_factors,omitempty"`

	// DryRun turns package installs into download-and-test checks.
	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}
