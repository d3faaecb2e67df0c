// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// translate turns a planned task into the command its host's agent
// runs. INSTALL and UNINSTALL act on the role's packages; START, STOP,
// and STATUS act on its daemon.
func translate(task schema.TaskRecord, roles map[string]config.RoleTarget, dryRun bool) (schema.AgentCommand, error) {
	target, ok := roles[task.Role]
	if !ok {
		return schema.AgentCommand{}, fmt.Errorf("no target configured for role %s", task.Role)
	}

	command := schema.AgentCommand{
		TaskID:    task.ID,
		RequestID: task.Stage.RequestID,
	}

	switch task.Command {
	case schema.CommandInstall, schema.CommandUninstall:
		if len(target.Packages) == 0 {
			return schema.AgentCommand{}, fmt.Errorf("role %s has no packages to %s", task.Role, task.Command)
		}
		command.Target = schema.TargetPackage
		command.Params = append([]string(nil), target.Packages...)
		if task.Command == schema.CommandInstall {
			command.Verb = schema.PackageInstall
			command.DryRun = dryRun
		} else {
			command.Verb = schema.PackageErase
		}

	case schema.CommandStart, schema.CommandStop, schema.CommandStatus:
		if target.Daemon == "" {
			return schema.AgentCommand{}, fmt.Errorf("role %s has no daemon to %s", task.Role, task.Command)
		}
		command.Target = schema.TargetDaemon
		command.Name = target.Daemon
		switch task.Command {
		case schema.CommandStart:
			command.Verb = schema.DaemonStart
		case schema.CommandStop:
			command.Verb = schema.DaemonStop
		default:
			command.Verb = schema.DaemonStatus
		}

	default:
		return schema.AgentCommand{}, fmt.Errorf("unsupported command %s for role %s", task.Command, task.Role)
	}
	return command, nil
}
