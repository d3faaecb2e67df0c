// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/orchestra/cmd/orchestra/cli"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

func statusCommand(env *environment) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "status",
		Summary: "Show controller status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var status schema.ControllerStatus
			if err := env.controller.Call(ctx, "status", nil, &status); err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(env.stdout, status)
			}
			renderStatus(env.stdout, status)
			return nil
		},
	}
}
