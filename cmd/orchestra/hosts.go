// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/orchestra/cmd/orchestra/cli"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

func hostsCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:    "hosts",
		Summary: "List and verify managed hosts",
		Subcommands: []*cli.Command{
			hostsListCommand(env),
			hostsVerifyCommand(env),
		},
	}
}

type hostList struct {
	Hosts []schema.HostSnapshot `json:"hosts"`
}

func hostsListCommand(env *environment) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "list",
		Summary: "Show every host the controller knows",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return cli.Validation("unexpected argument %q", args[0])
			}
			var response hostList
			if err := env.controller.Call(ctx, "list-hosts", nil, &response); err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(env.stdout, response.Hosts)
			}
			renderHosts(env.stdout, response.Hosts)
			return nil
		},
	}
}

func hostsVerifyCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:        "verify",
		Summary:     "Accept hosts waiting for verification",
		Description: "Move registered hosts from WAITING_FOR_VERIFICATION to VERIFIED. They start receiving commands after their next healthy heartbeat.",
		Usage:       "orchestra hosts verify [flags] <hostname>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return cli.Validation("expected at least one hostname")
			}
			for _, hostname := range args {
				var response schema.RegistrationResponse
				if err := env.controller.Call(ctx, "verify", map[string]any{"hostname": hostname}, &response); err != nil {
					return fmt.Errorf("verifying %s: %w", hostname, err)
				}
				fmt.Fprintf(env.stdout, "%s: %s\n", hostname, response.State)
			}
			return nil
		},
	}
}
