// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/orchestra/cmd/orchestra/cli"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

func requestCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:    "request",
		Aliases: []string{"req"},
		Summary: "Submit, inspect, and abort requests",
		Subcommands: []*cli.Command{
			requestSubmitCommand(env),
			requestStatusCommand(env),
			requestAbortCommand(env),
			requestListCommand(env),
		},
	}
}

func requestSubmitCommand(env *environment) *cli.Command {
	var (
		name       string
		dryRun     bool
		wait       bool
		interval   time.Duration
		outputJSON bool
	)
	return &cli.Command{
		Name:    "submit",
		Summary: "Submit a request file to the controller",
		Description: `Submit a request file. The controller orders the commands into
stages and starts the first one. With --wait, follow the request until
it finishes and exit 1 if it did not complete.`,
		Usage: "orchestra request submit [flags] <request-file>",
		Examples: []cli.Example{
			{Description: "Start HDFS and wait for it", Command: "orchestra request submit --wait start-hdfs.yaml"},
			{Description: "Check that packages resolve without installing", Command: "orchestra request submit --dry-run install.yaml"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("submit", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.StringVar(&name, "name", "", "request name (overrides the file)")
			flagSet.BoolVar(&dryRun, "dry-run", false, "turn package installs into download checks")
			flagSet.BoolVarP(&wait, "wait", "w", false, "wait for the request to finish")
			flagSet.DurationVar(&interval, "interval", 2*time.Second, "status poll interval with --wait")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("expected one request file")
			}
			request, err := loadRequestFile(args[0], env.stdin)
			if err != nil {
				return cli.Validation("%w", err)
			}
			if name != "" {
				request.Name = name
			}
			if dryRun {
				request.DryRun = true
			}

			var response schema.SubmitResponse
			if err := env.controller.Call(ctx, "submit", map[string]any{"request": request}, &response); err != nil {
				return err
			}
			if !wait {
				if outputJSON {
					return cli.WriteJSON(env.stdout, response)
				}
				fmt.Fprintf(env.stdout, "submitted %s: %d tasks in %d stages\n",
					response.RequestID, response.Tasks, response.Stages)
				return nil
			}

			detail, err := waitForRequest(ctx, env, response.RequestID, interval)
			if err != nil {
				return err
			}
			return reportRequest(env, detail, outputJSON)
		},
	}
}

// waitForRequest polls request-status until the request is terminal.
func waitForRequest(ctx context.Context, env *environment, requestID string, interval time.Duration) (schema.RequestDetail, error) {
	for {
		detail, err := fetchRequest(ctx, env, requestID)
		if err != nil {
			return schema.RequestDetail{}, err
		}
		if detail.Request.Status.IsTerminal() {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return schema.RequestDetail{}, ctx.Err()
		case <-env.clock.After(interval):
		}
	}
}

func fetchRequest(ctx context.Context, env *environment, requestID string) (schema.RequestDetail, error) {
	var detail schema.RequestDetail
	err := env.controller.Call(ctx, "request-status", map[string]any{"request_id": requestID}, &detail)
	return detail, err
}

// reportRequest prints a finished request and turns anything other
// than completion into exit status 1.
func reportRequest(env *environment, detail schema.RequestDetail, outputJSON bool) error {
	if outputJSON {
		if err := cli.WriteJSON(env.stdout, detail); err != nil {
			return err
		}
	} else {
		renderRequest(env.stdout, detail)
	}
	if detail.Request.Status.IsFailure() {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

func requestStatusCommand(env *environment) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "status",
		Summary: "Show a request's stages and tasks",
		Usage:   "orchestra request status [flags] <request-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("expected one request ID")
			}
			detail, err := fetchRequest(ctx, env, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(env.stdout, detail)
			}
			renderRequest(env.stdout, detail)
			return nil
		},
	}
}

func requestAbortCommand(env *environment) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:        "abort",
		Summary:     "Abort a running request",
		Description: "Abort every unfinished task of a request. Tasks already running on a host finish there, but their results are ignored.",
		Usage:       "orchestra request abort [flags] <request-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("abort", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("expected one request ID")
			}
			var response schema.AbortResponse
			if err := env.controller.Call(ctx, "abort", map[string]any{"request_id": args[0]}, &response); err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(env.stdout, response)
			}
			fmt.Fprintf(env.stdout, "aborted %d tasks of %s (now %s)\n", response.Aborted, response.RequestID, response.Status)
			return nil
		},
	}
}

type requestList struct {
	Requests []schema.RequestRecord `json:"requests"`
}

func requestListCommand(env *environment) *cli.Command {
	var (
		limit      int
		outputJSON bool
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List recent requests, newest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			env.connection.AddFlags(flagSet)
			flagSet.IntVarP(&limit, "limit", "n", 20, "maximum number of requests")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return cli.Validation("unexpected argument %q", args[0])
			}
			var response requestList
			if err := env.controller.Call(ctx, "list-requests", map[string]any{"limit": limit}, &response); err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(env.stdout, response.Requests)
			}
			renderRequests(env.stdout, response.Requests)
			return nil
		},
	}
}
