// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/orchestra/cmd/orchestra/cli"
	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("orchestra")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand(newEnvironment()).Execute(ctx, os.Args[1:])
	stop()
	if err == nil {
		return
	}

	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// caller performs one controller action. *cli.ControllerConnection
// implements it.
type caller interface {
	Call(ctx context.Context, action string, fields map[string]any, result any) error
}

// environment is what commands read from and write to. Tests replace
// the controller and the streams.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	clock  clock.Clock

	// connection receives the shared controller flags; controller is
	// what commands call, normally the same connection.
	connection *cli.ControllerConnection
	controller caller
}

func newEnvironment() *environment {
	connection := &cli.ControllerConnection{}
	return &environment{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		clock:      clock.Real(),
		connection: connection,
		controller: connection,
	}
}

func rootCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:    "orchestra",
		Summary: "Plan and run staged operations across a fleet",
		Description: `orchestra talks to an orchestra-controller: it submits requests,
follows their stages, aborts them, and manages host verification. The
plan command orders a request locally without a controller.`,
		Subcommands: []*cli.Command{
			planCommand(env.stdin, env.stdout),
			requestCommand(env),
			hostsCommand(env),
			statusCommand(env),
			versionCommand(env.stdout),
		},
	}
}
