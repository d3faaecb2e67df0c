// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/orchestra/lib/agent"
	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/inventory"
	"github.com/bureau-foundation/orchestra/lib/process"
	"github.com/bureau-foundation/orchestra/lib/service"
	"github.com/bureau-foundation/orchestra/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var hostname string

	flagSet := pflag.NewFlagSet("orchestra-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to orchestra.yaml (default: $ORCHESTRA_CONFIG)")
	flagSet.StringVar(&hostname, "hostname", "", "name to register under (default: agent.hostname, then the system hostname)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("orchestra-agent")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	settings := cfg.Agent

	if hostname == "" {
		hostname = settings.Hostname
	}
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("reading hostname: %w", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := agent.NewDispatcher(agent.ExecRunner{}, agent.Config{
		InitDir:        settings.InitDir,
		PackageManager: settings.PackageManager,
		ScratchDir:     settings.ScratchDir,
	}, logger)
	thresholds := inventory.Thresholds{
		MaxDiskPercent:  settings.MaxDiskPercent,
		MinMemoryFreeKB: settings.MinMemoryFreeKB,
	}

	orchestraAgent := newAgent(agentConfig{
		Controller: service.NewClient(settings.ControllerNetwork, settings.ControllerAddress),
		Executor:   agent.NewExecutor(dispatcher, settings.Parallelism, settings.CommandTimeout, logger),
		Clock:      clock.Real(),
		Logger:     logger,
		Hostname:   hostname,
		Interval:   settings.HeartbeatInterval,
		Probe:      inventory.Probe,
		Check:      func() (bool, string) { return inventory.Check(thresholds) },
	})

	logger.Info("agent running",
		"version", version.Info(),
		"hostname", hostname,
		"controller", settings.ControllerAddress,
		"heartbeat_interval", settings.HeartbeatInterval,
		"parallelism", settings.Parallelism,
	)
	err = orchestraAgent.Run(ctx)
	logger.Info("agent stopped")
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `orchestra-agent registers this host with an orchestra controller and
runs the daemon and package commands it dispatches.

Usage:
  orchestra-agent [flags]

Flags:
%s`, flagSet.FlagUsages())
}
