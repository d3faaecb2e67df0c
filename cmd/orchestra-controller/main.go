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

	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/process"
	"github.com/bureau-foundation/orchestra/lib/service"
	"github.com/bureau-foundation/orchestra/lib/store"
	"github.com/bureau-foundation/orchestra/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("orchestra-controller", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to orchestra.yaml (default: $ORCHESTRA_CONFIG)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("orchestra-controller")
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

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	compression, err := store.ParseCompression(cfg.Controller.OutputCompression)
	if err != nil {
		return err
	}
	clk := clock.Real()
	database, err := store.OpenStore(store.StoreConfig{
		Path:        cfg.Controller.DatabasePath,
		PoolSize:    cfg.Controller.PoolSize,
		Compression: compression,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	oracle, err := cfg.RoleOrder.Build()
	if err != nil {
		return err
	}

	controller := newController(controllerConfig{
		Clock:            clk,
		Logger:           logger,
		Store:            database,
		Oracle:           oracle,
		Roles:            cfg.Roles,
		AutoVerify:       cfg.Controller.AutoVerify,
		HeartbeatTimeout: cfg.Controller.HeartbeatTimeout,
		TaskTimeout:      cfg.Controller.TaskTimeout,
	})
	if err := controller.resume(ctx); err != nil {
		return fmt.Errorf("resuming unfinished requests: %w", err)
	}

	socketServer := service.NewSocketServer(cfg.Controller.Network, cfg.Controller.Address, logger)
	controller.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	go controller.monitor(ctx, cfg.Controller.SweepInterval)

	logger.Info("controller running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"network", cfg.Controller.Network,
		"address", cfg.Controller.Address,
		"database", cfg.Controller.DatabasePath,
		"oracle", cfg.RoleOrder.Oracle,
		"roles", len(cfg.Roles),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := <-socketDone; err != nil {
			logger.Error("socket server error", "error", err)
		}
		return nil
	case err := <-socketDone:
		return fmt.Errorf("socket server: %w", err)
	}
}

// loadConfig reads the file named by --config, falling back to
// $ORCHESTRA_CONFIG, and prepares its directories.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `orchestra-controller plans fleet operations into stages and
dispatches them to host agents.

Usage:
  orchestra-controller [flags]

Flags:
%s`, flagSet.FlagUsages())
}
