// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/orchestra/cmd/orchestra/cli"
	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/rolegraph"
)

type planOutput struct {
	Digest string                   `json:"digest"`
	Stages []rolegraph.PlannedStage `json:"stages"`
}

func planCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	var (
		configPath string
		oracleName string
		tablePath  string
		sections   []string
		outputJSON bool
	)
	return &cli.Command{
		Name:    "plan",
		Summary: "Show the stages a request would run in",
		Description: `Order a request file locally and print its stages. Nothing is sent
to the controller. The role order comes from the configuration unless
--oracle or --table override it.`,
		Usage: "orchestra plan [flags] <request-file>",
		Examples: []cli.Example{
			{Description: "Preview an HDFS restart", Command: "orchestra plan restart-hdfs.yaml"},
			{Description: "Use a different dependency table", Command: "orchestra plan --table role_command_order.json --section optional_ha request.json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to orchestra.yaml (default: $ORCHESTRA_CONFIG)")
			flagSet.StringVar(&oracleName, "oracle", "", "ordering oracle: none or dependencies")
			flagSet.StringVar(&tablePath, "table", "", "role order table (.json, .yaml, .hcl)")
			flagSet.StringSliceVar(&sections, "section", nil, "table sections to merge (repeatable)")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.BoolP("help", "h", false, "show help")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("expected one request file")
			}
			request, err := loadRequestFile(args[0], stdin)
			if err != nil {
				return cli.Validation("%w", err)
			}

			order, err := resolveRoleOrder(configPath, oracleName, tablePath, sections)
			if err != nil {
				return err
			}
			oracle, err := order.Build()
			if err != nil {
				return err
			}
			plan, err := rolegraph.NewPlan(oracle, request.Commands)
			if err != nil {
				return err
			}

			if outputJSON {
				return cli.WriteJSON(stdout, planOutput{Digest: plan.Digest.String(), Stages: plan.Stages})
			}
			renderPlan(stdout, plan)
			return nil
		},
	}
}

// resolveRoleOrder starts from the configured role order and applies
// the command-line overrides. A table without an explicit oracle
// implies the dependency oracle; the configuration is not read when
// the flags say everything.
func resolveRoleOrder(configPath, oracleName, tablePath string, sections []string) (config.RoleOrderConfig, error) {
	var order config.RoleOrderConfig
	if tablePath == "" && oracleName != "none" {
		connection := cli.ControllerConnection{ConfigPath: configPath}
		cfg, err := connection.LoadConfig()
		if err != nil {
			return config.RoleOrderConfig{}, err
		}
		order = cfg.RoleOrder
	}
	if tablePath != "" {
		order.File = tablePath
		order.Sections = nil
		if oracleName == "" {
			oracleName = "dependencies"
		}
	}
	if oracleName != "" {
		order.Oracle = oracleName
	}
	if len(sections) > 0 {
		order.Sections = sections
	}
	return order, nil
}
