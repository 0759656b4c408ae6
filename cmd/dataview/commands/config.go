// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
)

func configCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "Inspect the configuration",
		Subcommands: []*cli.Command{
			configShowCommand(env),
		},
	}
}

type configShowParams struct {
	configParams
	cli.JSONOutput
}

func configShowCommand(env *environment) *cli.Command {
	var params configShowParams

	return &cli.Command{
		Name:    "show",
		Summary: "Print the effective configuration",
		Description: `Print the configuration commands would run with: built-in defaults,
overlaid with the file from --config or $DATAVIEW_CONFIG, with the
matching environment block applied and path variables expanded. The
result is validated the same way the engine validates it.`,
		Usage: "dataview config show [flags]",
		Examples: []cli.Example{
			{Description: "Defaults", Command: "dataview config show"},
			{Description: "A production file as JSON", Command: "dataview config show --config /etc/dataview.yaml --json"},
		},
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if err := requireArgs(args); err != nil {
				return err
			}
			cfg, err := params.load(env)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			// The override blocks have been applied.
			cfg.Development, cfg.Production = nil, nil

			if done, err := params.EmitJSON(env.out, cfg); done {
				return err
			}
			encoder := yaml.NewEncoder(env.out)
			encoder.SetIndent(2)
			if err := encoder.Encode(cfg); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			return encoder.Close()
		},
	}
}
