// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/engine"
)

type detectResult struct {
	Kind   dataset.SourceKind `json:"kind"`
	Format string             `json:"format"`
}

type detectParams struct {
	cli.JSONOutput
}

func detectCommand(env *environment) *cli.Command {
	var params detectParams

	return &cli.Command{
		Name:    "detect",
		Summary: "Classify a path or URL",
		Description: `Report which source kind and format would serve a path or URL,
without opening it. Local paths are inspected on disk (an index file,
tar shards, chunk files); URLs are classified by host and extension.`,
		Usage: "dataview detect <path-or-url> [flags]",
		Examples: []cli.Example{
			{Description: "A local MDS directory", Command: "dataview detect ./mds-dataset"},
			{Description: "A catalog dataset", Command: "dataview detect hf://datasets/org/name --json"},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if err := requireArgs(args, "path-or-url"); err != nil {
				return err
			}
			kind, format, err := engine.Detect(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.out, detectResult{Kind: kind, Format: format}); done {
				return err
			}
			fmt.Fprintf(env.out, "kind:   %s\nformat: %s\n", kind, format)
			return nil
		},
	}
}
