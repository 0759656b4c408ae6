// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
)

type manifestParams struct {
	engineParams
	cli.JSONOutput
}

func manifestCommand(env *environment) *cli.Command {
	var params manifestParams

	return &cli.Command{
		Name:    "manifest",
		Summary: "List a dataset's shards",
		Description: `Open a dataset and list its shards. Shards named by an index but
missing on disk are listed as missing. For catalog datasets each
config/split pair is a shard; for record hosts each file is.`,
		Usage: "dataview manifest <path-or-url> [flags]",
		Examples: []cli.Example{
			{Description: "Shards of a WebDataset directory", Command: "dataview manifest ./wds"},
			{Description: "Files of a record", Command: "dataview manifest https://zenodo.org/records/1234567 --json"},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, "path-or-url"); err != nil {
				return err
			}
			session, err := params.open(ctx, env, logger, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			manifest, err := session.engine.LoadManifest(ctx, session.source)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.out, manifest); done {
				return err
			}

			source := manifest.Source
			fmt.Fprintf(env.out, "%s (%s, %s)\n\n", source.Location, source.Kind, source.Format)
			writer := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "SHARD\tITEMS\tSIZE\tCOMPRESSION\tSTATUS\n")
			for _, shard := range manifest.Shards {
				items := "-"
				if shard.Items != nil {
					items = fmt.Sprint(*shard.Items)
				}
				size := "-"
				if shard.FileBytes > 0 {
					size = formatSize(shard.FileBytes)
				} else if shard.Bytes > 0 {
					size = formatSize(shard.Bytes)
				}
				compression := shard.Compression
				if compression == "" {
					compression = "-"
				}
				status := "ok"
				if !shard.Exists {
					status = "missing"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", shard.Filename, items, size, compression, status)
			}
			return writer.Flush()
		},
	}
}
