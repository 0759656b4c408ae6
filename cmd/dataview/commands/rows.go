// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
)

type rowsParams struct {
	engineParams
	cli.JSONOutput
	Subset string `json:"subset" flag:"subset" desc:"dataset configuration (default: the first)"`
	Split  string `json:"split"  flag:"split" desc:"split (default: train, else the first)"`
	Offset int64  `json:"offset" flag:"offset" desc:"index of the first row"`
	Length int    `json:"length" flag:"length,n" desc:"rows per page (default: the catalog page length)"`
	Token  string `json:"-"      flag:"token" desc:"access token for gated or private datasets (default: $HF_TOKEN)"`
}

func rowsCommand(env *environment) *cli.Command {
	var params rowsParams

	return &cli.Command{
		Name:    "rows",
		Summary: "Page through a catalog dataset's rows",
		Description: `Fetch a page of rows of a datasets-server catalog dataset together
with its schema and the list of configurations and splits. Cells are
shown as JSON; use peek or materialize with the shard "config/split"
to read a single cell, including image and audio assets.`,
		Usage: "dataview rows <dataset> [flags]",
		Examples: []cli.Example{
			{Description: "First rows of the default split", Command: "dataview rows hf://datasets/org/name"},
			{Description: "A gated dataset", Command: "HF_TOKEN=hf_... dataview rows org/gated --subset en --split test --offset 50"},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, "dataset"); err != nil {
				return err
			}
			location := args[0]
			if !strings.Contains(location, "://") {
				// A bare org/name is a catalog id, not a local path.
				location = "hf://datasets/" + location
			}
			session, err := params.open(ctx, env, logger, location)
			if err != nil {
				return err
			}
			defer session.Close()

			token := params.Token
			if token == "" {
				token = os.Getenv("HF_TOKEN")
			}
			page, err := session.engine.ListCatalogRows(ctx, session.source, params.Subset, params.Split, params.Offset, params.Length, token)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.out, page); done {
				return err
			}

			fmt.Fprintf(env.out, "%s  %s/%s  rows %d-%d of %d", page.Dataset, page.Config, page.Split,
				page.Offset, page.Offset+int64(len(page.Rows)), page.Total)
			if page.Partial {
				fmt.Fprint(env.out, " (partial)")
			}
			fmt.Fprintln(env.out)
			columns := make([]string, len(page.Schema))
			for i, feature := range page.Schema {
				columns[i] = feature.Name
				if feature.Dtype != "" {
					columns[i] += ":" + feature.Dtype
				}
			}
			fmt.Fprintf(env.out, "columns: %s\n\n", strings.Join(columns, ", "))
			for i, row := range page.Rows {
				encoded, err := json.Marshal(row)
				if err != nil {
					return fmt.Errorf("encoding row %d: %w", page.Offset+int64(i), err)
				}
				fmt.Fprintf(env.out, "%d\t%s\n", page.Offset+int64(i), encoded)
			}
			return nil
		},
	}
}
