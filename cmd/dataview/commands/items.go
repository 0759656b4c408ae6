// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/engine"
)

type itemsParams struct {
	engineParams
	cli.JSONOutput
	Offset int64  `json:"offset" flag:"offset" desc:"index of the first item"`
	Length int    `json:"length" flag:"length,n" desc:"items per page (default: the source kind's page length)"`
	Cursor string `json:"cursor" flag:"cursor" desc:"continuation token from a previous page; wins over --offset"`
	Total  bool   `json:"total"  flag:"total" desc:"scan to the end of a tar shard to report the item count"`
}

func itemsCommand(env *environment) *cli.Command {
	var params itemsParams

	return &cli.Command{
		Name:    "items",
		Summary: "List a page of a shard's items",
		Description: `List one page of items in a shard with their fields and sizes.

Chunked shards know their item count up front. Tar shards and remote
TAR archives are scanned, so a page reports how many items are known so
far and a cursor for the next page; --cursor resumes the scan where the
previous page stopped instead of rescanning from the start.`,
		Usage: "dataview items <path-or-url> <shard> [flags]",
		Examples: []cli.Example{
			{Description: "First page of a tar shard", Command: "dataview items ./wds shard-000000.tar"},
			{Description: "Continue from a previous page", Command: "dataview items ./wds shard-000000.tar --cursor <token>"},
			{Description: "Rows 100-149 of a catalog split", Command: "dataview items hf://datasets/org/name default/train --offset 100 -n 50"},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, "path-or-url", "shard"); err != nil {
				return err
			}
			session, err := params.open(ctx, env, logger, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			page, err := session.engine.ListItemsPage(ctx, session.source, args[1], engine.PageRequest{
				Offset:       params.Offset,
				Length:       params.Length,
				Cursor:       params.Cursor,
				ComputeTotal: params.Total,
			})
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.out, page); done {
				return err
			}
			return printPage(env, page)
		},
	}
}

func printPage(env *environment, page dataset.ItemPage) error {
	writer := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "INDEX\tKEY\tSIZE\tFIELDS\n")
	for _, item := range page.Items {
		key := item.Key
		if key == "" {
			key = "-"
		}
		fields := make([]string, len(item.Fields))
		for i, field := range item.Fields {
			fields[i] = fmt.Sprintf("%s(%s)", field.Name, formatSize(field.Bytes))
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", item.Index, key, formatSize(item.TotalBytes), strings.Join(fields, " "))
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(env.out)
	switch {
	case page.Total != nil:
		fmt.Fprintf(env.out, "items %d-%d of %d\n", page.Offset, page.Offset+int64(page.Length), *page.Total)
	case page.Capped:
		fmt.Fprintf(env.out, "items %d-%d of at least %d (listing limit reached)\n", page.Offset, page.Offset+int64(page.Length), page.AtLeast)
	default:
		fmt.Fprintf(env.out, "items %d-%d of at least %d\n", page.Offset, page.Offset+int64(page.Length), page.AtLeast)
	}
	if page.Cursor != "" {
		fmt.Fprintf(env.out, "next: --cursor %s\n", page.Cursor)
	}
	return nil
}
