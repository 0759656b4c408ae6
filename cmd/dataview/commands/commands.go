// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the dataview command tree. Each command is a
// thin caller of lib/engine: it opens one source, runs one operation,
// and prints the result as text or, with --json, as the engine's own
// result type.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
)

// Options configures the command tree.
type Options struct {
	// Stdout receives command output. Defaults to os.Stdout.
	Stdout io.Writer

	// Level, when set, is adjusted to the configured log level once a
	// command has loaded its config.
	Level *slog.LevelVar
}

// environment is what every command closure shares.
type environment struct {
	out   io.Writer
	level *slog.LevelVar
}

// Root builds and returns the complete dataview command tree.
func Root(options Options) *cli.Command {
	env := &environment{out: options.Stdout, level: options.Level}
	if env.out == nil {
		env.out = os.Stdout
	}
	return &cli.Command{
		Name: "dataview",
		Description: `dataview: inspect large ML datasets without downloading them.

Reads MDS and LitData chunked datasets, WebDataset tar shards, ZIP and
TAR archives on record hosts or plain URLs, and datasets-server catalogs.
Items are listed page by page and fields are read by byte range, so only
the bytes being looked at are fetched.`,
		Subcommands: []*cli.Command{
			detectCommand(env),
			manifestCommand(env),
			itemsCommand(env),
			peekCommand(env),
			materializeCommand(env),
			rowsCommand(env),
			configCommand(env),
		},
	}
}
