// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command dataview inspects large ML datasets, local or remote,
// without downloading them. See "dataview --help".
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
	"github.com/bureau-foundation/dataview/cmd/dataview/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired exit code. Don't print a redundant "error:"
		// line for those.
		if _, ok := err.(*cli.ExitError); !ok {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(cli.ExitCode(err))
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var level slog.LevelVar
	logger := cli.NewCommandLogger(&level)
	root := commands.Root(commands.Options{Stdout: os.Stdout, Level: &level})
	return root.Execute(ctx, os.Args[1:], logger)
}
