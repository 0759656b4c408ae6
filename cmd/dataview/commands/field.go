// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
)

const fieldArgsUsage = `Items are selected by index ("12" or "#12") or by key ("sample-0007",
or "key:000123" for a key that looks like a number). Fields are selected
by name ("jpg", "caption") or by position ("#0").`

type peekParams struct {
	engineParams
	cli.JSONOutput
}

func peekCommand(env *environment) *cli.Command {
	var params peekParams

	return &cli.Command{
		Name:    "peek",
		Summary: "Preview the start of a field",
		Description: `Read the first bytes of one field and show a preview: decoded text
for text data, a hex snippet otherwise, plus the field's full size and
guessed extension. Only the preview window is read.

` + fieldArgsUsage,
		Usage: "dataview peek <path-or-url> <shard> <item> <field> [flags]",
		Examples: []cli.Example{
			{Description: "Caption of the third sample", Command: "dataview peek ./wds shard-000000.tar 2 txt"},
			{Description: "A column of a chunked item", Command: "dataview peek ./mds shard.00000.mds 0 caption --json"},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, "path-or-url", "shard", "item", "field"); err != nil {
				return err
			}
			session, err := params.open(ctx, env, logger, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			preview, err := session.engine.PeekField(ctx, session.source, args[1], parseItem(args[2]), parseField(args[3]))
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.out, preview); done {
				return err
			}

			fmt.Fprintf(env.out, "size:   %s (%d bytes)\n", formatSize(preview.Size), preview.Size)
			fmt.Fprintf(env.out, "ext:    %s\n", preview.GuessedExt)
			fmt.Fprintf(env.out, "binary: %t\n\n", preview.IsBinary)
			if preview.PreviewText != nil {
				fmt.Fprintln(env.out, *preview.PreviewText)
			} else {
				fmt.Fprintln(env.out, preview.HexSnippet)
			}
			return nil
		},
	}
}

type materializeParams struct {
	engineParams
	cli.JSONOutput
	Output string `json:"output" flag:"output,o" desc:"file or directory to write to (default: the current directory)"`
	Audio  bool   `json:"audio"  flag:"audio" desc:"write a playable audio file, decoding SPHERE to WAV"`
}

func materializeCommand(env *environment) *cli.Command {
	var params materializeParams

	return &cli.Command{
		Name:    "materialize",
		Summary: "Write a whole field to a file",
		Description: `Read one field completely and write its bytes, unchanged, to a file
with its guessed extension. With --audio the field must be audio and is
written playable instead: NIST SPHERE (including Shorten-compressed) is
decoded to WAV and other audio is written as is.

` + fieldArgsUsage,
		Usage: "dataview materialize <path-or-url> <shard> <item> <field> [flags]",
		Examples: []cli.Example{
			{Description: "Save an image", Command: "dataview materialize ./wds shard-000000.tar sample-0007 jpg -o cat.jpg"},
			{Description: "Decode a SPHERE utterance into ./clips", Command: "dataview materialize https://zenodo.org/records/1234567 corpus.zip 40 sph --audio -o clips/"},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, "path-or-url", "shard", "item", "field"); err != nil {
				return err
			}
			session, err := params.open(ctx, env, logger, args[0])
			if err != nil {
				return err
			}
			// The engine removes its temp files on close, so the
			// result is copied out first.
			defer session.Close()

			write := session.engine.MaterializeField
			if params.Audio {
				write = session.engine.PrepareAudioPreview
			}
			prepared, err := write(ctx, session.source, args[1], parseItem(args[2]), parseField(args[3]))
			if err != nil {
				return err
			}
			destination, err := outputPath(params.Output, filepath.Base(prepared.Path))
			if err != nil {
				return err
			}
			if err := copyFile(prepared.Path, destination); err != nil {
				return err
			}
			prepared.Path = destination

			if done, err := params.EmitJSON(env.out, prepared); done {
				return err
			}
			fmt.Fprintf(env.out, "wrote %s (%s, %s)\n", destination, formatSize(prepared.Size), prepared.Ext)
			return nil
		},
	}
}

// outputPath resolves --output: empty means the current directory, an
// existing directory or a trailing separator gets name appended.
func outputPath(output, name string) (string, error) {
	if output == "" {
		return name, nil
	}
	if strings.HasSuffix(output, string(filepath.Separator)) || strings.HasSuffix(output, "/") {
		if err := os.MkdirAll(output, 0o755); err != nil {
			return "", fmt.Errorf("creating %s: %w", output, err)
		}
		return filepath.Join(output, name), nil
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name), nil
	}
	return output, nil
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening materialized field: %w", err)
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destination, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(destination)
		return fmt.Errorf("writing %s: %w", destination, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destination)
		return fmt.Errorf("closing %s: %w", destination, err)
	}
	return nil
}
