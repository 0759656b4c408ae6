// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/bureau-foundation/dataview/cmd/dataview/cli"
	"github.com/bureau-foundation/dataview/lib/config"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/engine"
)

// configParams selects the config file. Embedded by every command
// that needs one.
type configParams struct {
	ConfigPath string `json:"config"    flag:"config"    desc:"path to a dataview.yaml (default: $DATAVIEW_CONFIG, else built-in defaults)"`
	LogLevel   string `json:"log_level" flag:"log-level" desc:"log level: debug, info, warn, error (default: from config)"`
}

// load reads the config and applies its log level to env.
func (p *configParams) load(env *environment) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case p.ConfigPath != "":
		cfg, err = config.LoadFile(p.ConfigPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	levelName := cfg.LogLevel
	if p.LogLevel != "" {
		levelName = p.LogLevel
	}
	level, err := cli.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	if env.level != nil {
		env.level.Set(level)
	}
	return cfg, nil
}

// engineParams are the flags of every command that opens a source.
type engineParams struct {
	configParams
	RequestID uint64 `json:"request_id" flag:"request-id" desc:"request id the source is opened with" default:"1"`
}

// session is an engine with one open source.
type session struct {
	engine *engine.Engine
	source *dataset.Source
}

func (s *session) Close() error { return s.engine.Close() }

// open builds an engine from the config and opens location on it.
func (p *engineParams) open(ctx context.Context, env *environment, logger *slog.Logger, location string) (*session, error) {
	cfg, err := p.load(env)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}
	source, err := eng.Open(ctx, location, p.RequestID)
	if err != nil {
		eng.Close()
		return nil, err
	}
	return &session{engine: eng, source: source}, nil
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, names ...string) error {
	if len(args) == len(names) {
		return nil
	}
	return fmt.Errorf("expected %d arguments (%s), got %d", len(names), strings.Join(names, " "), len(args))
}

// parseItem reads an item argument: a number or "#N" selects by
// index, "key:K" selects key K (for numeric sample keys), anything
// else is a sample or entry key.
func parseItem(arg string) dataset.ItemAddress {
	if key, ok := strings.CutPrefix(arg, "key:"); ok {
		return dataset.ItemAddress{Index: -1, Key: key}
	}
	digits := strings.TrimPrefix(arg, "#")
	if index, err := strconv.ParseInt(digits, 10, 64); err == nil && index >= 0 {
		return dataset.ItemAddress{Index: index}
	}
	return dataset.ItemAddress{Index: -1, Key: arg}
}

// parseField reads a field argument: "#N" selects by position,
// anything else by name.
func parseField(arg string) dataset.FieldAddress {
	if digits, ok := strings.CutPrefix(arg, "#"); ok {
		if index, err := strconv.Atoi(digits); err == nil && index >= 0 {
			return dataset.FieldAddress{Index: index}
		}
	}
	return dataset.FieldAddress{Name: arg}
}

// formatSize returns a human-readable byte count.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
