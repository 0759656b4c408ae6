// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// TempFiles tracks files written for sources (materialized fields,
// decoded audio). Each file is held by a set of sources and removed
// from disk when the last holder lets go. Safe for concurrent use.
type TempFiles struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	files  map[string]map[string]struct{}
	closed bool
}

// NewTempFiles returns a registry for files under dir. The directory
// is created on first use.
func NewTempFiles(dir string, logger *slog.Logger) *TempFiles {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TempFiles{dir: dir, logger: logger, files: make(map[string]map[string]struct{})}
}

// Dir returns the directory new files are created in, creating it if
// needed.
func (t *TempFiles) Dir() (string, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	return t.dir, nil
}

// Register records that source holds path. Registering an already
// held path for a new source adds a holder.
func (t *TempFiles) Register(source, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("temp file registry is closed")
	}
	holders, ok := t.files[path]
	if !ok {
		holders = make(map[string]struct{})
		t.files[path] = holders
	}
	holders[source] = struct{}{}
	return nil
}

// Holders returns how many sources hold path.
func (t *TempFiles) Holders(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files[path])
}

// Release drops source's hold on path, deleting the file if no holder
// remains.
func (t *TempFiles) Release(source, path string) error {
	t.mu.Lock()
	holders, ok := t.files[path]
	if ok {
		delete(holders, source)
		ok = len(holders) == 0
		if ok {
			delete(t.files, path)
		}
	}
	t.mu.Unlock()
	if ok {
		return t.remove(path)
	}
	return nil
}

// InvalidateSource drops source's hold on every file and deletes the
// files no other source holds. It returns the number deleted.
func (t *TempFiles) InvalidateSource(source string) int {
	t.mu.Lock()
	var orphaned []string
	for path, holders := range t.files {
		if _, held := holders[source]; !held {
			continue
		}
		delete(holders, source)
		if len(holders) == 0 {
			delete(t.files, path)
			orphaned = append(orphaned, path)
		}
	}
	t.mu.Unlock()

	removed := 0
	for _, path := range orphaned {
		if err := t.remove(path); err != nil {
			t.logger.Warn("removing temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// Close deletes every tracked file. Registering after Close fails.
func (t *TempFiles) Close() error {
	t.mu.Lock()
	paths := make([]string, 0, len(t.files))
	for path := range t.files {
		paths = append(paths, path)
	}
	t.files = make(map[string]map[string]struct{})
	t.closed = true
	t.mu.Unlock()

	var errs []error
	for _, path := range paths {
		if err := t.remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *TempFiles) remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
	}
	t.logger.Debug("removed temp file", "path", path)
	return nil
}
