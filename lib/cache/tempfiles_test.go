// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/dataview/lib/testutil"
)

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	t.Fatalf("stat %s: %v", path, err)
	return false
}

func TestTempFilesSharedHolders(t *testing.T) {
	dir := t.TempDir()
	files := NewTempFiles(filepath.Join(dir, "work"), nil)
	workDir, err := files.Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	path := testutil.WriteFile(t, workDir, "field.wav", []byte("RIFF"))

	if err := files.Register("a", path); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := files.Register("b", path); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if holders := files.Holders(path); holders != 2 {
		t.Errorf("got %d holders, want 2", holders)
	}

	if removed := files.InvalidateSource("a"); removed != 0 {
		t.Errorf("got %d removed while b still holds the file, want 0", removed)
	}
	if !exists(t, path) {
		t.Fatal("file removed while still held")
	}
	if err := files.Release("b", path); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if exists(t, path) {
		t.Error("file kept after last holder released it")
	}
}

func TestTempFilesInvalidateSource(t *testing.T) {
	dir := t.TempDir()
	files := NewTempFiles(dir, nil)
	first := testutil.WriteFile(t, dir, "one.bin", []byte{1})
	second := testutil.WriteFile(t, dir, "two.bin", []byte{2})
	other := testutil.WriteFile(t, dir, "three.bin", []byte{3})
	files.Register("s", first)
	files.Register("s", second)
	files.Register("t", other)

	if removed := files.InvalidateSource("s"); removed != 2 {
		t.Errorf("got %d removed, want 2", removed)
	}
	if exists(t, first) || exists(t, second) {
		t.Error("files of invalidated source remain")
	}
	if !exists(t, other) {
		t.Error("file of another source was removed")
	}
}

func TestTempFilesClose(t *testing.T) {
	dir := t.TempDir()
	files := NewTempFiles(dir, nil)
	path := testutil.WriteFile(t, dir, "field.bin", []byte{0})
	files.Register("s", path)

	// A file deleted behind the registry's back is not an error.
	gone := filepath.Join(dir, "gone.bin")
	files.Register("s", gone)

	if err := files.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if exists(t, path) {
		t.Error("file kept after Close")
	}
	if err := files.Register("s", path); err == nil {
		t.Error("Register after Close succeeded")
	}
}
