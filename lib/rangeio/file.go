// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangeio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// File reads ranges of a local file with positioned reads. It is safe
// for concurrent use.
type File struct {
	path string
	file *os.File
	size int64
}

// OpenFile opens path for ranged reads. The size is captured at open
// time.
func OpenFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dataset.NotFound(path, "file does not exist")
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &File{path: path, file: file, size: info.Size()}, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// ReadAt implements Fetcher. A range past the end of the file is
// reported as malformed, since callers derive ranges from headers
// inside the file.
func (f *File) ReadAt(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > f.size {
		return nil, dataset.Malformed(f.path, offset, "reading range",
			"range of %d bytes exceeds file size %d", length, f.size)
	}
	buffer := make([]byte, length)
	if _, err := f.file.ReadAt(buffer, offset); err != nil {
		return nil, fmt.Errorf("reading %s at %d: %w", f.path, offset, err)
	}
	return buffer, nil
}

// Size implements Fetcher.
func (f *File) Size(context.Context) (int64, error) { return f.size, nil }

// SupportsRange implements Fetcher.
func (f *File) SupportsRange(context.Context) (bool, error) { return true, nil }

// Tail implements TailReader.
func (f *File) Tail(ctx context.Context, n int64) ([]byte, int64, error) {
	start := max(f.size-n, 0)
	data, err := f.ReadAt(ctx, start, f.size-start)
	return data, start, err
}

// Close releases the file handle.
func (f *File) Close() error { return f.file.Close() }
