// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotearchive

import (
	"context"
	"errors"
	"io"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
	"github.com/bureau-foundation/dataview/lib/tarscan"
)

// TarWindow is the ranged read size used while walking tar headers.
// Payloads between headers are skipped without being fetched.
const TarWindow = 1 << 20

// Tar walks the headers of a remote uncompressed tar archive.
type Tar struct {
	fetcher rangeio.Fetcher
	name    string
	window  int64
}

// NewTar returns a Tar reading f. name is the shard id carried by its
// cursors and labels errors.
func NewTar(f rangeio.Fetcher, name string) *Tar {
	return &Tar{fetcher: f, name: name, window: TarWindow}
}

// tarScan is one forward pass over the archive's headers.
type tarScan struct {
	sourceID   string
	generation uint64
	name       string
	scanner    *tarscan.Scanner

	// item is the index of the next entry returned.
	item int64
	done bool

	// capped is set when the scan stopped at the entry limit before
	// the end of the archive.
	capped bool
}

// scan resumes a header walk at cursor.
func (t *Tar) scan(ctx context.Context, cursor dataset.ScanCursor) (*tarScan, error) {
	size, err := t.fetcher.Size(ctx)
	if err != nil {
		return nil, err
	}
	if cursor.Offset > size {
		return nil, dataset.Malformed(t.name, cursor.Offset, "resuming scan", "offset past end of archive (%d bytes)", size)
	}
	reader := rangeio.NewReader(ctx, t.fetcher, cursor.Offset, size-cursor.Offset, t.window)
	return &tarScan{
		sourceID:   cursor.SourceID,
		generation: cursor.Generation,
		name:       t.name,
		scanner:    tarscan.NewScanner(reader, cursor.Offset, t.name),
		item:       cursor.Item,
		done:       cursor.Done,
	}, nil
}

// next returns the next regular file entry, or io.EOF after the last.
func (s *tarScan) next() (dataset.ArchiveEntry, error) {
	for !s.done {
		member, err := s.scanner.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return dataset.ArchiveEntry{}, err
		}
		name := tarscan.CleanName(member.Name)
		if !member.Regular() || name == "" || name[len(name)-1] == '/' {
			continue
		}
		s.item++
		return dataset.ArchiveEntry{
			Name:             name,
			CompressedSize:   member.Size,
			UncompressedSize: member.Size,
			HeaderOffset:     member.HeaderOffset,
			DataOffset:       member.DataOffset,
		}, nil
	}
	return dataset.ArchiveEntry{}, io.EOF
}

// stopAtLimit ends the scan without marking it done, so no total is
// recorded for the archive.
func (s *tarScan) stopAtLimit() { s.capped = true }

func (s *tarScan) cursor() dataset.ScanCursor {
	return dataset.ScanCursor{
		SourceID:   s.sourceID,
		Generation: s.generation,
		ShardID:    s.name,
		Offset:     s.scanner.Offset(),
		Item:       s.item,
		Done:       s.done,
	}
}

// Read returns up to limit bytes of the entry's data with one ranged
// read. limit <= 0 reads the whole entry.
func (t *Tar) Read(ctx context.Context, entry dataset.ArchiveEntry, limit int64) ([]byte, error) {
	length := entry.UncompressedSize
	if limit > 0 {
		length = min(length, limit)
	}
	if length == 0 {
		return []byte{}, nil
	}
	return t.fetcher.ReadAt(ctx, entry.DataOffset, length)
}
