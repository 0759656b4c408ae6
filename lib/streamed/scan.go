// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
	"github.com/bureau-foundation/dataview/lib/tarscan"
)

// localWindow is the read size for uncompressed shards. Payloads
// between headers are skipped without being read.
const localWindow = 64 << 10

// shardStream is the uncompressed tar byte stream of one shard,
// positioned at a given offset.
type shardStream struct {
	reader io.Reader
	close  func() error
}

// openStream opens the shard's tar stream at offset. Plain tars are
// read with positioned reads starting at offset; compressed tars are
// decompressed from the start and the first offset bytes discarded.
func openStream(ctx context.Context, path string, codec compress.Codec, offset int64) (*shardStream, error) {
	if codec == compress.None {
		file, err := rangeio.OpenFile(path)
		if err != nil {
			return nil, err
		}
		size, _ := file.Size(ctx)
		if offset > size {
			file.Close()
			return nil, dataset.Malformed(path, offset, "resuming scan", "offset past end of shard (%d bytes)", size)
		}
		reader := rangeio.NewReader(ctx, file, offset, size-offset, localWindow)
		return &shardStream{reader: reader, close: file.Close}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, dataset.NotFound(path, "shard does not exist")
		}
		return nil, fmt.Errorf("opening shard: %w", err)
	}
	decoder, err := compress.NewReader(codec, file)
	if err != nil {
		file.Close()
		return nil, dataset.Wrap(dataset.KindMalformed, path, "opening shard", err)
	}
	stream := &shardStream{
		reader: contextReader{ctx: ctx, reader: decoder},
		close: func() error {
			return errors.Join(decoder.Close(), file.Close())
		},
	}
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, stream.reader, offset); err != nil {
			stream.close()
			if errors.Is(err, io.EOF) {
				return nil, dataset.Malformed(path, offset, "resuming scan", "decompressed stream ends before the cursor")
			}
			return nil, dataset.Wrap(dataset.KindMalformed, path, "resuming scan", err)
		}
	}
	return stream, nil
}

// contextReader stops a long decompression when ctx ends.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}

// scan groups tar members into samples, resuming from a cursor.
type scan struct {
	sourceID   string
	generation uint64
	shard      string
	stream     *shardStream
	scanner    *tarscan.Scanner

	// item is the index of the next sample returned.
	item    int64
	pending *dataset.PendingSample
	done    bool
}

func startScan(ctx context.Context, path string, codec compress.Codec, cursor dataset.ScanCursor) (*scan, error) {
	stream, err := openStream(ctx, path, codec, cursor.Offset)
	if err != nil {
		return nil, err
	}
	cursor = cursor.Clone()
	return &scan{
		sourceID:   cursor.SourceID,
		generation: cursor.Generation,
		shard:      cursor.ShardID,
		stream:     stream,
		scanner:    tarscan.NewScanner(stream.reader, cursor.Offset, cursor.ShardID),
		item:       cursor.Item,
		pending:    cursor.Pending,
		done:       cursor.Done,
	}, nil
}

func (s *scan) Close() error { return s.stream.close() }

// sample is a closed sample: its reference plus the member behind each
// field, in field order.
type sample struct {
	ref     dataset.ItemRef
	members []dataset.PendingMember
}

// next returns the next complete sample, or io.EOF after the last.
func (s *scan) next() (sample, error) {
	for !s.done {
		member, err := s.scanner.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return sample{}, err
		}
		if !member.Regular() {
			continue
		}
		path := tarscan.CleanName(member.Name)
		if path == "" || path[len(path)-1] == '/' {
			continue
		}
		key, field := SplitKey(path)
		entry := dataset.PendingMember{Path: path, Field: field, Size: member.Size, DataOffset: member.DataOffset}

		if s.pending != nil && s.pending.Key != key {
			closed := s.pending
			s.pending = &dataset.PendingSample{Key: key, Members: []dataset.PendingMember{entry}}
			return s.emit(closed), nil
		}
		if s.pending == nil {
			s.pending = &dataset.PendingSample{Key: key}
		}
		s.pending.Members = append(s.pending.Members, entry)
	}
	if s.pending != nil {
		closed := s.pending
		s.pending = nil
		return s.emit(closed), nil
	}
	return sample{}, io.EOF
}

func (s *scan) emit(pending *dataset.PendingSample) sample {
	members := append([]dataset.PendingMember(nil), pending.Members...)
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Field != members[j].Field {
			return members[i].Field < members[j].Field
		}
		return members[i].Path < members[j].Path
	})
	item := dataset.ItemRef{Index: s.item, Key: pending.Key, Fields: make([]dataset.FieldRef, len(members))}
	for i, member := range members {
		item.Fields[i] = dataset.FieldRef{
			Index:      i,
			Name:       member.Field,
			MemberPath: member.Path,
			Bytes:      member.Size,
		}
		item.TotalBytes += member.Size
	}
	s.item++
	return sample{ref: item, members: members}
}

// cursor captures the scan position: every sample before item has been
// returned, and Offset is the next unread header.
func (s *scan) cursor() dataset.ScanCursor {
	cursor := dataset.ScanCursor{
		SourceID:   s.sourceID,
		Generation: s.generation,
		ShardID:    s.shard,
		Offset:     s.scanner.Offset(),
		Item:       s.item,
		Done:       s.done && s.pending == nil,
	}
	if s.pending != nil {
		pending := *s.pending
		cursor.Pending = &pending
	}
	return cursor.Clone()
}
