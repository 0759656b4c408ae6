// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package streamed browses WebDataset shards: tar archives (optionally
// gzip, zstd, or lz4 compressed) whose members are grouped into
// samples by file name.
//
// A tar has no index, so listing is a forward scan. Every page ends
// with a [dataset.ScanCursor] recording where the scan stopped; the
// next page resumes from it, and arbitrary pages resume from the
// nearest cached cursor at or before them. Only a scan that reaches
// the end of the archive establishes the sample count.
package streamed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/dataview/lib/cache"
	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
)

// Defaults for Options.
const (
	DefaultPageLength = 200
	DefaultPageMax    = 5000
	DefaultOpenMax    = 256 << 20
	DefaultCheckpoint = 1000
)

// Options configures an Adapter.
type Options struct {
	// Cursors caches scan positions. Nil gets a private cache.
	Cursors *cache.Cursors

	PageLength int
	PageMax    int

	// OpenMaxBytes is the largest member ReadMember returns whole.
	OpenMaxBytes int64

	// Checkpoint is the sample interval at which long scans cache a
	// cursor, so later jumps into the middle of a shard resume close
	// to their target.
	Checkpoint int64

	Logger *slog.Logger
}

// Adapter serves streamed-archive-dir sources. It is safe for
// concurrent use.
type Adapter struct {
	options Options
	cursors *cache.Cursors
	logger  *slog.Logger
}

// New returns an Adapter.
func New(options Options) *Adapter {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.PageLength <= 0 {
		options.PageLength = DefaultPageLength
	}
	if options.PageMax <= 0 {
		options.PageMax = DefaultPageMax
	}
	if options.OpenMaxBytes <= 0 {
		options.OpenMaxBytes = DefaultOpenMax
	}
	if options.Checkpoint <= 0 {
		options.Checkpoint = DefaultCheckpoint
	}
	cursors := options.Cursors
	if cursors == nil {
		cursors = cache.NewCursors(cache.Options{Logger: options.Logger})
	}
	return &Adapter{options: options, cursors: cursors, logger: options.Logger}
}

// ShardDir returns the directory holding a source's shards: Root
// itself, or its "shards" subdirectory when Root holds no shard.
func ShardDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", dataset.NotFound(root, "directory does not exist")
		}
		return "", dataset.Wrap(dataset.KindNotFound, root, "listing shards", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsShardName(entry.Name()) {
			return root, nil
		}
	}
	nested := filepath.Join(root, "shards")
	if info, err := os.Stat(nested); err == nil && info.IsDir() {
		return nested, nil
	}
	return root, nil
}

// Manifest lists the source's tar shards sorted by name. Item counts
// are reported only for shards a previous scan finished.
func (a *Adapter) Manifest(ctx context.Context, source *dataset.Source) ([]dataset.ShardSummary, error) {
	dir, err := ShardDir(source.Root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dataset.Wrap(dataset.KindNotFound, dir, "listing shards", err)
	}
	var summaries []dataset.ShardSummary
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !IsShardName(name) {
			continue
		}
		if source.Selected != "" && name != source.Selected {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary := dataset.ShardSummary{
			Filename: name,
			Path:     filepath.Join(dir, name),
			Exists:   true,
		}
		if info, err := entry.Info(); err == nil {
			summary.FileBytes = info.Size()
		}
		if codec, _ := compress.SplitExt(name); codec != compress.None {
			summary.Compression = codec.String()
		}
		if total, ok := a.cursors.Total(source.ID, name); ok {
			summary.Items = &total
		}
		summaries = append(summaries, summary)
	}
	if len(summaries) == 0 && source.Selected != "" {
		return nil, dataset.NotFound(filepath.Join(dir, source.Selected), "shard does not exist")
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Filename < summaries[j].Filename })
	return summaries, nil
}

// shardPath validates a shard name and resolves it inside the
// source's shard directory.
func (a *Adapter) shardPath(source *dataset.Source, shard string) (string, compress.Codec, error) {
	name := strings.TrimSpace(shard)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", compress.None, dataset.NotFound(shard, "invalid shard name")
	}
	if !IsShardName(name) {
		return "", compress.None, dataset.Unsupported(name, "not a WebDataset shard")
	}
	if source.Selected != "" && name != source.Selected {
		return "", compress.None, dataset.NotFound(name, "shard is outside the selected file %q", source.Selected)
	}
	dir, err := ShardDir(source.Root)
	if err != nil {
		return "", compress.None, err
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", compress.None, dataset.NotFound(path, "shard does not exist")
	}
	codec, _ := compress.SplitExt(name)
	return path, codec, nil
}

// PageRequest selects a page of samples.
type PageRequest struct {
	Offset int64

	// Length defaults to Options.PageLength and is capped at
	// Options.PageMax.
	Length int

	// Cursor is a token from a previous page. When set, the page
	// starts at the cursor's sample and Offset is ignored.
	Cursor string

	// ComputeTotal continues the scan to the end of the archive so the
	// page reports the sample count.
	ComputeTotal bool
}

// ListItemsPage returns one page of samples.
func (a *Adapter) ListItemsPage(ctx context.Context, source *dataset.Source, shard string, request PageRequest) (dataset.ItemPage, error) {
	path, codec, err := a.shardPath(source, shard)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	length := request.Length
	if length <= 0 {
		length = a.options.PageLength
	}
	length = min(length, a.options.PageMax)

	var start dataset.ScanCursor
	offset := request.Offset
	generation := a.cursors.Generation(source.ID)
	if request.Cursor != "" {
		start, err = dataset.ParseCursorToken(request.Cursor, source.ID, generation, shard)
		if err != nil {
			return dataset.ItemPage{}, err
		}
		offset = start.Item
	} else {
		if offset < 0 {
			return dataset.ItemPage{}, dataset.NotFound(shard, "negative sample offset %d", offset)
		}
		start = a.startCursor(source.ID, generation, shard, offset)
	}

	scanner, err := startScan(ctx, path, codec, start)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	defer scanner.Close()

	page := dataset.ItemPage{Offset: offset, Items: []dataset.ItemRef{}}
	for scanner.item < offset+int64(length) {
		next, err := scanner.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dataset.ItemPage{}, err
		}
		if next.ref.Index >= offset {
			page.Items = append(page.Items, next.ref)
		}
		a.checkpoint(scanner)
	}

	end := scanner.cursor()
	a.cursors.Put(source.ID, generation, end)
	if !end.Done {
		if page.Cursor, err = end.Token(); err != nil {
			return dataset.ItemPage{}, err
		}
	}
	if request.ComputeTotal && !end.Done {
		if err := a.scanToEnd(ctx, scanner); err != nil {
			return dataset.ItemPage{}, err
		}
	}

	page.Length = len(page.Items)
	a.finish(&page, source.ID, shard, scanner.item)
	a.logger.Debug("listed samples",
		"source", source.ID,
		"shard", shard,
		"offset", offset,
		"length", page.Length,
		"resumed_from", start.Item,
	)
	return page, nil
}

// startCursor returns the best cached cursor at or before item, or the
// start of the shard, stamped with generation.
func (a *Adapter) startCursor(sourceID string, generation uint64, shard string, item int64) dataset.ScanCursor {
	if cursor, ok := a.cursors.Floor(sourceID, shard, item); ok {
		cursor.SourceID = sourceID
		cursor.Generation = generation
		return cursor
	}
	return dataset.StartCursor(sourceID, generation, shard)
}

// remember caches the scan's current cursor. The cache drops it if
// the source was invalidated since the scan started.
func (a *Adapter) remember(scanner *scan) {
	a.cursors.Put(scanner.sourceID, scanner.generation, scanner.cursor())
}

func (a *Adapter) checkpoint(scanner *scan) {
	if scanner.item%a.options.Checkpoint == 0 {
		a.remember(scanner)
	}
}

// scanToEnd consumes the rest of the archive so its total is cached.
func (a *Adapter) scanToEnd(ctx context.Context, scanner *scan) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := scanner.next()
		if errors.Is(err, io.EOF) {
			a.remember(scanner)
			return nil
		}
		if err != nil {
			return err
		}
		a.checkpoint(scanner)
	}
}

// finish sets the page's count fields from what is known about the
// shard.
func (a *Adapter) finish(page *dataset.ItemPage, sourceID, shard string, reached int64) {
	if total, ok := a.cursors.Total(sourceID, shard); ok {
		page.Total = &total
		page.AtLeast = total
		page.Partial = false
		return
	}
	page.Partial = true
	page.AtLeast = max(reached, a.cursors.Known(sourceID, shard))
}

// ListItems returns the first page of samples.
func (a *Adapter) ListItems(ctx context.Context, source *dataset.Source, shard string) ([]dataset.ItemRef, error) {
	page, err := a.ListItemsPage(ctx, source, shard, PageRequest{})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// findSample scans to the addressed sample. A Key, when set, must match
// the sample at Index; if it does not (or Index is negative), the
// shard is scanned from the start for the first sample with that key.
func (a *Adapter) findSample(ctx context.Context, source *dataset.Source, shard, path string, codec compress.Codec, address dataset.ItemAddress) (sample, error) {
	generation := a.cursors.Generation(source.ID)
	if address.Index >= 0 {
		found, err := a.scanTo(ctx, path, codec, a.startCursor(source.ID, generation, shard, address.Index),
			func(candidate sample) (bool, bool) {
				if candidate.ref.Index < address.Index {
					return false, false
				}
				return true, address.Key == "" || candidate.ref.Key == address.Key
			})
		if err == nil || address.Key == "" {
			return found, err
		}
		if dataset.KindOf(err) != dataset.KindNotFound {
			return sample{}, err
		}
	}
	if address.Key == "" {
		return sample{}, dataset.NotFound(shard, "sample %s not found", address)
	}
	return a.scanTo(ctx, path, codec, dataset.StartCursor(source.ID, generation, shard),
		func(candidate sample) (bool, bool) {
			matched := candidate.ref.Key == address.Key
			return matched, matched
		})
}

// scanTo runs a scan from start until stop reports the sample it
// wants. match reports whether that sample is the one addressed.
func (a *Adapter) scanTo(ctx context.Context, path string, codec compress.Codec, start dataset.ScanCursor, stop func(sample) (done, match bool)) (sample, error) {
	scanner, err := startScan(ctx, path, codec, start)
	if err != nil {
		return sample{}, err
	}
	defer scanner.Close()
	for {
		candidate, err := scanner.next()
		if errors.Is(err, io.EOF) {
			a.remember(scanner)
			return sample{}, dataset.NotFound(start.ShardID, "sample not found (%d samples)", scanner.item)
		}
		if err != nil {
			return sample{}, err
		}
		a.checkpoint(scanner)
		if done, match := stop(candidate); done {
			if !match {
				return sample{}, dataset.NotFound(start.ShardID, "sample %d has key %q", candidate.ref.Index, candidate.ref.Key)
			}
			return candidate, nil
		}
	}
}

// ReadMember returns up to limit bytes of a sample's field (limit <= 0
// reads the whole member) together with its reference. Reading a whole
// member larger than Options.OpenMaxBytes is unsupported.
func (a *Adapter) ReadMember(ctx context.Context, source *dataset.Source, shard string, address dataset.ItemAddress, field dataset.FieldAddress, limit int64) ([]byte, dataset.FieldRef, error) {
	path, codec, err := a.shardPath(source, shard)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	found, err := a.findSample(ctx, source, shard, path, codec, address)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	ref, err := field.Resolve(found.ref)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	member := found.members[ref.Index]

	length := member.Size
	if limit > 0 {
		length = min(length, limit)
	} else if member.Size > a.options.OpenMaxBytes {
		return nil, dataset.FieldRef{}, dataset.Unsupported(member.Path,
			"member is %d bytes, larger than the %d byte open limit", member.Size, a.options.OpenMaxBytes)
	}
	data, err := readAt(ctx, path, codec, member.DataOffset, length)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	return data, ref, nil
}

// readAt reads length bytes at offset of the shard's uncompressed tar
// stream.
func readAt(ctx context.Context, path string, codec compress.Codec, offset, length int64) ([]byte, error) {
	if codec == compress.None {
		file, err := rangeio.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return file.ReadAt(ctx, offset, length)
	}
	stream, err := openStream(ctx, path, codec, offset)
	if err != nil {
		return nil, err
	}
	defer stream.close()
	data := make([]byte, length)
	if _, err := io.ReadFull(stream.reader, data); err != nil {
		return nil, dataset.Malformed(path, offset, "reading member", "%v", err)
	}
	return data, nil
}
