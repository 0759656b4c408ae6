// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunked reads MosaicML MDS and LitData datasets: a JSON index
// listing binary shards, each shard an offset table followed by items.
//
// Navigation reads only what it needs. Listing a shard reads the
// offset table and each item's size header; reading a field issues a
// single positioned read of exactly that field's bytes. Compressed
// shards are decompressed once to the cache directory and read from
// there.
package chunked

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/dataview/lib/cache"
	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
)

// DefaultListMax caps ListItems.
const DefaultListMax = 5000

// Options configures an Adapter.
type Options struct {
	// CacheDir holds decompressed shards. Required when any shard is
	// compressed.
	CacheDir string

	// Indexes and Decompressed are the shared caches. Nil fields get
	// private caches.
	Indexes      *cache.Group[*Index]
	Decompressed *cache.Group[string]

	// Temps tracks decompressed shard files so they are deleted when
	// their cache entry is evicted. Nil leaves them on disk.
	Temps *cache.TempFiles

	// Workers bounds concurrent shard stats during Manifest. Defaults
	// to 8.
	Workers int

	// ListMax caps the number of items ListItems returns. Defaults to
	// DefaultListMax.
	ListMax int

	Logger *slog.Logger
}

// Adapter serves chunked-index and chunked-file-list sources. It is
// safe for concurrent use.
type Adapter struct {
	options      Options
	indexes      *cache.Group[*Index]
	decompressed *cache.Group[string]
	logger       *slog.Logger
}

// New returns an Adapter.
func New(options Options) *Adapter {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Workers <= 0 {
		options.Workers = 8
	}
	if options.ListMax <= 0 {
		options.ListMax = DefaultListMax
	}
	adapter := &Adapter{
		options:      options,
		indexes:      options.Indexes,
		decompressed: options.Decompressed,
		logger:       options.Logger,
	}
	if adapter.indexes == nil {
		adapter.indexes = cache.NewGroup[*Index]("chunked-index", cache.Options{Logger: options.Logger})
	}
	if adapter.decompressed == nil {
		adapter.decompressed = cache.NewGroup[string]("chunked-shard", cache.Options{Logger: options.Logger})
	}
	if temps := options.Temps; temps != nil {
		logger := options.Logger
		adapter.decompressed.OnEvict(func(key cache.Key, path string) {
			if err := temps.Release(key.Source, path); err != nil {
				logger.Warn("removing decompressed shard", "path", path, "error", err)
			}
		})
	}
	return adapter
}

// indexPath resolves the index for a source: the location itself when
// it names an index file, otherwise the index discovered in Root.
func indexPath(source *dataset.Source) (string, error) {
	if IsIndexName(source.Location) && isRegular(source.Location) {
		return source.Location, nil
	}
	root := source.Root
	if root == "" {
		root = source.Location
	}
	return FindIndex(root)
}

// Load returns the source's parsed index, reading it on first use.
func (a *Adapter) Load(ctx context.Context, source *dataset.Source) (*Index, error) {
	return a.indexes.Do(ctx, cache.Key{Source: source.ID, Name: "index"}, func(context.Context) (*Index, error) {
		path, err := indexPath(source)
		if err != nil {
			return nil, err
		}
		index, err := ReadIndex(path)
		if err != nil {
			return nil, err
		}
		a.logger.Info("loaded chunked index",
			"source", source.ID,
			"path", path,
			"format", index.Format,
			"shards", len(index.Shards),
		)
		return index, nil
	})
}

// selects reports whether a chunked-file-list selection names shard.
func selects(selected string, shard *Shard) bool {
	if selected == "" {
		return true
	}
	if selected == shard.Name || selected == shard.ZipName {
		return true
	}
	_, base := compress.SplitExt(selected)
	return base == shard.Name
}

// Manifest summarizes the source's shards. Shards without a file on
// disk are reported with Exists=false. Shard files are checked
// concurrently.
func (a *Adapter) Manifest(ctx context.Context, source *dataset.Source) ([]dataset.ShardSummary, error) {
	index, err := a.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	var shards []*Shard
	for i := range index.Shards {
		if selects(source.Selected, &index.Shards[i]) {
			shards = append(shards, &index.Shards[i])
		}
	}
	if len(shards) == 0 && source.Selected != "" {
		return nil, dataset.NotFound(source.Selected, "file is not listed in %s", filepath.Base(index.Path))
	}

	summaries := make([]dataset.ShardSummary, len(shards))
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(a.options.Workers)
	for i, shard := range shards {
		group.Go(func() error {
			if err := groupContext.Err(); err != nil {
				return err
			}
			summaries[i] = summarize(index, shard)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func summarize(index *Index, shard *Shard) dataset.ShardSummary {
	samples := shard.Samples
	summary := dataset.ShardSummary{
		Filename:    shard.Name,
		Path:        filepath.Join(index.Root, shard.Name),
		FileBytes:   shard.Bytes,
		Items:       &samples,
		Compression: shard.Compression,
		Dim:         shard.Dim,
	}
	raw := shard.Bytes
	where, err := locate(index, shard)
	summary.Exists = dataset.KindOf(err) != dataset.KindNotFound
	if summary.Exists {
		if where.codec != compress.None && summary.Compression == "" {
			summary.Compression = where.codec.String()
		}
		if where.path != summary.Path {
			if shard.ZipName != "" && filepath.Base(where.path) == shard.ZipName && shard.ZipBytes > 0 {
				summary.FileBytes = shard.ZipBytes
			} else if info, err := os.Stat(where.path); err == nil {
				summary.FileBytes = info.Size()
			}
		} else if raw == 0 {
			if info, err := os.Stat(where.path); err == nil {
				summary.FileBytes = info.Size()
				if where.codec == compress.None {
					raw = info.Size()
				}
			}
		}
	}
	summary.Bytes = payloadBytes(shard, raw)
	return summary
}

// payloadBytes is the sum of the field sizes of a shard whose
// uncompressed file is raw bytes: the file less its offset table and
// the per-item size headers. It is 0 when raw is unknown.
func payloadBytes(shard *Shard, raw int64) int64 {
	payload := raw - tableEnd(shard.Samples) - shard.Samples*shard.headerLength()
	if raw <= 0 || shard.Samples <= 0 || payload < 0 {
		return 0
	}
	return payload
}

// openShard opens the uncompressed data of the named shard. The caller
// closes the returned file.
func (a *Adapter) openShard(ctx context.Context, source *dataset.Source, name string) (*shardTable, *rangeio.File, error) {
	index, err := a.Load(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	shard, err := index.Shard(name)
	if err != nil {
		return nil, nil, err
	}
	if !selects(source.Selected, shard) {
		return nil, nil, dataset.NotFound(name, "shard is outside the selected file %q", source.Selected)
	}
	where, err := locate(index, shard)
	if err != nil {
		return nil, nil, err
	}
	path, err := a.dataPath(ctx, source.ID, where)
	if err != nil {
		return nil, nil, err
	}
	file, err := rangeio.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	table, err := readTable(ctx, shard.Name, shard, file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if shard.Samples > 0 && table.count != shard.Samples {
		a.logger.Warn("shard item count differs from index",
			"shard", shard.Name, "index", shard.Samples, "file", table.count)
		table.count = min(table.count, shard.Samples)
	}
	return table, file, nil
}

// Items returns items [offset, offset+length) of a shard. Chunked
// shards are randomly addressable, so the page always carries the
// total and never a cursor.
func (a *Adapter) Items(ctx context.Context, source *dataset.Source, shard string, offset int64, length int) (dataset.ItemPage, error) {
	if offset < 0 {
		return dataset.ItemPage{}, dataset.NotFound(shard, "negative item offset %d", offset)
	}
	table, file, err := a.openShard(ctx, source, shard)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	defer file.Close()

	total := table.count
	page := dataset.ItemPage{Offset: offset, Total: &total, AtLeast: total, Items: []dataset.ItemRef{}}
	if offset >= total || length <= 0 {
		return page, nil
	}
	count := min(int64(length), total-offset)
	bounds, err := table.offsets(ctx, offset, count)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	for i := int64(0); i < count; i++ {
		layout, err := table.item(ctx, offset+i, bounds[i], bounds[i+1])
		if err != nil {
			return dataset.ItemPage{}, err
		}
		page.Items = append(page.Items, layout.ref)
	}
	page.Length = len(page.Items)
	return page, nil
}

// ListItems returns the shard's items, up to Options.ListMax.
func (a *Adapter) ListItems(ctx context.Context, source *dataset.Source, shard string) ([]dataset.ItemRef, error) {
	page, err := a.Items(ctx, source, shard, 0, a.options.ListMax)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ReadField returns up to limit bytes of one field with a single
// positioned read, plus the field's reference (whose Bytes is the
// field's full size). A limit <= 0 reads the whole field.
func (a *Adapter) ReadField(ctx context.Context, source *dataset.Source, shard string, item int64, field dataset.FieldAddress, limit int64) ([]byte, dataset.FieldRef, error) {
	table, file, err := a.openShard(ctx, source, shard)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	defer file.Close()

	if item < 0 || item >= table.count {
		return nil, dataset.FieldRef{}, dataset.NotFound(shard, "item %d out of range (%d items)", item, table.count)
	}
	bounds, err := table.offsets(ctx, item, 1)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	layout, err := table.item(ctx, item, bounds[0], bounds[1])
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	ref, err := field.Resolve(layout.ref)
	if err != nil {
		var classified *dataset.Error
		if errors.As(err, &classified) && classified.Path == "" {
			classified.Path = shard
		}
		return nil, dataset.FieldRef{}, err
	}
	length := ref.Bytes
	if limit > 0 {
		length = min(length, limit)
	}
	data, err := file.ReadAt(ctx, layout.starts[ref.Index], length)
	if err != nil {
		return nil, dataset.FieldRef{}, err
	}
	return data, ref, nil
}

// IsShardName reports whether a file name looks like a chunked shard
// selected on its own: ".mds", ".bin", ".mds.zst", or a ".zst"/".zstd"
// file that is not a compressed tar.
func IsShardName(name string) bool {
	lower := strings.ToLower(filepath.Base(name))
	if strings.HasSuffix(lower, ".mds") || strings.HasSuffix(lower, ".bin") {
		return true
	}
	codec, inner := compress.SplitExt(lower)
	if codec != compress.Zstd {
		return false
	}
	return !strings.HasSuffix(inner, ".tar")
}
