// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotearchive browses ZIP and TAR archives on HTTP servers
// without downloading them.
//
// ZIP archives are indexed from their central directory, found with a
// suffix read of the archive tail; each entry is then fetched with a
// ranged read of its local header and data. TAR archives have no
// index, so they are listed by walking headers over ranged reads that
// skip payloads, with resumable cursors as in the WebDataset adapter.
// Compressed tars cannot be range-addressed and are unsupported.
//
// Every entry is one item with a single field named after the entry's
// extension.
package remotearchive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/bureau-foundation/dataview/lib/cache"
	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
)

// Defaults for Options.
const (
	DefaultPageLength  = 25
	DefaultPageMax     = 200
	DefaultMaxEntries  = 250_000
	DefaultCheckpoint  = 100
	DefaultInlineBytes = 50 << 20
	DefaultPeekBytes   = 64 << 10
)

// Layout is the archive kind of a file name.
type Layout int

const (
	// NotArchive is a file browsed as a single item.
	NotArchive Layout = iota
	LayoutZip
	LayoutTar

	// LayoutCompressedTar is a tar behind gzip, zstd, or lz4, which
	// cannot be browsed remotely.
	LayoutCompressedTar
)

// LayoutOf classifies a file name by extension.
func LayoutOf(name string) Layout {
	lower := strings.ToLower(strings.TrimSpace(name))
	if strings.HasSuffix(lower, ".zip") {
		return LayoutZip
	}
	codec, inner := compress.SplitExt(lower)
	if !strings.HasSuffix(inner, ".tar") {
		return NotArchive
	}
	if codec != compress.None {
		return LayoutCompressedTar
	}
	return LayoutTar
}

// Archive names one remote archive.
type Archive struct {
	// Name is the shard name: it selects the layout and is the shard
	// id of tar cursors.
	Name string
	URL  string
}

// Options configures an Adapter.
type Options struct {
	// NewFetcher opens a URL. Nil uses rangeio.NewHTTP with HTTP.
	NewFetcher func(url string) (rangeio.Fetcher, error)
	HTTP       rangeio.HTTPOptions

	// Fetchers, Zips, and Cursors are the shared caches. Nil gets
	// private ones.
	Fetchers *cache.Group[rangeio.Fetcher]
	Zips     *cache.Group[*Zip]
	Cursors  *cache.Cursors

	PageLength int
	PageMax    int

	// MaxEntries caps how many tar entries are listed.
	MaxEntries int64

	// Checkpoint is the entry interval at which tar scans cache a
	// cursor.
	Checkpoint int64

	// InlineMaxBytes is the largest entry read whole.
	InlineMaxBytes int64

	Logger *slog.Logger
}

// Adapter lists and reads remote archives. Safe for concurrent use.
type Adapter struct {
	options  Options
	fetchers *cache.Group[rangeio.Fetcher]
	zips     *cache.Group[*Zip]
	cursors  *cache.Cursors
	logger   *slog.Logger
}

// New returns an Adapter.
func New(options Options) *Adapter {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.NewFetcher == nil {
		httpOptions := options.HTTP
		if httpOptions.Logger == nil {
			httpOptions.Logger = options.Logger
		}
		options.NewFetcher = func(url string) (rangeio.Fetcher, error) {
			return rangeio.NewHTTP(url, httpOptions)
		}
	}
	if options.PageLength <= 0 {
		options.PageLength = DefaultPageLength
	}
	if options.PageMax <= 0 {
		options.PageMax = DefaultPageMax
	}
	if options.MaxEntries <= 0 {
		options.MaxEntries = DefaultMaxEntries
	}
	if options.Checkpoint <= 0 {
		options.Checkpoint = DefaultCheckpoint
	}
	if options.InlineMaxBytes <= 0 {
		options.InlineMaxBytes = DefaultInlineBytes
	}
	adapter := &Adapter{
		options:  options,
		fetchers: options.Fetchers,
		zips:     options.Zips,
		cursors:  options.Cursors,
		logger:   options.Logger,
	}
	if adapter.fetchers == nil {
		adapter.fetchers = cache.NewGroup[rangeio.Fetcher]("fetchers", cache.Options{Logger: options.Logger})
	}
	if adapter.zips == nil {
		adapter.zips = cache.NewGroup[*Zip]("zip-indexes", cache.Options{Logger: options.Logger})
	}
	if adapter.cursors == nil {
		adapter.cursors = cache.NewCursors(cache.Options{Logger: options.Logger})
	}
	return adapter
}

// Fetcher returns the source's cached fetcher for url.
func (a *Adapter) Fetcher(ctx context.Context, sourceID, url string) (rangeio.Fetcher, error) {
	return a.fetchers.Do(ctx, cache.Key{Source: sourceID, Name: url}, func(context.Context) (rangeio.Fetcher, error) {
		return a.options.NewFetcher(url)
	})
}

// Zip returns the archive's central directory, read once per source.
func (a *Adapter) Zip(ctx context.Context, sourceID string, archive Archive) (*Zip, error) {
	return a.zips.Do(ctx, cache.Key{Source: sourceID, Name: archive.URL}, func(ctx context.Context) (*Zip, error) {
		fetcher, err := a.Fetcher(ctx, sourceID, archive.URL)
		if err != nil {
			return nil, err
		}
		z, err := OpenZip(ctx, fetcher, archive.Name)
		if err != nil {
			return nil, err
		}
		a.logger.Info("indexed remote zip", "source", sourceID, "archive", archive.Name, "entries", len(z.entries))
		return z, nil
	})
}

func (a *Adapter) tar(ctx context.Context, sourceID string, archive Archive) (*Tar, error) {
	fetcher, err := a.Fetcher(ctx, sourceID, archive.URL)
	if err != nil {
		return nil, err
	}
	return NewTar(fetcher, archive.Name), nil
}

// PageRequest selects a page of entries. Cursor applies to tar
// archives and wins over Offset.
type PageRequest struct {
	Offset int64
	Length int
	Cursor string
}

// ListItemsPage returns a page of the archive's file entries.
func (a *Adapter) ListItemsPage(ctx context.Context, sourceID string, archive Archive, request PageRequest) (dataset.ItemPage, error) {
	length := request.Length
	if length <= 0 {
		length = a.options.PageLength
	}
	length = min(length, a.options.PageMax)
	if request.Offset < 0 {
		return dataset.ItemPage{}, dataset.NotFound(archive.Name, "negative entry offset %d", request.Offset)
	}

	switch LayoutOf(archive.Name) {
	case LayoutZip:
		z, err := a.Zip(ctx, sourceID, archive)
		if err != nil {
			return dataset.ItemPage{}, err
		}
		return zipPage(z, request.Offset, length), nil
	case LayoutTar:
		return a.tarPage(ctx, sourceID, archive, request, length)
	case LayoutCompressedTar:
		return dataset.ItemPage{}, dataset.Unsupported(archive.Name, "compressed tar archives cannot be browsed remotely")
	default:
		return dataset.ItemPage{}, dataset.Unsupported(archive.Name, "not a zip or tar archive")
	}
}

func zipPage(z *Zip, offset int64, length int) dataset.ItemPage {
	total := int64(z.Files())
	page := dataset.ItemPage{Offset: offset, Items: []dataset.ItemRef{}, Total: &total, AtLeast: total}
	for index := offset; index < total && len(page.Items) < length; index++ {
		entry, _ := z.File(index)
		page.Items = append(page.Items, EntryItem(index, entry))
	}
	page.Length = len(page.Items)
	return page
}

func (a *Adapter) tarPage(ctx context.Context, sourceID string, archive Archive, request PageRequest, length int) (dataset.ItemPage, error) {
	t, err := a.tar(ctx, sourceID, archive)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	generation := a.cursors.Generation(sourceID)
	offset := request.Offset
	var start dataset.ScanCursor
	if request.Cursor != "" {
		if start, err = dataset.ParseCursorToken(request.Cursor, sourceID, generation, archive.Name); err != nil {
			return dataset.ItemPage{}, err
		}
		offset = start.Item
	} else {
		start = a.startCursor(sourceID, generation, archive.Name, offset)
	}

	scan, err := t.scan(ctx, start)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	page := dataset.ItemPage{Offset: offset, Items: []dataset.ItemRef{}}
	for scan.item < offset+int64(length) {
		entry, err := a.next(scan)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dataset.ItemPage{}, err
		}
		if index := scan.item - 1; index >= offset {
			page.Items = append(page.Items, EntryItem(index, entry))
		}
		a.checkpoint(scan)
	}

	end := scan.cursor()
	a.cursors.Put(sourceID, generation, end)
	if !end.Done && !scan.capped {
		if page.Cursor, err = end.Token(); err != nil {
			return dataset.ItemPage{}, err
		}
	}
	page.Length = len(page.Items)
	if total, ok := a.cursors.Total(sourceID, archive.Name); ok {
		page.Total = &total
		page.AtLeast = total
	} else {
		page.Partial = true
		page.Capped = scan.capped
		page.AtLeast = max(scan.item, a.cursors.Known(sourceID, archive.Name))
	}
	a.logger.Debug("listed tar entries",
		"source", sourceID,
		"archive", archive.Name,
		"offset", offset,
		"length", page.Length,
		"resumed_from", start.Item,
	)
	return page, nil
}

// next advances a tar scan. At the entry cap it reports io.EOF with
// the scan marked capped rather than done.
func (a *Adapter) next(scan *tarScan) (dataset.ArchiveEntry, error) {
	if scan.item >= a.options.MaxEntries && !scan.done {
		if !scan.capped {
			a.logger.Warn("tar entry limit reached", "archive", scan.name, "limit", a.options.MaxEntries)
			scan.stopAtLimit()
		}
		return dataset.ArchiveEntry{}, io.EOF
	}
	return scan.next()
}

// startCursor returns the best cached cursor at or before item, or the
// start of the archive, stamped with generation.
func (a *Adapter) startCursor(sourceID string, generation uint64, name string, item int64) dataset.ScanCursor {
	if cached, ok := a.cursors.Floor(sourceID, name, item); ok {
		cached.SourceID = sourceID
		cached.Generation = generation
		return cached
	}
	return dataset.StartCursor(sourceID, generation, name)
}

// remember caches the scan's current cursor. The cache drops it if
// the source was invalidated since the scan started.
func (a *Adapter) remember(scan *tarScan) {
	a.cursors.Put(scan.sourceID, scan.generation, scan.cursor())
}

func (a *Adapter) checkpoint(scan *tarScan) {
	if scan.item%a.options.Checkpoint == 0 {
		a.remember(scan)
	}
}

// ReadItem returns up to limit bytes of the addressed entry together
// with its item. limit <= 0 reads the whole entry, which must not be
// larger than Options.InlineMaxBytes. Key lookups return the first
// entry with that name.
func (a *Adapter) ReadItem(ctx context.Context, sourceID string, archive Archive, address dataset.ItemAddress, limit int64) ([]byte, dataset.ItemRef, error) {
	switch LayoutOf(archive.Name) {
	case LayoutZip:
		return a.readZip(ctx, sourceID, archive, address, limit)
	case LayoutTar:
		return a.readTar(ctx, sourceID, archive, address, limit)
	case LayoutCompressedTar:
		return nil, dataset.ItemRef{}, dataset.Unsupported(archive.Name, "compressed tar archives cannot be browsed remotely")
	default:
		return nil, dataset.ItemRef{}, dataset.Unsupported(archive.Name, "not a zip or tar archive")
	}
}

func (a *Adapter) readZip(ctx context.Context, sourceID string, archive Archive, address dataset.ItemAddress, limit int64) ([]byte, dataset.ItemRef, error) {
	z, err := a.Zip(ctx, sourceID, archive)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	var entry dataset.ArchiveEntry
	index := address.Index
	if address.Key != "" {
		entry, index, err = z.Lookup(address.Key)
	} else {
		entry, err = z.File(address.Index)
	}
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	var data []byte
	if limit > 0 {
		data, err = z.Peek(ctx, entry, limit)
	} else {
		data, err = z.Open(ctx, entry, a.options.InlineMaxBytes)
	}
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	return data, EntryItem(index, entry), nil
}

func (a *Adapter) readTar(ctx context.Context, sourceID string, archive Archive, address dataset.ItemAddress, limit int64) ([]byte, dataset.ItemRef, error) {
	t, err := a.tar(ctx, sourceID, archive)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	entry, index, err := a.findEntry(ctx, sourceID, t, address)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	if limit <= 0 && entry.UncompressedSize > a.options.InlineMaxBytes {
		return nil, dataset.ItemRef{}, dataset.Unsupported(entry.Name,
			"entry is %d bytes, larger than the %d byte inline limit", entry.UncompressedSize, a.options.InlineMaxBytes)
	}
	data, err := t.Read(ctx, entry, limit)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	return data, EntryItem(index, entry), nil
}

// findEntry walks to the addressed tar entry: by Index from the
// nearest cached cursor, verifying Key when set, and otherwise by a
// scan from the start for the first entry named Key.
func (a *Adapter) findEntry(ctx context.Context, sourceID string, t *Tar, address dataset.ItemAddress) (dataset.ArchiveEntry, int64, error) {
	generation := a.cursors.Generation(sourceID)
	if address.Index >= 0 {
		start := a.startCursor(sourceID, generation, t.name, address.Index)
		entry, index, err := a.walk(ctx, t, start, func(index int64, entry dataset.ArchiveEntry) (bool, bool) {
			if index < address.Index {
				return false, false
			}
			return true, address.Key == "" || entry.Name == address.Key
		})
		if err == nil || address.Key == "" || dataset.KindOf(err) != dataset.KindNotFound {
			return entry, index, err
		}
	}
	if address.Key == "" {
		return dataset.ArchiveEntry{}, -1, dataset.NotFound(t.name, "entry %s not found", address)
	}
	return a.walk(ctx, t, dataset.StartCursor(sourceID, generation, t.name), func(_ int64, entry dataset.ArchiveEntry) (bool, bool) {
		matched := entry.Name == address.Key
		return matched, matched
	})
}

func (a *Adapter) walk(ctx context.Context, t *Tar, start dataset.ScanCursor, stop func(int64, dataset.ArchiveEntry) (done, match bool)) (dataset.ArchiveEntry, int64, error) {
	scan, err := t.scan(ctx, start)
	if err != nil {
		return dataset.ArchiveEntry{}, -1, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return dataset.ArchiveEntry{}, -1, err
		}
		entry, err := a.next(scan)
		if errors.Is(err, io.EOF) {
			a.remember(scan)
			if scan.capped {
				return dataset.ArchiveEntry{}, -1, dataset.NotFound(t.name,
					"entry not found in the first %d entries (listing limit)", scan.item)
			}
			return dataset.ArchiveEntry{}, -1, dataset.NotFound(t.name, "entry not found (%d entries)", scan.item)
		}
		if err != nil {
			return dataset.ArchiveEntry{}, -1, err
		}
		a.checkpoint(scan)
		index := scan.item - 1
		if done, match := stop(index, entry); done {
			if !match {
				return dataset.ArchiveEntry{}, -1, dataset.NotFound(t.name, "entry %d is %q", index, entry.Name)
			}
			return entry, index, nil
		}
	}
}

// EntryItem is the item view of an archive entry: one field, named
// after the entry's extension ("bin" without one).
func EntryItem(index int64, entry dataset.ArchiveEntry) dataset.ItemRef {
	return dataset.ItemRef{
		Index:      index,
		Key:        entry.Name,
		TotalBytes: entry.UncompressedSize,
		Fields: []dataset.FieldRef{{
			Name:       FieldName(entry.Name),
			MemberPath: entry.Name,
			Bytes:      entry.UncompressedSize,
		}},
	}
}

// FieldName returns the lowercased extension of name's final
// component, or "bin".
func FieldName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(strings.TrimSpace(name))), "."))
	if ext == "" {
		return "bin"
	}
	return ext
}
