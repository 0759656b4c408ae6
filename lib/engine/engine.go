// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine routes dataset operations to the adapter serving each
// source kind.
//
// An Engine owns the shared caches and one adapter per kind. Open
// turns a path or URL into a dataset.Source tagged with the caller's
// request id; every other operation takes that source and dispatches
// on its Kind with a single switch. Results carry the request id of the
// source they were produced for, so a caller that has moved on can
// drop them.
//
// Opening a source with a higher request id than any before it
// invalidates every cache entry and temp file held by previously
// opened sources. Work already in flight for those sources completes,
// but the caches do not keep its results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/dataview/lib/cache"
	"github.com/bureau-foundation/dataview/lib/catalog"
	"github.com/bureau-foundation/dataview/lib/chunked"
	"github.com/bureau-foundation/dataview/lib/clock"
	"github.com/bureau-foundation/dataview/lib/config"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/rangeio"
	"github.com/bureau-foundation/dataview/lib/record"
	"github.com/bureau-foundation/dataview/lib/remotearchive"
	"github.com/bureau-foundation/dataview/lib/streamed"
)

// Options configures an Engine.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config

	// Clock drives cache aging and the sweep ticker. Defaults to
	// clock.Real().
	Clock clock.Clock

	// HTTPClient is used for every remote request. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Engine serves every source kind. Safe for concurrent use.
type Engine struct {
	config *config.Config
	clock  clock.Clock
	logger *slog.Logger

	indexes      *cache.Group[*chunked.Index]
	decompressed *cache.Group[string]
	fetchers     *cache.Group[rangeio.Fetcher]
	zips         *cache.Group[*remotearchive.Zip]
	listings     *cache.Group[*record.Record]
	cursors      *cache.Cursors
	temps        *cache.TempFiles

	chunked  *chunked.Adapter
	streamed *streamed.Adapter
	archives *remotearchive.Adapter
	records  *record.Client
	catalog  *catalog.Client

	mu          sync.Mutex
	latest      uint64
	open        map[string]*dataset.Source
	credentials map[string]string
	closed      bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Engine and starts its cache sweeper. Call Close to
// stop it and remove temp files.
func New(options Options) (*Engine, error) {
	cfg := options.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	indexOptions := cache.Options{Capacity: cfg.Cache.IndexEntries, Clock: clk, Logger: logger}
	e := &Engine{
		config:       cfg,
		clock:        clk,
		logger:       logger,
		indexes:      cache.NewGroup[*chunked.Index]("chunked-index", indexOptions),
		decompressed: cache.NewGroup[string]("chunked-shard", indexOptions),
		fetchers:     cache.NewGroup[rangeio.Fetcher]("fetchers", indexOptions),
		zips:         cache.NewGroup[*remotearchive.Zip]("zip-indexes", indexOptions),
		listings:     cache.NewGroup[*record.Record]("records", indexOptions),
		cursors:      cache.NewCursors(cache.Options{Capacity: cfg.Cache.CursorEntries, Clock: clk, Logger: logger}),
		temps:        cache.NewTempFiles(cfg.Paths.Temp, logger),
		open:         make(map[string]*dataset.Source),
		credentials:  make(map[string]string),
	}

	limiters := rangeio.NewLimiters(cfg.Remote.RequestsPerSecond, cfg.Remote.Burst)
	e.chunked = chunked.New(chunked.Options{
		CacheDir:     filepath.Join(cfg.Paths.Cache, "chunked"),
		Indexes:      e.indexes,
		Decompressed: e.decompressed,
		Temps:        e.temps,
		ListMax:      cfg.Limits.PageMax,
		Logger:       logger.With("adapter", "chunked"),
	})
	e.streamed = streamed.New(streamed.Options{
		Cursors:      e.cursors,
		PageLength:   cfg.Limits.PageDefault,
		PageMax:      cfg.Limits.PageMax,
		OpenMaxBytes: cfg.Limits.OpenMaxBytes,
		Logger:       logger.With("adapter", "streamed"),
	})
	e.archives = remotearchive.New(remotearchive.Options{
		HTTP: rangeio.HTTPOptions{
			Client:    httpClient,
			Timeout:   cfg.Remote.Timeout,
			UserAgent: cfg.Remote.UserAgent,
			Limiters:  limiters,
		},
		Fetchers:       e.fetchers,
		Zips:           e.zips,
		Cursors:        e.cursors,
		PageLength:     cfg.Limits.RemotePageDefault,
		PageMax:        cfg.Limits.RemotePageMax,
		MaxEntries:     int64(cfg.Limits.TarMaxEntries),
		InlineMaxBytes: cfg.Limits.InlineMaxBytes,
		Logger:         logger.With("adapter", "remote-archive"),
	})

	var err error
	e.records, err = record.New(record.Options{
		Endpoint:       cfg.Remote.RecordEndpoint,
		HTTPClient:     httpClient,
		Timeout:        cfg.Remote.Timeout,
		UserAgent:      cfg.Remote.UserAgent,
		Limiters:       limiters,
		Archives:       e.archives,
		Records:        e.listings,
		PeekBytes:      cfg.Limits.PeekBytes,
		InlineMaxBytes: cfg.Limits.InlineMaxBytes,
		Logger:         logger.With("adapter", "record"),
	})
	if err != nil {
		return nil, err
	}
	e.catalog, err = catalog.New(catalog.Options{
		Endpoint:      cfg.Remote.CatalogEndpoint,
		HTTPClient:    httpClient,
		Timeout:       cfg.Remote.Timeout,
		UserAgent:     cfg.Remote.UserAgent,
		Limiters:      limiters,
		PageDefault:   cfg.Limits.RemotePageDefault,
		PageMax:       cfg.Limits.CatalogPageMax,
		MaxAssetBytes: cfg.Limits.InlineMaxBytes,
		Logger:        logger.With("adapter", "catalog"),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.sweepLoop(ctx)
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config { return e.config }

// Open resolves pathOrURL into a source tagged with requestID. A
// request id below the newest one seen is stale and rejected; a newer
// one invalidates the caches of every previously opened source.
// Reopening the newest source with the same id returns it unchanged.
func (e *Engine) Open(ctx context.Context, pathOrURL string, requestID uint64) (*dataset.Source, error) {
	described, err := describe(ctx, pathOrURL)
	if err != nil {
		return nil, err
	}
	described.RequestID = requestID

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine is closed")
	}
	current, exists := e.open[described.ID]
	switch {
	case requestID < e.latest:
		return nil, dataset.NotFound(described.Location,
			"request %d is stale (newest is %d)", requestID, e.latest)
	case requestID == e.latest && exists && current.RequestID == requestID:
		return current, nil
	case requestID == e.latest && e.latest != 0:
		return nil, dataset.NotFound(described.Location,
			"request %d already opened another source", requestID)
	}

	for id := range e.open {
		e.invalidateLocked(id)
	}
	e.latest = requestID
	source := described
	e.open[source.ID] = &source
	e.logger.Info("opened source",
		"source", source.ID,
		"kind", source.Kind,
		"format", source.Format,
		"location", source.Location,
		"request_id", requestID,
	)
	return &source, nil
}

// invalidateLocked drops every cache entry and temp file of a source.
func (e *Engine) invalidateLocked(sourceID string) {
	dropped := e.indexes.InvalidateSource(sourceID) +
		e.decompressed.InvalidateSource(sourceID) +
		e.fetchers.InvalidateSource(sourceID) +
		e.zips.InvalidateSource(sourceID) +
		e.listings.InvalidateSource(sourceID) +
		e.cursors.InvalidateSource(sourceID) +
		e.temps.InvalidateSource(sourceID)
	delete(e.open, sourceID)
	delete(e.credentials, sourceID)
	e.logger.Info("invalidated source", "source", sourceID, "entries", dropped)
}

// Sweep evicts cache entries unused for longer than the configured
// maximum age and returns how many were evicted.
func (e *Engine) Sweep() int {
	maxAge := e.config.Cache.MaxAge
	if maxAge <= 0 {
		return 0
	}
	evicted := e.indexes.Sweep(maxAge) +
		e.decompressed.Sweep(maxAge) +
		e.fetchers.Sweep(maxAge) +
		e.zips.Sweep(maxAge) +
		e.listings.Sweep(maxAge) +
		e.cursors.Sweep(maxAge)
	if evicted > 0 {
		e.logger.Debug("swept caches", "evicted", evicted)
	}
	return evicted
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer close(e.done)
	if e.config.Cache.MaxAge <= 0 {
		<-ctx.Done()
		return
	}
	interval := max(e.config.Cache.MaxAge/2, time.Second)
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the sweeper and removes every temp file. The engine
// cannot be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	<-e.done
	return e.temps.Close()
}

// LoadManifest lists the source's shards.
func (e *Engine) LoadManifest(ctx context.Context, src *dataset.Source) (dataset.Manifest, error) {
	var shards []dataset.ShardSummary
	var err error
	switch src.Kind {
	case dataset.SourceChunkedIndex, dataset.SourceChunkedFileList:
		shards, err = e.chunked.Manifest(ctx, src)
	case dataset.SourceStreamedArchiveDir:
		shards, err = e.streamed.Manifest(ctx, src)
	case dataset.SourceRemoteRecord:
		shards, err = e.records.Manifest(ctx, src)
	case dataset.SourceRemoteCatalog:
		shards, err = e.catalogFor(src).Shards(ctx, src.Root)
	default:
		err = unknownKind(src)
	}
	if err != nil {
		return dataset.Manifest{}, err
	}
	e.logger.Info("loaded manifest", "source", src.ID, "shards", len(shards))
	return dataset.Manifest{Source: *src, Shards: shards, RequestID: src.RequestID}, nil
}

// PageRequest selects a page of items.
type PageRequest struct {
	Offset int64

	// Length defaults to the kind's page length and is capped at its
	// maximum.
	Length int

	// Cursor continues a streamed or remote tar listing from a
	// previous page and wins over Offset.
	Cursor string

	// ComputeTotal makes a streamed listing scan to the end of the
	// shard so the page reports the total.
	ComputeTotal bool
}

// ListItemsPage returns one page of a shard's items.
func (e *Engine) ListItemsPage(ctx context.Context, src *dataset.Source, shard string, request PageRequest) (dataset.ItemPage, error) {
	var page dataset.ItemPage
	var err error
	switch src.Kind {
	case dataset.SourceChunkedIndex, dataset.SourceChunkedFileList:
		length := request.Length
		if length <= 0 {
			length = e.config.Limits.PageDefault
		}
		page, err = e.chunked.Items(ctx, src, shard, request.Offset, min(length, e.config.Limits.PageMax))
	case dataset.SourceStreamedArchiveDir:
		page, err = e.streamed.ListItemsPage(ctx, src, shard, streamed.PageRequest{
			Offset:       request.Offset,
			Length:       request.Length,
			Cursor:       request.Cursor,
			ComputeTotal: request.ComputeTotal,
		})
	case dataset.SourceRemoteRecord:
		page, err = e.records.ListItemsPage(ctx, src, shard, remotearchive.PageRequest{
			Offset: request.Offset,
			Length: request.Length,
			Cursor: request.Cursor,
		})
	case dataset.SourceRemoteCatalog:
		page, err = e.catalogFor(src).ItemsPage(ctx, src.Root, shard, request.Offset, request.Length)
	default:
		err = unknownKind(src)
	}
	if err != nil {
		return dataset.ItemPage{}, err
	}
	page.RequestID = src.RequestID
	return page, nil
}

// ListItems returns a shard's items from the start, up to the kind's
// maximum page length.
func (e *Engine) ListItems(ctx context.Context, src *dataset.Source, shard string) ([]dataset.ItemRef, error) {
	switch src.Kind {
	case dataset.SourceChunkedIndex, dataset.SourceChunkedFileList:
		return e.chunked.ListItems(ctx, src, shard)
	case dataset.SourceStreamedArchiveDir:
		return e.streamed.ListItems(ctx, src, shard)
	case dataset.SourceRemoteRecord:
		page, err := e.ListItemsPage(ctx, src, shard, PageRequest{Length: e.config.Limits.RemotePageMax})
		return page.Items, err
	case dataset.SourceRemoteCatalog:
		page, err := e.ListItemsPage(ctx, src, shard, PageRequest{Length: e.config.Limits.CatalogPageMax})
		return page.Items, err
	}
	return nil, unknownKind(src)
}

// ListCatalogRows returns a page of catalog rows. A non-empty
// credential is kept for the source and sent with every later request
// for it, including asset downloads.
func (e *Engine) ListCatalogRows(ctx context.Context, src *dataset.Source, config, split string, offset int64, length int, credential string) (dataset.CatalogPage, error) {
	if src.Kind != dataset.SourceRemoteCatalog {
		return dataset.CatalogPage{}, dataset.Unsupported(src.Location, "%s sources have no catalog rows", src.Kind)
	}
	if credential != "" {
		e.mu.Lock()
		e.credentials[src.ID] = credential
		e.mu.Unlock()
	}
	page, err := e.catalogFor(src).Rows(ctx, catalog.RowsRequest{
		Dataset: src.Root,
		Config:  config,
		Split:   split,
		Offset:  offset,
		Length:  length,
	})
	if err != nil {
		return dataset.CatalogPage{}, err
	}
	page.RequestID = src.RequestID
	return page, nil
}

// catalogFor returns the catalog client carrying the source's
// credential.
func (e *Engine) catalogFor(src *dataset.Source) *catalog.Client {
	e.mu.Lock()
	token := e.credentials[src.ID]
	e.mu.Unlock()
	if token == "" {
		return e.catalog
	}
	return e.catalog.WithToken(token)
}

func unknownKind(src *dataset.Source) error {
	return dataset.Unsupported(src.Location, "unknown source kind %q", src.Kind)
}
