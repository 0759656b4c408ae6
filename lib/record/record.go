// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package record lists the files of a remote record (a Zenodo-style
// deposit, or a single archive URL) and reads them over ranged HTTP.
//
// Each file of a record is a shard. ZIP and uncompressed TAR files are
// browsed entry by entry through remotearchive; any other file is one
// item with a single field.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bureau-foundation/dataview/lib/cache"
	"github.com/bureau-foundation/dataview/lib/compress"
	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/netutil"
	"github.com/bureau-foundation/dataview/lib/rangeio"
	"github.com/bureau-foundation/dataview/lib/remotearchive"
)

// DefaultEndpoint is the public Zenodo instance.
const DefaultEndpoint = "https://zenodo.org/"

// Options configures a Client.
type Options struct {
	// Endpoint is the record API base URL. Defaults to DefaultEndpoint.
	Endpoint string

	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Limiters   *rangeio.Limiters

	// Archives reads file contents. Its fetchers are shared with the
	// archive browsing of record files.
	Archives *remotearchive.Adapter

	// Records caches fetched listings. Nil gets a private group.
	Records *cache.Group[*Record]

	// PeekBytes is how much of a plain file a peek fetches.
	PeekBytes int64

	// InlineMaxBytes is the largest plain file read whole.
	InlineMaxBytes int64

	Logger *slog.Logger
}

// Client lists records and reads their files. Safe for concurrent use.
type Client struct {
	endpoint *url.URL
	options  Options
	archives *remotearchive.Adapter
	records  *cache.Group[*Record]
	logger   *slog.Logger
}

// File is one downloadable file of a record.
type File struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
	URL      string `json:"url"`
}

// Record is a listing of files.
type Record struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Files []File `json:"files"`
}

// File returns the file named key.
func (r *Record) File(key string) (File, error) {
	for _, file := range r.Files {
		if file.Key == key {
			return file, nil
		}
	}
	return File{}, dataset.NotFound(key, "file not in record %s", r.ID)
}

// New returns a Client.
func New(options Options) (*Client, error) {
	if options.Endpoint == "" {
		options.Endpoint = DefaultEndpoint
	}
	endpoint, err := url.Parse(options.Endpoint)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, fmt.Errorf("record endpoint %q is not an http(s) URL", options.Endpoint)
	}
	if !strings.HasSuffix(endpoint.Path, "/") {
		endpoint.Path += "/"
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.PeekBytes <= 0 {
		options.PeekBytes = remotearchive.DefaultPeekBytes
	}
	if options.InlineMaxBytes <= 0 {
		options.InlineMaxBytes = remotearchive.DefaultInlineBytes
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	archives := options.Archives
	if archives == nil {
		archives = remotearchive.New(remotearchive.Options{
			HTTP: rangeio.HTTPOptions{
				Client:    options.HTTPClient,
				Timeout:   options.Timeout,
				UserAgent: options.UserAgent,
				Limiters:  options.Limiters,
			},
			InlineMaxBytes: options.InlineMaxBytes,
			Logger:         logger,
		})
	}
	records := options.Records
	if records == nil {
		records = cache.NewGroup[*Record]("records", cache.Options{Logger: logger})
	}
	return &Client{endpoint: endpoint, options: options, archives: archives, records: records, logger: logger}, nil
}

// Archives returns the adapter reading record files.
func (c *Client) Archives() *remotearchive.Adapter { return c.archives }

// Record returns the source's listing, fetched once per source. A
// zenodo source is listed through the record API; an archive URL
// source is a record holding that one file.
func (c *Client) Record(ctx context.Context, source *dataset.Source) (*Record, error) {
	return c.records.Do(ctx, cache.Key{Source: source.ID, Name: "record"}, func(ctx context.Context) (*Record, error) {
		switch source.Format {
		case dataset.FormatZenodo:
			id, err := ParseRecordID(source.Location)
			if err != nil {
				return nil, err
			}
			return c.fetch(ctx, id)
		case dataset.FormatArchiveURL:
			return c.single(ctx, source.ID, source.Location)
		}
		return nil, dataset.Unsupported(source.Location, "record format %q", source.Format)
	})
}

func (c *Client) single(ctx context.Context, sourceID, rawURL string) (*Record, error) {
	fetcher, err := c.archives.Fetcher(ctx, sourceID, rawURL)
	if err != nil {
		return nil, err
	}
	size, err := fetcher.Size(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, dataset.Unsupported(rawURL, "unparseable URL: %v", err)
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		name = parsed.Host
	}
	return &Record{ID: rawURL, Files: []File{{Key: name, Size: size, URL: rawURL}}}, nil
}

type recordResponse struct {
	Metadata struct {
		Title string `json:"title"`
	} `json:"metadata"`
	Files []struct {
		Key      string `json:"key"`
		Size     int64  `json:"size"`
		Checksum string `json:"checksum"`
		Links    struct {
			Self    string `json:"self"`
			Content string `json:"content"`
		} `json:"links"`
	} `json:"files"`
}

func (c *Client) fetch(ctx context.Context, id string) (*Record, error) {
	target := c.endpoint.ResolveReference(&url.URL{Path: "api/records/" + id}).String()

	if limiter := c.options.Limiters.For(c.endpoint.Host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, dataset.Network(target, "waiting for rate limiter", err)
		}
	}
	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", target, err)
	}
	request.Header.Set("Accept", "application/json")
	if c.options.UserAgent != "" {
		request.Header.Set("User-Agent", c.options.UserAgent)
	}

	response, err := c.options.HTTPClient.Do(request)
	if err != nil {
		return nil, dataset.Network(target, "GET", err)
	}
	defer response.Body.Close()
	if err := rangeio.CheckStatus(target, response); err != nil {
		return nil, err
	}

	var decoded recordResponse
	if err := netutil.DecodeResponse(response.Body, &decoded); err != nil {
		return nil, dataset.Malformed(target, -1, "decoding record", "%v", err)
	}

	record := &Record{ID: id, Title: decoded.Metadata.Title}
	for _, file := range decoded.Files {
		link := file.Links.Self
		if link == "" {
			link = file.Links.Content
		}
		if link == "" {
			link = c.endpoint.ResolveReference(&url.URL{Path: "api/records/" + id + "/files/" + file.Key + "/content"}).String()
		}
		if !c.allowedLink(link) {
			c.logger.Warn("skipping record file on foreign host", "record", id, "file", file.Key, "url", link)
			continue
		}
		record.Files = append(record.Files, File{Key: file.Key, Size: file.Size, Checksum: file.Checksum, URL: link})
	}
	c.logger.Info("listed record", "record", id, "files", len(record.Files))
	return record, nil
}

func (c *Client) allowedLink(link string) bool {
	parsed, err := url.Parse(link)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return false
	}
	return IsRecordHost(parsed.Hostname()) || strings.EqualFold(parsed.Host, c.endpoint.Host)
}

// Manifest lists the record's files as shards. Items is known only for
// plain files.
func (c *Client) Manifest(ctx context.Context, source *dataset.Source) ([]dataset.ShardSummary, error) {
	record, err := c.Record(ctx, source)
	if err != nil {
		return nil, err
	}
	shards := make([]dataset.ShardSummary, 0, len(record.Files))
	for _, file := range record.Files {
		shard := dataset.ShardSummary{
			Filename:  file.Key,
			Path:      file.URL,
			FileBytes: file.Size,
			Exists:    true,
			URL:       file.URL,
		}
		switch remotearchive.LayoutOf(file.Key) {
		case remotearchive.NotArchive:
			one := int64(1)
			shard.Items = &one
			shard.Bytes = file.Size
		case remotearchive.LayoutCompressedTar:
			codec, _ := compress.SplitExt(strings.ToLower(file.Key))
			shard.Compression = codec.String()
		}
		shards = append(shards, shard)
	}
	return shards, nil
}

// ListItemsPage pages the entries of an archive file, or returns the
// single item of a plain file.
func (c *Client) ListItemsPage(ctx context.Context, source *dataset.Source, shard string, request remotearchive.PageRequest) (dataset.ItemPage, error) {
	file, err := c.file(ctx, source, shard)
	if err != nil {
		return dataset.ItemPage{}, err
	}
	if remotearchive.LayoutOf(file.Key) != remotearchive.NotArchive {
		return c.archives.ListItemsPage(ctx, source.ID, archiveOf(file), request)
	}

	total := int64(1)
	page := dataset.ItemPage{Offset: request.Offset, Items: []dataset.ItemRef{}, Total: &total, AtLeast: total}
	if request.Offset == 0 && request.Length >= 0 {
		page.Items = append(page.Items, plainItem(file))
	}
	page.Length = len(page.Items)
	return page, nil
}

// ReadItem returns up to limit bytes of the addressed item's single
// field. limit <= 0 reads the whole item, up to the inline limit.
func (c *Client) ReadItem(ctx context.Context, source *dataset.Source, shard string, address dataset.ItemAddress, limit int64) ([]byte, dataset.ItemRef, error) {
	file, err := c.file(ctx, source, shard)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	if remotearchive.LayoutOf(file.Key) != remotearchive.NotArchive {
		return c.archives.ReadItem(ctx, source.ID, archiveOf(file), address, limit)
	}

	if (address.Key != "" && address.Key != file.Key) || (address.Key == "" && address.Index != 0) {
		return nil, dataset.ItemRef{}, dataset.NotFound(file.Key, "item %s not found (plain files have one item)", address)
	}
	item := plainItem(file)
	fetcher, err := c.archives.Fetcher(ctx, source.ID, file.URL)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	size, err := fetcher.Size(ctx)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	item.TotalBytes, item.Fields[0].Bytes = size, size

	length := size
	if limit > 0 {
		length = min(size, limit)
	} else if size > c.options.InlineMaxBytes {
		return nil, dataset.ItemRef{}, dataset.Unsupported(file.Key,
			"file is %d bytes, larger than the %d byte inline limit", size, c.options.InlineMaxBytes)
	}
	if length == 0 {
		return []byte{}, item, nil
	}
	data, err := fetcher.ReadAt(ctx, 0, length)
	if err != nil {
		return nil, dataset.ItemRef{}, err
	}
	return data, item, nil
}

// PeekBytes is the window fetched for a plain file peek.
func (c *Client) PeekBytes() int64 { return c.options.PeekBytes }

func (c *Client) file(ctx context.Context, source *dataset.Source, shard string) (File, error) {
	record, err := c.Record(ctx, source)
	if err != nil {
		return File{}, err
	}
	return record.File(shard)
}

func archiveOf(file File) remotearchive.Archive {
	return remotearchive.Archive{Name: file.Key, URL: file.URL}
}

func plainItem(file File) dataset.ItemRef {
	return remotearchive.EntryItem(0, dataset.ArchiveEntry{Name: file.Key, UncompressedSize: file.Size})
}
