// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/preview"
)

// Cell size limits.
const (
	MaxTextBytes  = 10 << 20
	MaxAssetBytes = 50 << 20
)

// Cell is the materialized content of one row value.
type Cell struct {
	Data []byte
	Ext  string

	// AssetURL is set when Data was downloaded from an asset link.
	AssetURL string
}

// CellSize estimates the size of a row value without downloading
// assets: the byte length of a string, else of its JSON encoding.
func CellSize(value any) int64 {
	if text, ok := value.(string); ok {
		return int64(len(text))
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(encoded))
}

// MaterializeCell renders the value of column in row as file content.
// Asset references are downloaded from an allowed host. Strings become
// text, objects and arrays become indented JSON, and numbers and
// booleans become text.
func (c *Client) MaterializeCell(ctx context.Context, row map[string]any, column string) (Cell, error) {
	value, ok := row[column]
	if !ok {
		return Cell{}, dataset.NotFound(column, "column not present in row")
	}
	if asset, ok := extractAsset(value); ok {
		return c.download(ctx, asset)
	}

	switch typed := value.(type) {
	case string:
		if int64(len(typed)) > c.options.MaxTextBytes {
			return Cell{}, dataset.Unsupported(column, "text value of %d bytes exceeds the %d byte limit",
				len(typed), c.options.MaxTextBytes)
		}
		return Cell{Data: []byte(typed), Ext: "txt"}, nil
	case json.Number:
		return Cell{Data: []byte(typed.String()), Ext: "txt"}, nil
	case bool, float64, int64, int:
		return Cell{Data: fmt.Appendf(nil, "%v", typed), Ext: "txt"}, nil
	}

	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return Cell{}, fmt.Errorf("encoding column %s: %w", column, err)
	}
	return Cell{Data: encoded, Ext: "json"}, nil
}

type asset struct {
	src         string
	contentType string
}

// extractAsset recognizes {"src": ..., "type": ...} and arrays whose
// first element is one.
func extractAsset(value any) (asset, bool) {
	switch typed := value.(type) {
	case map[string]any:
		src, ok := typed["src"].(string)
		if !ok || src == "" {
			return asset{}, false
		}
		contentType, _ := typed["type"].(string)
		return asset{src: src, contentType: contentType}, true
	case []any:
		if len(typed) == 0 {
			return asset{}, false
		}
		return extractAsset(typed[0])
	}
	return asset{}, false
}

// AllowedAsset reports whether assets may be fetched from rawURL.
func (c *Client) AllowedAsset(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return false
	}
	return c.hosts[strings.ToLower(parsed.Host)] || c.hosts[strings.ToLower(parsed.Hostname())]
}

func (c *Client) download(ctx context.Context, target asset) (Cell, error) {
	if !c.AllowedAsset(target.src) {
		return Cell{}, dataset.Unsupported(target.src, "asset host is not allowed")
	}
	parsed, _ := url.Parse(target.src)

	if limiter := c.options.Limiters.For(parsed.Host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Cell{}, dataset.Network(target.src, "waiting for rate limiter", err)
		}
	}
	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.src, nil)
	if err != nil {
		return Cell{}, fmt.Errorf("building request for %s: %w", target.src, err)
	}
	c.decorate(request)

	response, err := c.options.HTTPClient.Do(request)
	if err != nil {
		return Cell{}, dataset.Network(target.src, "GET", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return Cell{}, classify(target.src, response, nil)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, c.options.MaxAssetBytes+1))
	if err != nil {
		return Cell{}, dataset.Network(target.src, "reading body", err)
	}
	if int64(len(data)) > c.options.MaxAssetBytes {
		return Cell{}, dataset.Unsupported(target.src, "asset exceeds the %d byte limit", c.options.MaxAssetBytes)
	}
	c.logger.Debug("downloaded catalog asset", "url", target.src, "bytes", len(data))

	contentType := target.contentType
	if contentType == "" {
		contentType = response.Header.Get("Content-Type")
	}
	return Cell{Data: data, Ext: assetExt(parsed.Path, contentType, data), AssetURL: target.src}, nil
}

// assetExt picks an extension from the URL path, then the content
// type, then the content itself.
func assetExt(urlPath, contentType string, data []byte) string {
	if ext := strings.TrimPrefix(path.Ext(urlPath), "."); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	if ext := preview.ExtForMIME(contentType); ext != "" {
		return ext
	}
	return preview.GuessExt(data, preview.Hint{})
}
