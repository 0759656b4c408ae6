// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangeio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/netutil"
)

// HTTPOptions configures an HTTP fetcher.
type HTTPOptions struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Timeout bounds each request, including reading its body. Zero
	// means no per-request bound beyond the caller's context.
	Timeout time.Duration

	UserAgent string

	// Token, when set, is sent as a bearer credential.
	Token string

	Limiters *Limiters
	Logger   *slog.Logger
}

// HTTP reads ranges of one remote object. Range support is learned
// from the first response: a 206 with a parsable Content-Range proves
// it and reports the object size, a 200 disproves it. The answer is
// kept for the fetcher's lifetime. Safe for concurrent use.
type HTTP struct {
	url     string
	host    string
	options HTTPOptions
	logger  *slog.Logger

	mu     sync.Mutex
	known  bool
	ranged bool
	size   int64
}

// NewHTTP returns a fetcher for rawURL.
func NewHTTP(rawURL string, options HTTPOptions) (*HTTP, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, dataset.Unsupported(rawURL, "not an http(s) URL")
	}
	if options.Client == nil {
		options.Client = http.DefaultClient
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTP{url: rawURL, host: parsed.Host, options: options, logger: logger, size: -1}, nil
}

// URL returns the object URL.
func (h *HTTP) URL() string { return h.url }

// ReadAt implements Fetcher.
func (h *HTTP) ReadAt(ctx context.Context, offset, length int64) ([]byte, error) {
	size, err := h.state()
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || (size >= 0 && offset+length > size) {
		return nil, dataset.Malformed(h.url, offset, "reading range",
			"range of %d bytes exceeds object size %d", length, size)
	}
	if length == 0 {
		return []byte{}, nil
	}
	data, start, _, err := h.fetch(ctx, netutil.FormatRange(offset, length), length)
	if err != nil {
		return nil, err
	}
	if start != offset || int64(len(data)) != length {
		return nil, dataset.Malformed(h.url, offset, "reading range",
			"server returned %d bytes at %d, want %d at %d", len(data), start, length, offset)
	}
	return data, nil
}

// Tail implements TailReader with one suffix-range request.
func (h *HTTP) Tail(ctx context.Context, n int64) ([]byte, int64, error) {
	if _, err := h.state(); err != nil {
		return nil, 0, err
	}
	if n <= 0 {
		size, err := h.Size(ctx)
		return []byte{}, size, err
	}
	data, start, total, err := h.fetch(ctx, netutil.FormatSuffixRange(n), n)
	if err != nil {
		return nil, 0, err
	}
	if total >= 0 && start+int64(len(data)) != total {
		return nil, 0, dataset.Malformed(h.url, start, "reading tail",
			"suffix read ends at %d, object size %d", start+int64(len(data)), total)
	}
	return data, start, nil
}

// Size implements Fetcher. It is free once any read has completed;
// before that it costs a one-byte read.
func (h *HTTP) Size(ctx context.Context) (int64, error) {
	size, err := h.state()
	if err != nil {
		return 0, err
	}
	if size < 0 {
		if _, _, _, err := h.fetch(ctx, netutil.FormatRange(0, 1), 1); err != nil {
			return 0, err
		}
		if size, err = h.state(); err != nil {
			return 0, err
		}
	}
	if size < 0 {
		return 0, dataset.Malformed(h.url, -1, "reading size", "server did not report the object size")
	}
	return size, nil
}

// SupportsRange implements Fetcher. Like Size it issues a one-byte
// read only when no earlier response answered the question.
func (h *HTTP) SupportsRange(ctx context.Context) (bool, error) {
	h.mu.Lock()
	known, ranged := h.known, h.ranged
	h.mu.Unlock()
	if known {
		return ranged, nil
	}
	_, _, _, err := h.fetch(ctx, netutil.FormatRange(0, 1), 1)
	switch dataset.KindOf(err) {
	case dataset.KindUnknown:
		if err != nil {
			return false, err
		}
		return true, nil
	case dataset.KindRangeUnsupported:
		return false, nil
	default:
		return false, err
	}
}

// state returns the known object size, or -1, and fails fast once the
// server is known to ignore ranges.
func (h *HTTP) state() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.known && !h.ranged {
		return 0, dataset.RangeUnsupported(h.url)
	}
	return h.size, nil
}

// fetch runs get and records what the response proved. Only a
// definite answer is kept: transport failures leave range support
// unknown so a later call can try again.
func (h *HTTP) fetch(ctx context.Context, rangeHeader string, limit int64) ([]byte, int64, int64, error) {
	data, start, total, err := h.get(ctx, rangeHeader, limit)
	switch dataset.KindOf(err) {
	case dataset.KindUnknown:
		if err != nil {
			break
		}
		h.mu.Lock()
		first := !h.known
		h.known, h.ranged = true, true
		if total >= 0 {
			h.size = total
		}
		h.mu.Unlock()
		if first {
			h.logger.Debug("server honors byte ranges", "url", h.url, "size", total)
		}
	case dataset.KindRangeUnsupported:
		h.mu.Lock()
		h.known, h.ranged = true, false
		h.mu.Unlock()
		h.logger.Info("server ignores byte ranges", "url", h.url)
	}
	return data, start, total, err
}

// get performs one ranged GET and returns the body along with the
// start offset and total size from Content-Range. limit bounds how
// much of the body is read.
func (h *HTTP) get(ctx context.Context, rangeHeader string, limit int64) ([]byte, int64, int64, error) {
	if limiter := h.options.Limiters.For(h.host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, 0, 0, dataset.Network(h.url, "waiting for rate limiter", err)
		}
	}
	if h.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.options.Timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("building request for %s: %w", h.url, err)
	}
	request.Header.Set("Range", rangeHeader)
	if h.options.UserAgent != "" {
		request.Header.Set("User-Agent", h.options.UserAgent)
	}
	if h.options.Token != "" {
		request.Header.Set("Authorization", "Bearer "+h.options.Token)
	}

	response, err := h.options.Client.Do(request)
	if err != nil {
		return nil, 0, 0, dataset.Network(h.url, "GET "+rangeHeader, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusOK {
		// The server ignored the range and is about to send the whole
		// object. Close without reading it.
		return nil, 0, 0, dataset.RangeUnsupported(h.url)
	}
	if err := CheckStatus(h.url, response); err != nil {
		return nil, 0, 0, err
	}
	if response.StatusCode != http.StatusPartialContent {
		return nil, 0, 0, dataset.Network(h.url, "GET "+rangeHeader,
			fmt.Errorf("unexpected status %s", response.Status))
	}

	start, end, total, err := netutil.ParseContentRange(response.Header.Get("Content-Range"))
	if err != nil {
		return nil, 0, 0, dataset.Wrap(dataset.KindRangeUnsupported, h.url, "parsing Content-Range", err)
	}
	if end-start+1 > limit {
		return nil, 0, 0, dataset.Malformed(h.url, start, "reading range",
			"server sent %d bytes for a %d byte request", end-start+1, limit)
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, end-start+1))
	if err != nil {
		return nil, 0, 0, dataset.Network(h.url, "reading body", err)
	}
	if int64(len(data)) != end-start+1 {
		return nil, 0, 0, dataset.Network(h.url, "reading body",
			fmt.Errorf("body ended after %d of %d bytes", len(data), end-start+1))
	}
	return data, start, total, nil
}

// CheckStatus maps an error status to a classified error. It returns
// nil for 2xx responses. The response body is read (bounded) for the
// message but not closed.
func CheckStatus(rawURL string, response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	body := netutil.ErrorBody(response.Body)
	switch response.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return dataset.NotFound(rawURL, "remote object not found (%s)", response.Status)
	case http.StatusUnauthorized, http.StatusForbidden:
		return dataset.AuthRequired(rawURL, "access denied (%s)", response.Status)
	case http.StatusRequestedRangeNotSatisfiable:
		return dataset.Malformed(rawURL, -1, "reading range", "range outside object (%s)", response.Status)
	}
	if body != "" {
		return dataset.Network(rawURL, "GET", fmt.Errorf("%s: %s", response.Status, body))
	}
	return dataset.Network(rawURL, "GET", fmt.Errorf("unexpected status %s", response.Status))
}
