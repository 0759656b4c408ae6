// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP helpers shared by the remote adapters.
//
// JSON API bodies (catalog rows, record metadata) are read through
// ReadResponse and DecodeResponse, which bound the read at
// MaxResponseSize. Payload downloads do not go through these helpers;
// they are ranged reads sized by the caller.
//
// ParseContentRange and FormatRange handle the byte-range header
// syntax of RFC 9110 §14.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxResponseSize bounds JSON API body reads at 64 MiB. Catalog pages
// are capped at 100 rows and record listings are metadata only, so
// legitimate responses are far smaller.
const MaxResponseSize int64 = 64 << 20

// maxErrorBody bounds how much of an error response ends up in an
// error message.
const maxErrorBody = 4 << 10

// ReadResponse reads a JSON API response body up to MaxResponseSize.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (up to MaxResponseSize)
// and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns the start of an error response body for use in a
// diagnostic message. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return strings.TrimSpace(string(data))
}

// FormatRange returns the Range header value for length bytes starting
// at offset.
func FormatRange(offset, length int64) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// FormatSuffixRange returns the Range header value for the final n
// bytes of a resource.
func FormatSuffixRange(n int64) string {
	return fmt.Sprintf("bytes=-%d", n)
}

// ErrBadContentRange is returned for Content-Range values that do not
// follow "bytes start-end/total".
var ErrBadContentRange = errors.New("malformed Content-Range header")

// ParseContentRange parses "bytes start-end/total". Total is -1 when
// the server reports "*".
func ParseContentRange(value string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	if size == "*" {
		total = -1
	} else if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	if start < 0 || end < start || (total >= 0 && end >= total) {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrBadContentRange, value)
	}
	return start, end, total, nil
}
