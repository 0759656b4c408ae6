// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine failure. Callers branch on the kind (for
// example, prompting for credentials on KindAuthRequired) rather than
// on message text.
type Kind uint8

const (
	// KindUnknown is the zero value. Errors constructed by this
	// package never carry it.
	KindUnknown Kind = iota

	// KindNotFound: a shard, item, field, entry, config, or split
	// does not exist.
	KindNotFound

	// KindMalformed: an index, offset table, archive directory, or
	// header is structurally invalid. Never retried.
	KindMalformed

	// KindUnsupported: the data is valid but uses a feature this
	// engine does not implement (unknown codec, encrypted entry,
	// dataset requiring code execution).
	KindUnsupported

	// KindRangeUnsupported: a remote server ignored a byte-range
	// request.
	KindRangeUnsupported

	// KindAuthRequired: the remote resource is private or gated.
	KindAuthRequired

	// KindNetwork: a transport-level failure or unexpected HTTP
	// status. The caller may retry.
	KindNetwork

	// KindTimeout: a remote read exceeded its deadline.
	KindTimeout

	// KindInvalidCursor: a cursor token was issued for another
	// source, shard, or an earlier load of the same source.
	KindInvalidCursor
)

// String returns the kind's stable name.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed_format"
	case KindUnsupported:
		return "unsupported_feature"
	case KindRangeUnsupported:
		return "range_unsupported"
	case KindAuthRequired:
		return "authentication_required"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindInvalidCursor:
		return "invalid_cursor"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrMalformed        = &Error{Kind: KindMalformed}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrRangeUnsupported = &Error{Kind: KindRangeUnsupported}
	ErrAuthRequired     = &Error{Kind: KindAuthRequired}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInvalidCursor    = &Error{Kind: KindInvalidCursor}
)

// Error is a classified engine failure. Path names the shard, entry,
// or URL being processed, and Offset (when non-negative) the byte
// position at which a structural problem was found, so a malformed
// file can be diagnosed from the message alone.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Offset int64
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var builder strings.Builder
	if e.Path != "" {
		builder.WriteString(e.Path)
		builder.WriteString(": ")
	}
	if e.Op != "" {
		builder.WriteString(e.Op)
		if e.Offset >= 0 {
			fmt.Fprintf(&builder, " at byte %d", e.Offset)
		}
		if e.Msg != "" || e.Err != nil {
			builder.WriteString(": ")
		}
	}
	if e.Msg != "" {
		builder.WriteString(e.Msg)
		if e.Err != nil {
			builder.WriteString(": ")
		}
	}
	if e.Err != nil {
		builder.WriteString(e.Err.Error())
	}
	if builder.Len() == 0 {
		return e.Kind.String()
	}
	return builder.String()
}

// noOffset marks an Error with no byte position to report.
const noOffset = -1

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.Op == "" && sentinel.Path == "" && sentinel.Msg == "" &&
		sentinel.Err == nil && sentinel.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain. Context
// deadline errors without a wrapping *Error report KindTimeout.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

func newError(kind Kind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Offset: noOffset, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing shard, item, field, or entry.
func NotFound(path, format string, args ...any) error {
	return newError(KindNotFound, path, format, args...)
}

// Malformed reports a structural problem at a byte offset of path.
// Pass a negative offset when there is no meaningful position.
func Malformed(path string, offset int64, op, format string, args ...any) error {
	err := newError(KindMalformed, path, format, args...)
	err.Op = op
	if offset >= 0 {
		err.Offset = offset
	}
	return err
}

// Unsupported reports a valid input using an unimplemented feature.
func Unsupported(path, format string, args ...any) error {
	return newError(KindUnsupported, path, format, args...)
}

// RangeUnsupported reports a server that ignored a Range header.
func RangeUnsupported(url string) error {
	return newError(KindRangeUnsupported, url, "server does not honor byte-range requests")
}

// InvalidCursor reports a cursor token that cannot resume a scan of
// shard.
func InvalidCursor(shard, format string, args ...any) error {
	err := newError(KindInvalidCursor, shard, format, args...)
	err.Op = "parsing cursor"
	return err
}

// AuthRequired reports a private or gated remote resource.
func AuthRequired(path, format string, args ...any) error {
	return newError(KindAuthRequired, path, format, args...)
}

// Network wraps a transport failure. Deadline errors are classified
// as KindTimeout instead.
func Network(path, op string, err error) error {
	kind := KindNetwork
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Path: path, Offset: noOffset, Err: err}
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

// Wrap attaches a kind to an arbitrary error, preserving the chain.
func Wrap(kind Kind, path, op string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Offset: noOffset, Err: err}
}
