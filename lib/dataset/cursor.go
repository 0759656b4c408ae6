// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"

	"github.com/bureau-foundation/dataview/lib/codec"
)

// ScanCursor is a resumable position in a forward-only scan of an
// unindexed shard. It is a plain value: callers receive it as a token
// and hand it back to continue, and the engine caches copies keyed by
// (source, shard, item offset).
//
// SourceID and Generation bind the cursor to one load of one source:
// a token presented after the source is reloaded, or against a
// different source with a same-named shard, is rejected.
type ScanCursor struct {
	// ShardID identifies the shard the cursor was produced for. A
	// cursor presented against any other shard is rejected.
	ShardID string `cbor:"1,keyasint"`

	// Offset is the byte position of the next unread archive header,
	// measured in the uncompressed archive stream.
	Offset int64 `cbor:"2,keyasint"`

	// Item is the index of the next item the scan will emit.
	Item int64 `cbor:"3,keyasint"`

	// Pending holds a sample whose members were read but which was
	// not yet closed (no member with a different key had been seen).
	Pending *PendingSample `cbor:"4,keyasint,omitempty"`

	// Done is set when the scan reached the end of the archive.
	Done bool `cbor:"5,keyasint,omitempty"`

	SourceID   string `cbor:"6,keyasint,omitempty"`
	Generation uint64 `cbor:"7,keyasint,omitempty"`
}

// StartCursor is the cursor at the first item of a shard.
func StartCursor(sourceID string, generation uint64, shardID string) ScanCursor {
	return ScanCursor{SourceID: sourceID, Generation: generation, ShardID: shardID}
}

// PendingSample is the partially-open sample carried by a cursor.
type PendingSample struct {
	Key     string          `cbor:"1,keyasint"`
	Members []PendingMember `cbor:"2,keyasint"`
}

// PendingMember is one archive member already assigned to a pending
// sample.
type PendingMember struct {
	Path       string `cbor:"1,keyasint"`
	Field      string `cbor:"2,keyasint"`
	Size       int64  `cbor:"3,keyasint"`
	DataOffset int64  `cbor:"4,keyasint"`
}

// Clone returns a deep copy so cached cursors are never mutated by a
// scan resuming from them.
func (c ScanCursor) Clone() ScanCursor {
	if c.Pending != nil {
		pending := &PendingSample{Key: c.Pending.Key}
		pending.Members = append([]PendingMember(nil), c.Pending.Members...)
		c.Pending = pending
	}
	return c
}

// Token encodes the cursor as an opaque string.
func (c ScanCursor) Token() (string, error) {
	return codec.EncodeToken(c)
}

// ParseCursorToken decodes a token and checks it was issued for
// shardID of sourceID at generation. Any mismatch, and any token that
// does not decode, is a KindInvalidCursor error.
func ParseCursorToken(token, sourceID string, generation uint64, shardID string) (ScanCursor, error) {
	var cursor ScanCursor
	if err := codec.DecodeToken(token, &cursor); err != nil {
		return ScanCursor{}, Wrap(KindInvalidCursor, shardID, "parsing cursor", err)
	}
	switch {
	case cursor.SourceID != sourceID:
		return ScanCursor{}, InvalidCursor(shardID, "cursor belongs to source %q", cursor.SourceID)
	case cursor.Generation != generation:
		return ScanCursor{}, InvalidCursor(shardID,
			"cursor was issued for generation %d of the source, now at %d", cursor.Generation, generation)
	case cursor.ShardID != shardID:
		return ScanCursor{}, InvalidCursor(shardID, "cursor belongs to shard %q", cursor.ShardID)
	case cursor.Offset < 0 || cursor.Item < 0:
		return ScanCursor{}, InvalidCursor(shardID,
			"negative position (offset %d, item %d)", cursor.Offset, cursor.Item)
	}
	return cursor, nil
}

// String is for logs.
func (c ScanCursor) String() string {
	pending := 0
	if c.Pending != nil {
		pending = len(c.Pending.Members)
	}
	return fmt.Sprintf("%s@%d item=%d pending=%d done=%t", c.ShardID, c.Offset, c.Item, pending, c.Done)
}
