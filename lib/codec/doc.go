// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for engine-internal
// serialization, chiefly the continuation tokens handed to callers for
// resumable scans.
//
// JSON is the external format (CLI output, remote APIs). CBOR is used
// where a compact, deterministic encoding matters: a token for a given
// cursor is always the same string, so identical page requests yield
// identical responses.
//
//	token, err := codec.EncodeToken(cursor)
//	err = codec.DecodeToken(token, &cursor)
//
// Types serialized here use `cbor` struct tags with integer keys
// (`cbor:"1,keyasint"`) to keep tokens short.
package codec
