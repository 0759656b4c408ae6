// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset defines the navigation model every format adapter
// normalizes to, and the error taxonomy they report through.
//
// A [Source] is one opened dataset. It breaks down into
// [ShardSummary] values (physical storage units), each holding
// [ItemRef] samples, each holding [FieldRef] leaves. Field bytes are
// never carried in the model: adapters fetch them on demand and hand
// the result to the preview or audio stages.
//
// Formats without a global index page through their shards with a
// [ScanCursor]. The cursor is a plain value that encodes to an opaque
// token ([ScanCursor.Token], [ParseCursorToken]) so callers can thread
// it through requests without holding engine state.
//
// Errors carry a [Kind] from a fixed set (not found, malformed,
// unsupported, range unsupported, authentication required, network,
// timeout). Match them with errors.Is against the Err* sentinels.
package dataset
