// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache holds the engine's shared, source-scoped caches.
//
// Every entry is tagged with the id of the source that produced it.
// Replacing a source calls InvalidateSource on each cache, which drops
// that source's entries at once; computations still in flight for the
// old source finish, but their results are discarded rather than
// stored.
//
// [Group] is a keyed value cache whose misses are populated through
// singleflight, so concurrent requests for one missing key run the
// loader once. [Cursors] keeps scan cursors per shard ordered by item,
// answering "nearest cursor at or before item N". [TempFiles] tracks
// files written on behalf of sources and deletes each once no source
// holds it.
package cache
