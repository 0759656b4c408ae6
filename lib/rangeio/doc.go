// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rangeio reads byte ranges from local files and HTTP objects
// behind one [Fetcher] interface.
//
// [File] uses positioned reads and always supports ranges. [HTTP]
// requires every response to be a 206 with a parsable Content-Range
// and learns the object size from the first one. A server that
// answers 200 fails fast with a range-unsupported error without its
// body being read, and later calls fail without a request. Remote
// reads are bounded by a per-request timeout, paced by a per-host
// [Limiters] set, and never retried.
//
// [Counting] wraps any Fetcher and counts reads, which tests use to
// assert how many remote round trips an operation costs.
package rangeio
