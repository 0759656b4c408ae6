// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for the dataview
// packages.
//
// [RequireReceive] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so that individual tests do not
// need direct time.After calls. Concurrency tests for the caches use it
// to wait on goroutines without hanging forever.
//
// [WriteFile], [BuildTar], and [BuildZip] produce on-disk and in-memory
// archive fixtures. [RangeServer] serves a byte slice over HTTP with
// configurable range support and counts the requests it sees, so
// adapters can assert how many remote reads an operation issued.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
