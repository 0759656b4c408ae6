// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so cache eviction
// and background sweeps can be tested without sleeping.
//
// Structs that read the time hold a Clock field. Production code sets
// it to Real(); tests set it to Fake(start) and call Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	sizes := cache.NewGroup[int64]("sizes", cache.Options{Clock: fake})
//	fake.Advance(10 * time.Minute)
//	sizes.Sweep(5 * time.Minute)
package clock
