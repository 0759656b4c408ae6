// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangeio

import (
	"context"
	"sync/atomic"
)

// Counting wraps a Fetcher and counts the reads issued through it.
// Size and SupportsRange calls are not counted; the underlying HTTP
// fetcher answers them from an earlier response when it has one.
type Counting struct {
	Fetcher
	reads atomic.Int64
	bytes atomic.Int64
}

// NewCounting wraps f.
func NewCounting(f Fetcher) *Counting {
	return &Counting{Fetcher: f}
}

// ReadAt implements Fetcher.
func (c *Counting) ReadAt(ctx context.Context, offset, length int64) ([]byte, error) {
	c.reads.Add(1)
	data, err := c.Fetcher.ReadAt(ctx, offset, length)
	c.bytes.Add(int64(len(data)))
	return data, err
}

// Tail implements TailReader, counting one read.
func (c *Counting) Tail(ctx context.Context, n int64) ([]byte, int64, error) {
	c.reads.Add(1)
	if tail, ok := c.Fetcher.(TailReader); ok {
		data, start, err := tail.Tail(ctx, n)
		c.bytes.Add(int64(len(data)))
		return data, start, err
	}
	data, start, err := Tail(ctx, c.Fetcher, n)
	c.bytes.Add(int64(len(data)))
	return data, start, err
}

// Reads returns the number of reads so far.
func (c *Counting) Reads() int64 { return c.reads.Load() }

// BytesRead returns the number of bytes returned so far.
func (c *Counting) BytesRead() int64 { return c.bytes.Load() }
