// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

type cursorScope struct {
	source string
	shard  string
}

type cursorEntry struct {
	cursor   dataset.ScanCursor
	lastUsed time.Time
}

// Cursors caches scan cursors per (source, shard), indexed by the item
// each cursor resumes at. Stored and returned cursors are deep copies.
// Safe for concurrent use.
type Cursors struct {
	options Options

	mu          sync.Mutex
	shards      map[cursorScope]map[int64]*cursorEntry
	totals      map[cursorScope]int64
	generations map[string]uint64
	entries     int
}

// NewCursors returns an empty cursor cache. Options.Capacity bounds
// the total number of cursors across shards.
func NewCursors(options Options) *Cursors {
	options.defaults()
	return &Cursors{
		options: options,
		shards:      make(map[cursorScope]map[int64]*cursorEntry),
		totals:      make(map[cursorScope]int64),
		generations: make(map[string]uint64),
	}
}

// Generation returns the source's current generation. A scan captures
// it before starting, stamps it on the cursors it issues, and passes it
// back to Put.
func (c *Cursors) Generation(source string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[source]
}

// Put records cursor for the shard. A cursor with Done set also
// records the shard's total item count. Put is a no-op when the source
// was invalidated after generation was read, so a scan that outlives a
// reload cannot repopulate the cache.
func (c *Cursors) Put(source string, generation uint64, cursor dataset.ScanCursor) {
	scope := cursorScope{source: source, shard: cursor.ShardID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[source] != generation {
		return
	}
	if cursor.Done {
		c.totals[scope] = cursor.Item
	}
	byItem, ok := c.shards[scope]
	if !ok {
		byItem = make(map[int64]*cursorEntry)
		c.shards[scope] = byItem
	}
	if _, exists := byItem[cursor.Item]; !exists {
		c.entries++
	}
	byItem[cursor.Item] = &cursorEntry{cursor: cursor.Clone(), lastUsed: c.options.Clock.Now()}
	c.evictLocked()
}

// Floor returns the cursor with the greatest item at or before item.
func (c *Cursors) Floor(source, shard string, item int64) (dataset.ScanCursor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byItem := c.shards[cursorScope{source: source, shard: shard}]
	var best *cursorEntry
	for at, cached := range byItem {
		if at <= item && (best == nil || at > best.cursor.Item) {
			best = cached
		}
	}
	if best == nil {
		return dataset.ScanCursor{}, false
	}
	best.lastUsed = c.options.Clock.Now()
	return best.cursor.Clone(), true
}

// Total returns the item count of a fully scanned shard.
func (c *Cursors) Total(source, shard string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, ok := c.totals[cursorScope{source: source, shard: shard}]
	return total, ok
}

// Known returns the highest item any cached cursor reached for the
// shard, a lower bound on the item count.
func (c *Cursors) Known(source, shard string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var known int64
	for at := range c.shards[cursorScope{source: source, shard: shard}] {
		known = max(known, at)
	}
	return known
}

// InvalidateSource drops every cursor and total of source and
// advances its generation.
func (c *Cursors) InvalidateSource(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[source]++
	dropped := 0
	for scope, byItem := range c.shards {
		if scope.source == source {
			dropped += len(byItem)
			delete(c.shards, scope)
		}
	}
	for scope := range c.totals {
		if scope.source == source {
			delete(c.totals, scope)
		}
	}
	c.entries -= dropped
	return dropped
}

// Sweep drops cursors unused for longer than maxAge.
func (c *Cursors) Sweep(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.options.Clock.Now().Add(-maxAge)
	dropped := 0
	for scope, byItem := range c.shards {
		for at, cached := range byItem {
			if cached.lastUsed.Before(cutoff) {
				delete(byItem, at)
				dropped++
			}
		}
		if len(byItem) == 0 {
			delete(c.shards, scope)
		}
	}
	c.entries -= dropped
	return dropped
}

// Len returns the number of cached cursors.
func (c *Cursors) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

// evictLocked drops least recently used cursors beyond capacity.
// Cursors at item 0 are never needed (a scan can always start there)
// so they go first.
func (c *Cursors) evictLocked() {
	if c.options.Capacity <= 0 || c.entries <= c.options.Capacity {
		return
	}
	type candidate struct {
		scope    cursorScope
		item     int64
		lastUsed time.Time
	}
	var candidates []candidate
	for scope, byItem := range c.shards {
		for at, cached := range byItem {
			candidates = append(candidates, candidate{scope, at, cached.lastUsed})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if (candidates[i].item == 0) != (candidates[j].item == 0) {
			return candidates[i].item == 0
		}
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})
	for _, victim := range candidates[:c.entries-c.options.Capacity] {
		delete(c.shards[victim.scope], victim.item)
		if len(c.shards[victim.scope]) == 0 {
			delete(c.shards, victim.scope)
		}
		c.entries--
	}
}
