// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/dataview/lib/clock"
)

// Key addresses one cache entry.
type Key struct {
	// Source is the owning source id; InvalidateSource matches on it.
	Source string

	// Name identifies the entry within the source (a shard path, a
	// URL, a shard plus byte offset).
	Name string
}

func (k Key) String() string { return k.Source + "\x00" + k.Name }

// Options configures a cache.
type Options struct {
	// Capacity bounds the number of entries. Inserting beyond it
	// evicts the least recently used entry. Zero means unbounded.
	Capacity int

	// Clock stamps last use. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

type entry[V any] struct {
	value    V
	lastUsed time.Time
}

// Group caches values of type V. Safe for concurrent use.
type Group[V any] struct {
	name    string
	options Options
	flight  singleflight.Group

	mu          sync.Mutex
	entries     map[Key]*entry[V]
	generations map[string]uint64
	onEvict     func(Key, V)
}

type dropped[V any] struct {
	key   Key
	value V
}

// NewGroup returns an empty cache. name labels log lines.
func NewGroup[V any](name string, options Options) *Group[V] {
	options.defaults()
	return &Group[V]{
		name:        name,
		options:     options,
		entries:     make(map[Key]*entry[V]),
		generations: make(map[string]uint64),
	}
}

// OnEvict sets fn to run for every value the group lets go of: entries
// dropped by capacity, Sweep, or InvalidateSource, and loads finished
// after their source was invalidated. fn runs without the group's lock
// held. Call it before the group is used.
func (g *Group[V]) OnEvict(fn func(Key, V)) { g.onEvict = fn }

func (g *Group[V]) release(values []dropped[V]) {
	if g.onEvict == nil {
		return
	}
	for _, value := range values {
		g.onEvict(value.key, value.value)
	}
}

// Get returns the cached value for key.
func (g *Group[V]) Get(key Key) (V, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cached, ok := g.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	cached.lastUsed = g.options.Clock.Now()
	return cached.value, true
}

// Put stores a value unconditionally.
func (g *Group[V]) Put(key Key, value V) {
	g.mu.Lock()
	evicted := g.storeLocked(key, value)
	g.mu.Unlock()
	g.release(evicted)
}

// Do returns the cached value for key, or runs load to populate it.
// Concurrent callers missing on the same key share one load. The load
// runs detached from any single caller's cancellation; a caller whose
// ctx ends stops waiting but the load continues for the others.
//
// If the key's source is invalidated while load runs, the result is
// still returned to the waiting callers but is not stored.
func (g *Group[V]) Do(ctx context.Context, key Key, load func(context.Context) (V, error)) (V, error) {
	if value, ok := g.Get(key); ok {
		return value, nil
	}

	g.mu.Lock()
	generation := g.generations[key.Source]
	g.mu.Unlock()

	// Including the generation keeps callers arriving after an
	// invalidation from joining a load that will not be stored.
	flightKey := key.String() + "\x00" + strconv.FormatUint(generation, 10)
	loadContext := context.WithoutCancel(ctx)
	results := g.flight.DoChan(flightKey, func() (any, error) {
		// A caller that missed just before the previous flight stored
		// its result lands here after it finished.
		if value, ok := g.Get(key); ok {
			return value, nil
		}
		g.options.Logger.Debug("cache miss", "cache", g.name, "source", key.Source, "key", key.Name)
		value, err := load(loadContext)
		if err != nil {
			return value, err
		}
		g.mu.Lock()
		var evicted []dropped[V]
		if g.generations[key.Source] == generation {
			evicted = g.storeLocked(key, value)
		} else {
			g.options.Logger.Debug("dropping result for invalidated source",
				"cache", g.name, "source", key.Source, "key", key.Name)
			evicted = []dropped[V]{{key, value}}
		}
		g.mu.Unlock()
		g.release(evicted)
		return value, nil
	})

	select {
	case result := <-results:
		if result.Err != nil {
			var zero V
			return zero, result.Err
		}
		value, _ := result.Val.(V)
		return value, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// storeLocked inserts value and returns the entry evicted to make
// room, if any.
func (g *Group[V]) storeLocked(key Key, value V) []dropped[V] {
	g.entries[key] = &entry[V]{value: value, lastUsed: g.options.Clock.Now()}
	if g.options.Capacity <= 0 || len(g.entries) <= g.options.Capacity {
		return nil
	}
	var oldestKey Key
	var oldest time.Time
	first := true
	for candidate, cached := range g.entries {
		if candidate == key {
			continue
		}
		if first || cached.lastUsed.Before(oldest) {
			oldestKey, oldest, first = candidate, cached.lastUsed, false
		}
	}
	if first {
		return nil
	}
	evicted := []dropped[V]{{oldestKey, g.entries[oldestKey].value}}
	delete(g.entries, oldestKey)
	return evicted
}

// InvalidateSource drops every entry of source and marks loads in
// flight for it as stale. It returns the number of entries dropped.
func (g *Group[V]) InvalidateSource(source string) int {
	g.mu.Lock()
	g.generations[source]++
	var evicted []dropped[V]
	for key, cached := range g.entries {
		if key.Source == source {
			evicted = append(evicted, dropped[V]{key, cached.value})
			delete(g.entries, key)
		}
	}
	g.mu.Unlock()
	if len(evicted) > 0 {
		g.options.Logger.Debug("invalidated source", "cache", g.name, "source", source, "entries", len(evicted))
	}
	g.release(evicted)
	return len(evicted)
}

// Sweep drops entries unused for longer than maxAge and returns how
// many were dropped.
func (g *Group[V]) Sweep(maxAge time.Duration) int {
	g.mu.Lock()
	cutoff := g.options.Clock.Now().Add(-maxAge)
	var evicted []dropped[V]
	for key, cached := range g.entries {
		if cached.lastUsed.Before(cutoff) {
			evicted = append(evicted, dropped[V]{key, cached.value})
			delete(g.entries, key)
		}
	}
	g.mu.Unlock()
	g.release(evicted)
	return len(evicted)
}

// Len returns the number of cached entries.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
