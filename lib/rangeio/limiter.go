// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangeio

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiters hands out one token-bucket limiter per host, so every
// fetcher and API client talking to a host shares its request budget.
// A nil *Limiters, or one created with a non-positive rate, does not
// limit.
type Limiters struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// NewLimiters returns a set allowing requestsPerSecond per host with
// the given burst.
func NewLimiters(requestsPerSecond float64, burst int) *Limiters {
	if burst < 1 {
		burst = 1
	}
	return &Limiters{
		limit: rate.Limit(requestsPerSecond),
		burst: burst,
		hosts: make(map[string]*rate.Limiter),
	}
}

// For returns the limiter for host, or nil when limiting is off.
func (l *Limiters) For(host string) *rate.Limiter {
	if l == nil || l.limit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.hosts[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.hosts[host] = limiter
	}
	return limiter
}
