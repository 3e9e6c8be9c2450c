// Package ratelimit implements a fixed-window request limiter keyed by
// (client IP, route), distinct from the token-bucket
// infrastructure/ratelimit package. The admin API's general traffic shaping
// uses infrastructure/middleware's rate limiter, not either of these.
// Grounded on the bucket arithmetic exercised by
// original_source/tests/test_rate_limiter.py: bucket = floor(now/window).
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/cache"
	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
)

// DefaultWindow and DefaultLimit match the login endpoint's policy in
// test_rate_limiter.py: 5 requests per 60-second window.
const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 5
)

// Limiter is a fixed-window counter backed by infrastructure/cache.Cache,
// so expired buckets are swept by the cache's own cleanup loop instead of
// a second janitor goroutine. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	backing *cache.Cache
	clk     clock.Clock
	window  time.Duration
	limit   int
}

type windowCount struct {
	bucket int64
	count  int
}

// New builds a Limiter with the given window and per-window request limit.
func New(clk clock.Clock, window time.Duration, limit int) *Limiter {
	return &Limiter{
		backing: cache.NewCache(cache.CacheConfig{DefaultTTL: window}),
		clk:     clk,
		window:  window,
		limit:   limit,
	}
}

// Allow reports whether a request from clientIP against route may proceed,
// incrementing that key's counter as a side effect. Counters for different
// (clientIP, route) pairs are entirely independent.
func (l *Limiter) Allow(clientIP, route string) bool {
	key := fmt.Sprintf("%s:%s", route, clientIP)
	bucket := int64(l.clk.Now().Unix()) / int64(l.window.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	wc := windowCount{bucket: bucket, count: 0}
	if v, ok := l.backing.Get(key); ok {
		if cur, ok := v.(windowCount); ok && cur.bucket == bucket {
			wc = cur
		}
	}

	if wc.count >= l.limit {
		l.backing.Set(key, wc, l.window)
		return false
	}
	wc.count++
	l.backing.Set(key, wc, l.window)
	return true
}

// Reset clears all tracked counters.
func (l *Limiter) Reset() {
	l.backing.InvalidateAll()
}
