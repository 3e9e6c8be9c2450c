// Package cache provides a typed, market-hours-aware wrapper over
// infrastructure/cache.Cache for the research and pricing read paths
// (SPEC_FULL.md §4.9).
package cache

import (
	"context"
	"fmt"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/cache"
	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
)

// shared is the one process-wide infrastructure/cache.Cache backing every
// Cached[T] this package hands out. A single instance is required for R1:
// bump_cache_version() must invalidate every derived view at once, which
// only works if every view's cache entries live behind the same version
// counter rather than each Cached[T] keeping a private Cache of its own.
var shared = cache.NewCache(cache.DefaultConfig())

// BumpCacheVersion invalidates every entry cached by any Cached[T] in this
// process, regardless of namespace. Call it after a write that changes the
// inputs to a cached read path (e.g. a benchmark bar refresh) so derived
// views are recomputed on next read instead of serving stale data for the
// rest of their TTL.
func BumpCacheVersion() {
	shared.InvalidateVersion()
}

// CurrentCacheVersion reports the epoch BumpCacheVersion last advanced to,
// mainly for tests asserting an invalidation actually happened.
func CurrentCacheVersion() int64 {
	return shared.GetCurrentVersion()
}

// Cached wraps a single logical value keyed by an arbitrary string,
// recomputed on demand and cached with a TTL derived from the market
// calendar: 300s during market hours, 3600s otherwise (invariant P3). All
// Cached[T] instances share one backing Cache so BumpCacheVersion reaches
// every namespace at once.
type Cached[T any] struct {
	backing *cache.Cache
	market  clock.Market
	clk     clock.Clock
	prefix  string
}

// New builds a Cached[T] over the package's shared infrastructure/cache.Cache,
// namespaced by prefix so distinct call sites never collide on key.
func New[T any](market clock.Market, clk clock.Clock, prefix string) *Cached[T] {
	return &Cached[T]{
		backing: shared,
		market:  market,
		clk:     clk,
		prefix:  prefix,
	}
}

// Get returns the cached value for key, computing and storing it via
// compute when absent or expired. A compute error is never cached.
func (c *Cached[T]) Get(ctx context.Context, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	fullKey := c.prefix + ":" + key

	if v, ok := c.backing.Get(fullKey); ok {
		typed, ok := v.(T)
		if ok {
			return typed, nil
		}
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("compute %s: %w", fullKey, err)
	}

	c.backing.Set(fullKey, value, c.market.EffectiveTTL(c.clk.Now()))
	return value, nil
}

// Invalidate drops a single cached entry, used when a write makes a
// previously cached read stale (e.g. after a job's upsert completes).
func (c *Cached[T]) Invalidate(key string) {
	c.backing.Invalidate(c.prefix + ":" + key)
}

// InvalidateAll drops every entry under this cache's namespace.
func (c *Cached[T]) InvalidateAll() {
	c.backing.InvalidatePattern(c.prefix + ":")
}
