// SPDX-License-Identifier: GPL-3.0-or-later

package dns

import (
	"log/slog"
	"sync"
	"time"

	"github.com/webengine-project/netcore"
)

// CacheStats is a point-in-time snapshot of cache hit/miss counters.
type CacheStats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Cache is a TTL-aware cache of resolve results, keyed by hostname.
// All mutation happens through its own methods; callers never touch the
// underlying map, satisfying the shared-mutable-store policy of §5.
type Cache struct {
	// Logger is the SLogger to use for the cleanup-pass statistics
	// snapshot (a supplemental observability feature; does not affect
	// cache semantics).
	Logger netcore.SLogger

	// TimeNow is the function to get the current time (configurable
	// for testing).
	TimeNow func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    uint64
	misses  uint64

	stopCh chan struct{}
}

// NewCache returns an empty *Cache.
func NewCache() *Cache {
	return &Cache{
		Logger:  netcore.DefaultSLogger(),
		TimeNow: time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached result for hostname if present and fresh. A
// stale entry is deleted as a side effect and counted as a miss,
// matching has's side effects.
func (c *Cache) Get(hostname string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(hostname)
}

func (c *Cache) getLocked(hostname string) (Result, bool) {
	e, ok := c.entries[hostname]
	if !ok {
		c.misses++
		return Result{}, false
	}
	if c.TimeNow().After(e.expiresAt) {
		delete(c.entries, hostname)
		c.misses++
		return Result{}, false
	}
	c.hits++
	return e.result, true
}

// Has reports whether hostname has a fresh entry, with the same
// hit/miss/eviction side effects as Get.
func (c *Cache) Has(hostname string) bool {
	_, ok := c.Get(hostname)
	return ok
}

// Set stores result, overwriting any existing entry for its hostname.
func (c *Cache) Set(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[result.Hostname] = cacheEntry{
		result:    result,
		expiresAt: c.TimeNow().Add(result.TTL),
	}
}

// Cleanup scans the cache and evicts every stale entry, then logs a
// statistics snapshot.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	now := c.TimeNow()
	for host, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, host)
		}
	}
	stats := c.statsLocked()
	c.mu.Unlock()

	c.Logger.Info(
		"dnsCacheCleanup",
		slog.Int("size", stats.Size),
		slog.Uint64("hits", stats.Hits),
		slog.Uint64("misses", stats.Misses),
		slog.Float64("hitRate", stats.HitRate),
		slog.Time("t", now),
	)
}

// GetStats returns a snapshot of cache hit/miss counters.
func (c *Cache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() CacheStats {
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = 100 * float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// StartAutoCleanup starts a background timer that calls Cleanup every
// interval until StopAutoCleanup is called. Calling it twice without an
// intervening stop is a programmer error and replaces the prior timer.
func (c *Cache) StartAutoCleanup(interval time.Duration) {
	c.mu.Lock()
	if c.stopCh != nil {
		close(c.stopCh)
	}
	stop := make(chan struct{})
	c.stopCh = stop
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// StopAutoCleanup stops the auto-cleanup timer started by
// StartAutoCleanup, if any.
func (c *Cache) StopAutoCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}
