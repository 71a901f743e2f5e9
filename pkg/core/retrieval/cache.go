package retrieval

import (
	"context"
	"sync"
	"time"
)

const (
	defaultTTL           = 300 * time.Second
	defaultSweepInterval = 60 * time.Second
)

type memoryEntry struct {
	res        Result
	insertedAt time.Time
}

// MemoryCache is an in-process TTL cache. Entries are expired lazily on read
// and swept periodically by a janitor goroutine.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryCache creates a cache with the given TTL (<= 0 uses the 300s
// default) and starts its sweep janitor. Call Close to stop the janitor.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := newMemoryCache(ttl, time.Now)
	go c.sweepLoop(defaultSweepInterval)
	return c
}

func newMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Get returns the cached result for (mode, query). A read past TTL is a
// miss, not an error, and removes the stale entry.
func (c *MemoryCache) Get(_ context.Context, mode, query string) (Result, bool) {
	key := CacheKey(mode, query)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.res, true
}

// Set stores a result for (mode, query).
func (c *MemoryCache) Set(_ context.Context, mode, query string, res Result) {
	key := CacheKey(mode, query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{res: res, insertedAt: c.now()}
}

// Len returns the number of live entries, counting stale ones not yet swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweep janitor.
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.Sub(entry.insertedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}
