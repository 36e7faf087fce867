// Package memory provides an in-process LRU cache store with TTL expiry.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Cache is an entry-count bounded LRU. Expired entries are removed lazily on
// Get and by a periodic sweep.
type Cache struct {
	mu    sync.Mutex
	items map[cache.Key]*list.Element
	order *list.List // front = most recently used

	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once

	stats cache.Counters
}

// Config holds configuration for Cache.
type Config struct {
	MaxEntries      int           `yaml:"max_entries"`      // Maximum number of entries (default: 1000)
	DefaultTTL      time.Duration `yaml:"default_ttl"`      // Default TTL (default: 1 hour, negative disables)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Sweep interval (default: 1 minute)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Option customizes a Cache beyond its Config.
type Option func(*Cache)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a new in-memory cache and starts its sweeper.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	c := &Cache{
		items:       make(map[cache.Key]*list.Element),
		order:       list.New(),
		maxEntries:  cfg.MaxEntries,
		defaultTTL:  cfg.DefaultTTL,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
	go c.cleanupLoop()

	return c
}

func (c *Cache) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.evictExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if entry := el.Value.(*cache.Entry); entry.Expired(now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// removeElement must be called with mu held.
func (c *Cache) removeElement(el *list.Element) {
	entry := el.Value.(*cache.Entry)
	c.order.Remove(el)
	delete(c.items, entry.Key)
}

// Get returns the entry for key and marks it most recently used.
func (c *Cache) Get(_ context.Context, key cache.Key) (*cache.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses.Add(1)
		return nil, nil
	}

	entry := el.Value.(*cache.Entry)
	if entry.Expired(c.now()) {
		c.removeElement(el)
		c.stats.Misses.Add(1)
		return nil, nil
	}

	c.order.MoveToFront(el)
	c.stats.Hits.Add(1)

	out := *entry
	out.Output = *entry.Output.Clone()
	return &out, nil
}

// Put stores output, evicting the least recently used entry at capacity.
func (c *Cache) Put(_ context.Context, key cache.Key, output *types.InferenceOutput, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cache.NewEntry(key, output, cache.ResolveTTL(ttl, c.defaultTTL), c.now())

	if el, ok := c.items[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		c.stats.Sets.Add(1)
		return nil
	}

	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.stats.Evictions.Add(1)
	}

	c.items[key] = c.order.PushFront(entry)
	c.stats.Sets.Add(1)
	return nil
}

// Delete removes a key from the cache.
func (c *Cache) Delete(_ context.Context, key cache.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		c.stats.Deletes.Add(1)
	}
	return nil
}

// Purge drops expired entries, or all entries when expiredOnly is false.
func (c *Cache) Purge(_ context.Context, expiredOnly bool) (int, error) {
	if expiredOnly {
		return c.evictExpired(), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.order.Len()
	c.items = make(map[cache.Key]*list.Element)
	c.order.Init()
	return n, nil
}

// Ping always returns nil for memory cache.
func (c *Cache) Ping(context.Context) error {
	return nil
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
	})
	return nil
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	return c.stats.Snapshot()
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
