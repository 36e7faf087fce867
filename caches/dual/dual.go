// Package dual provides a two-tier cache: a fast local store (L1) in front
// of a shared or persistent store (L2).
package dual

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Cache implements a two-tier cache.
// Writes go to both tiers, reads check L1 first then L2 with backfill.
type Cache struct {
	local  cache.Store
	remote cache.Store
	config Config
	now    func() time.Time

	localHits  atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
	backfills  atomic.Int64
	errs       atomic.Int64
}

// Config holds configuration for dual Cache.
type Config struct {
	LocalTTL time.Duration `yaml:"local_ttl"` // Upper bound on L1 lifetime (default: 5 minutes)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{LocalTTL: 5 * time.Minute}
}

// New creates a new dual-tier cache. remote may be nil, in which case the
// cache behaves like local alone.
func New(local, remote cache.Store, cfg Config) *Cache {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 5 * time.Minute
	}
	return &Cache{
		local:  local,
		remote: remote,
		config: cfg,
		now:    time.Now,
	}
}

// localTTL caps the L1 lifetime by what remains of the L2 entry.
func (c *Cache) localTTL(e *cache.Entry) time.Duration {
	ttl := c.config.LocalTTL
	if exp := e.ExpiresAt(); !exp.IsZero() {
		if remaining := exp.Sub(c.now()); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// Get checks L1 then L2, backfilling L1 on an L2 hit.
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	if e, err := c.local.Get(ctx, key); err == nil && e != nil {
		c.localHits.Add(1)
		return e, nil
	}

	if c.remote != nil {
		e, err := c.remote.Get(ctx, key)
		if err != nil {
			c.errs.Add(1)
			return nil, err
		}
		if e != nil {
			c.remoteHits.Add(1)
			if ttl := c.localTTL(e); ttl > 0 {
				// Backfill is best-effort; a failure only costs a later L2 read.
				_ = c.local.Put(ctx, key, &e.Output, ttl) //nolint:errcheck
				c.backfills.Add(1)
			}
			return e, nil
		}
	}

	c.misses.Add(1)
	return nil, nil
}

// Put stores the output in both tiers. The L2 write determines success.
func (c *Cache) Put(ctx context.Context, key cache.Key, output *types.InferenceOutput, ttl time.Duration) error {
	localTTL := c.config.LocalTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	localErr := c.local.Put(ctx, key, output, localTTL)

	if c.remote == nil {
		return localErr
	}
	if err := c.remote.Put(ctx, key, output, ttl); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key cache.Key) error {
	_ = c.local.Delete(ctx, key) //nolint:errcheck // best-effort local delete
	if c.remote != nil {
		return c.remote.Delete(ctx, key)
	}
	return nil
}

// Purge purges both tiers when they support it.
func (c *Cache) Purge(ctx context.Context, expiredOnly bool) (int, error) {
	var total int
	var errs []error
	for _, s := range []cache.Store{c.local, c.remote} {
		p, ok := s.(cache.Purger)
		if !ok {
			continue
		}
		n, err := p.Purge(ctx, expiredOnly)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Ping checks both tiers.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.Ping(ctx)
	}
	return nil
}

// Close closes both tiers.
func (c *Cache) Close() error {
	errs := []error{c.local.Close()}
	if c.remote != nil {
		errs = append(errs, c.remote.Close())
	}
	return errors.Join(errs...)
}

// Stats returns combined statistics.
func (c *Cache) Stats() cache.Stats {
	localHits := c.localHits.Load()
	remoteHits := c.remoteHits.Load()
	misses := c.misses.Load()
	hits := localHits + remoteHits
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	stats := cache.Stats{
		Hits:    hits,
		Misses:  misses,
		Errors:  c.errs.Load(),
		HitRate: hitRate,
	}
	if c.remote != nil {
		rs := c.remote.Stats()
		stats.Sets = rs.Sets
		stats.Deletes = rs.Deletes
	} else {
		ls := c.local.Stats()
		stats.Sets = ls.Sets
		stats.Deletes = ls.Deletes
	}
	stats.Evictions = c.local.Stats().Evictions
	return stats
}

// DetailedStats breaks hits down by tier.
type DetailedStats struct {
	LocalHits  int64 `json:"local_hits"`
	RemoteHits int64 `json:"remote_hits"`
	Misses     int64 `json:"misses"`
	Backfills  int64 `json:"backfills"`
}

// GetDetailedStats returns per-tier counters.
func (c *Cache) GetDetailedStats() DetailedStats {
	return DetailedStats{
		LocalHits:  c.localHits.Load(),
		RemoteHits: c.remoteHits.Load(),
		Misses:     c.misses.Load(),
		Backfills:  c.backfills.Load(),
	}
}
