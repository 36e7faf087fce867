// Package cache defines the storage contract for generated outputs and the
// deterministic key derivation used to address them.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/unillm/pkg/types"
)

// Type represents the type of cache backend.
type Type string

const (
	TypeMemory   Type = "memory"   // In-process LRU
	TypeSQLite   Type = "sqlite"   // On-disk SQLite file
	TypeJSONFile Type = "jsonfile" // Directory of JSON documents
	TypeRedis    Type = "redis"    // Redis / Redis Cluster / Sentinel
	TypeS3       Type = "s3"       // S3-compatible object store
	TypePostgres Type = "postgres" // Table in a PostgreSQL database
	TypeDual     Type = "dual"     // Memory L1 in front of another store
)

// Store is the pluggable persistence layer for outputs.
//
// Implementations must be safe for concurrent use. Entries are immutable
// once written; Put on an existing key replaces the entry as a whole.
type Store interface {
	// Get returns the entry for key, or nil, nil on a miss. Expired entries
	// are reported as misses and may be removed.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put stores output under key. A zero ttl selects the store default and
	// a negative ttl disables expiry.
	Put(ctx context.Context, key Key, output *types.InferenceOutput, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error

	// Stats returns counters since the store was opened.
	Stats() Stats
}

// Purger is implemented by stores that can drop entries in bulk.
type Purger interface {
	// Purge removes expired entries, or every entry when expiredOnly is false.
	// It returns the number of entries removed.
	Purge(ctx context.Context, expiredOnly bool) (int, error)
}

// Entry is one stored output.
type Entry struct {
	Key       Key                   `json:"key"`
	Output    types.InferenceOutput `json:"output"`
	CreatedAt time.Time             `json:"created_at"`
	// TTL is the resolved lifetime; zero means the entry never expires.
	TTL time.Duration `json:"ttl"`
}

// NewEntry builds an entry with a resolved ttl.
func NewEntry(key Key, output *types.InferenceOutput, ttl time.Duration, now time.Time) *Entry {
	e := &Entry{Key: key, CreatedAt: now.UTC(), TTL: ttl}
	if output != nil {
		e.Output = *output.Clone()
		e.Output.Cached = false
	}
	return e
}

// ExpiresAt returns the expiry instant, or the zero time if the entry never expires.
func (e *Entry) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

// ResolveTTL applies the Put ttl convention: zero selects def, negative
// disables expiry. The result is zero when the entry should not expire.
func ResolveTTL(ttl, def time.Duration) time.Duration {
	if ttl == 0 {
		ttl = def
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Stats holds cache statistics for monitoring.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Evictions int64   `json:"evictions"`
	Errors    int64   `json:"errors"`
	HitRate   float64 `json:"hit_rate"`
}

// Counters is an embeddable set of atomic counters backing Stats.
type Counters struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Deletes   atomic.Int64
	Evictions atomic.Int64
	Errors    atomic.Int64
}

// Snapshot converts the counters to Stats.
func (c *Counters) Snapshot() Stats {
	hits := c.Hits.Load()
	misses := c.Misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.Sets.Load(),
		Deletes:   c.Deletes.Load(),
		Evictions: c.Evictions.Load(),
		Errors:    c.Errors.Load(),
		HitRate:   hitRate,
	}
}
