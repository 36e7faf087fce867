// Package sqlite provides an on-disk cache store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key  TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
`

// Config holds configuration for the SQLite store.
type Config struct {
	Path       string        `yaml:"path"`        // Database file (default: unillm-cache.db)
	DefaultTTL time.Duration `yaml:"default_ttl"` // Default TTL (default: 24 hours, negative disables)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:       "unillm-cache.db",
		DefaultTTL: 24 * time.Hour,
	}
}

// Cache stores encoded entries in a single table keyed by cache key.
type Cache struct {
	db         *sql.DB
	defaultTTL time.Duration
	now        func() time.Time

	stats cache.Counters
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New opens (and if needed creates) the database at cfg.Path.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, defaultTTL: cfg.DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the entry for key; expired rows are deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	var payload []byte
	var expiresAt int64

	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?`, string(key),
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.stats.Misses.Add(1)
		return nil, nil
	}
	if err != nil {
		c.stats.Errors.Add(1)
		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	now := c.now()
	if expiresAt > 0 && now.UnixNano() >= expiresAt {
		c.stats.Misses.Add(1)
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cache_key = ? AND expires_at = ?`, string(key), expiresAt,
		); err != nil {
			c.stats.Errors.Add(1)
		}
		return nil, nil
	}

	entry, err := cache.Decode(payload)
	if err != nil {
		c.stats.Errors.Add(1)
		return nil, err
	}
	c.stats.Hits.Add(1)
	return entry, nil
}

// Put upserts the entry for key.
func (c *Cache) Put(ctx context.Context, key cache.Key, output *types.InferenceOutput, ttl time.Duration) error {
	entry := cache.NewEntry(key, output, cache.ResolveTTL(ttl, c.defaultTTL), c.now())
	payload, err := cache.Encode(entry)
	if err != nil {
		return err
	}

	var expiresAt int64
	if exp := entry.ExpiresAt(); !exp.IsZero() {
		expiresAt = exp.UnixNano()
	}

	if _, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, payload, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		string(key), payload, entry.CreatedAt.UnixNano(), expiresAt,
	); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("sqlite put: %w", err)
	}
	c.stats.Sets.Add(1)
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key cache.Key) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, string(key)); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("sqlite delete: %w", err)
	}
	c.stats.Deletes.Add(1)
	return nil
}

// Purge removes expired rows, or every row when expiredOnly is false.
func (c *Cache) Purge(ctx context.Context, expiredOnly bool) (int, error) {
	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		res, err = c.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?`, c.now().UnixNano())
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return int(n), nil
}

// Len returns the number of stored rows, expired or not.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

// Ping checks the database handle.
func (c *Cache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	return c.stats.Snapshot()
}
