// Package postgres provides a cache store in a PostgreSQL table, for teams
// that share one database rather than a Redis instance.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Config contains PostgreSQL connection and table settings. DSN, when set,
// is used as is and the individual connection fields are ignored.
type Config struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	Table        string        `yaml:"table"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
	DefaultTTL   time.Duration `yaml:"default_ttl"` // negative disables expiry
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         5432,
		Database:     "unillm",
		SSLMode:      "disable",
		Table:        "unillm_cache",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
		DefaultTTL:   24 * time.Hour,
	}
}

func (c Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Cache stores encoded entries in one table keyed by cache key. Expired rows
// are invisible to Get and removed by Purge.
type Cache struct {
	db         *sql.DB
	table      string
	defaultTTL time.Duration
	now        func() time.Time

	stats cache.Counters
}

// New connects, checks the connection and creates the table if needed.
func New(cfg Config) (*Cache, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c, err := newWithDB(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func newWithDB(ctx context.Context, db *sql.DB, cfg Config) (*Cache, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultConfig().Table
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}

	c := &Cache{db: db, table: cfg.Table, defaultTTL: cfg.DefaultTTL, now: time.Now}
	if _, err := db.ExecContext(ctx, c.schema()); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}
	return c, nil
}

func (c *Cache) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at)`, c.table)
}

// Get returns the live entry for key.
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM `+c.table+` WHERE cache_key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		string(key), c.now(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		c.stats.Misses.Add(1)
		return nil, nil
	}
	if err != nil {
		c.stats.Errors.Add(1)
		return nil, fmt.Errorf("postgres get: %w", err)
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

	var expiresAt sql.NullTime
	if exp := entry.ExpiresAt(); !exp.IsZero() {
		expiresAt = sql.NullTime{Time: exp, Valid: true}
	}

	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO `+c.table+` (cache_key, payload, created_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE
		SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		string(key), payload, entry.CreatedAt, expiresAt,
	); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("postgres put: %w", err)
	}
	c.stats.Sets.Add(1)
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key cache.Key) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE cache_key = $1`, string(key)); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("postgres delete: %w", err)
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
			`DELETE FROM `+c.table+` WHERE expires_at IS NOT NULL AND expires_at <= $1`, c.now())
	} else {
		res, err = c.db.ExecContext(ctx, `DELETE FROM `+c.table)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return int(n), nil
}

// Len returns the number of stored rows, expired or not.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the connection pool.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	return c.stats.Snapshot()
}
