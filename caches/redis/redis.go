// Package redis provides a Redis-based cache store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/unillm/caches/jsonfile"
	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Cache implements cache.Store using Redis as backend.
type Cache struct {
	client     goredis.UniversalClient
	namespace  string
	defaultTTL time.Duration
	now        func() time.Time

	stats cache.Counters
}

// Config holds configuration for Redis Cache.
type Config struct {
	// Single node configuration
	Addr     string `yaml:"addr"`     // Redis address (e.g., "localhost:6379")
	Password string `yaml:"password"` // Redis password
	DB       int    `yaml:"db"`       // Redis database number

	// Cluster configuration
	ClusterAddrs []string `yaml:"cluster_addrs"` // Redis cluster addresses

	// Sentinel configuration
	SentinelAddrs  []string `yaml:"sentinel_addrs"`  // Sentinel addresses
	SentinelMaster string   `yaml:"sentinel_master"` // Sentinel master name

	// Common configuration
	Namespace    string        `yaml:"namespace"`     // Key namespace prefix
	DefaultTTL   time.Duration `yaml:"default_ttl"`   // Default TTL (default: 1 hour, negative disables)
	DialTimeout  time.Duration `yaml:"dial_timeout"`  // Connection timeout
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Read timeout
	WriteTimeout time.Duration `yaml:"write_timeout"` // Write timeout
	PoolSize     int           `yaml:"pool_size"`     // Connection pool size
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`

	// PreloadDir, when set, is imported with Preload right after connecting.
	PreloadDir string `yaml:"preload_dir"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Namespace:    "unillm",
		DefaultTTL:   time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// New creates a Redis client for the configured topology and checks it.
func New(cfg Config) (*Cache, error) {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	var client goredis.UniversalClient
	switch {
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c := NewFromClient(client, cfg.Namespace, cfg.DefaultTTL)

	if cfg.PreloadDir != "" {
		if _, err := c.Preload(context.Background(), cfg.PreloadDir); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client goredis.UniversalClient, namespace string, defaultTTL time.Duration) *Cache {
	if defaultTTL == 0 {
		defaultTTL = time.Hour
	}
	return &Cache{
		client:     client,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// prefixKey adds namespace prefix to the key.
func (c *Cache) prefixKey(key cache.Key) string {
	if c.namespace == "" {
		return string(key)
	}
	return c.namespace + ":" + string(key)
}

// Get retrieves and decodes an entry.
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.stats.Misses.Add(1)
			return nil, nil
		}
		c.stats.Errors.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := cache.Decode(val)
	if err != nil {
		c.stats.Errors.Add(1)
		return nil, err
	}
	// Redis expires keys itself; this covers clock skew between writers.
	if entry.Expired(c.now()) {
		c.stats.Misses.Add(1)
		return nil, nil
	}

	c.stats.Hits.Add(1)
	return entry, nil
}

// Put stores the entry with a native Redis TTL.
func (c *Cache) Put(ctx context.Context, key cache.Key, output *types.InferenceOutput, ttl time.Duration) error {
	entry := cache.NewEntry(key, output, cache.ResolveTTL(ttl, c.defaultTTL), c.now())
	return c.set(ctx, entry, entry.TTL)
}

func (c *Cache) set(ctx context.Context, entry *cache.Entry, ttl time.Duration) error {
	data, err := cache.Encode(entry)
	if err != nil {
		return err
	}
	// A zero expiration means no expiry for go-redis.
	if err := c.client.Set(ctx, c.prefixKey(entry.Key), data, ttl).Err(); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	c.stats.Sets.Add(1)
	return nil
}

// Delete removes a key from Redis.
func (c *Cache) Delete(ctx context.Context, key cache.Key) error {
	if err := c.client.Del(ctx, c.prefixKey(key)).Err(); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	c.stats.Deletes.Add(1)
	return nil
}

// Preload imports every entry of a JSON cache directory (the jsonfile
// layout) into Redis, keeping each entry's remaining lifetime. Expired
// entries are skipped. It returns the number of keys written.
func (c *Cache) Preload(ctx context.Context, dir string) (int, error) {
	entries, err := jsonfile.ReadDir(dir, slog.Default())
	if err != nil {
		return 0, err
	}

	now := c.now()
	pipe := c.client.Pipeline()
	n := 0
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		var ttl time.Duration
		if exp := e.ExpiresAt(); !exp.IsZero() {
			ttl = exp.Sub(now)
		}
		data, err := cache.Encode(e)
		if err != nil {
			return 0, err
		}
		pipe.Set(ctx, c.prefixKey(e.Key), data, ttl)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.stats.Errors.Add(1)
		return 0, fmt.Errorf("redis preload: %w", err)
	}
	c.stats.Sets.Add(int64(n))
	return n, nil
}

// Purge deletes every key in the namespace. Redis drops expired keys on its
// own, so expiredOnly purges nothing.
func (c *Cache) Purge(ctx context.Context, expiredOnly bool) (int, error) {
	if expiredOnly {
		return 0, nil
	}
	if c.namespace == "" {
		return 0, errors.New("redis purge requires a namespace")
	}

	removed := 0
	iter := c.client.Scan(ctx, 0, c.namespace+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis purge: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis purge: %w", err)
	}
	return removed, nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	return c.stats.Snapshot()
}
