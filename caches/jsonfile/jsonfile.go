// Package jsonfile provides a cache store that keeps one JSON document per
// key in a directory. Entries are served from memory and written back to disk
// in batches once enough of them are dirty.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// Config holds configuration for the JSON directory store.
type Config struct {
	Dir            string        `yaml:"dir"`             // Cache directory (default: ./cache)
	FlushThreshold int           `yaml:"flush_threshold"` // Dirty entries before a flush (default: 10)
	DefaultTTL     time.Duration `yaml:"default_ttl"`     // Default TTL (default: none)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:            "./cache",
		FlushThreshold: 10,
		DefaultTTL:     -1,
	}
}

// Cache is a write-behind directory store.
type Cache struct {
	dir            string
	flushThreshold int
	defaultTTL     time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu      sync.Mutex
	entries map[cache.Key]*cache.Entry
	dirty   map[cache.Key]struct{}
	closed  bool

	stats cache.Counters
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for unreadable files.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates the directory if needed and loads every entry in it.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 10
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = -1
	}

	c := &Cache{
		dir:            cfg.Dir,
		flushThreshold: cfg.FlushThreshold,
		defaultTTL:     cfg.DefaultTTL,
		logger:         slog.Default(),
		now:            time.Now,
		entries:        make(map[cache.Key]*cache.Entry),
		dirty:          make(map[cache.Key]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	files, err := readDir(cfg.Dir, c.logger)
	if err != nil {
		return nil, err
	}
	now := c.now()
	for _, f := range files {
		if f.entry.Expired(now) {
			if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				c.logger.Warn("removing expired cache file", "path", f.path, "error", err)
			}
			continue
		}
		c.entries[f.entry.Key] = f.entry
	}
	return c, nil
}

type diskEntry struct {
	path  string
	entry *cache.Entry
}

// ReadDir decodes every *.json file in dir. Files that cannot be read are
// logged and skipped. Entries without a stored key take the decoded file stem.
func ReadDir(dir string, logger *slog.Logger) ([]*cache.Entry, error) {
	files, err := readDir(dir, logger)
	if err != nil {
		return nil, err
	}
	entries := make([]*cache.Entry, len(files))
	for i, f := range files {
		entries[i] = f.entry
	}
	return entries, nil
}

func readDir(dir string, logger *slog.Logger) ([]diskEntry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}

	files := make([]diskEntry, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable cache file", "path", path, "error", err)
			continue
		}
		e, err := cache.Decode(data)
		if err != nil {
			logger.Warn("skipping corrupt cache file", "path", path, "error", err)
			continue
		}
		if e.Key == "" {
			e.Key = keyFromFileName(filepath.Base(path))
		}
		files = append(files, diskEntry{path: path, entry: e})
	}
	return files, nil
}

// fileName maps a key to a portable file name. Bytes outside [A-Za-z0-9-]
// are written as _xx so distinct keys never share a file.
func fileName(key cache.Key) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		ch := key[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-':
			b.WriteByte(ch)
		default:
			fmt.Fprintf(&b, "_%02x", ch)
		}
	}
	return b.String() + ".json"
}

// keyFromFileName reverses fileName. Malformed escapes are kept literally.
func keyFromFileName(name string) cache.Key {
	stem := strings.TrimSuffix(name, ".json")
	var b strings.Builder
	for i := 0; i < len(stem); i++ {
		if stem[i] == '_' && i+2 < len(stem) {
			if v, err := strconv.ParseUint(stem[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(stem[i])
	}
	return cache.Key(b.String())
}

func (c *Cache) path(key cache.Key) string {
	return filepath.Join(c.dir, fileName(key))
}

// Get returns the in-memory entry for key.
func (c *Cache) Get(_ context.Context, key cache.Key) (*cache.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses.Add(1)
		return nil, nil
	}
	if e.Expired(c.now()) {
		delete(c.entries, key)
		delete(c.dirty, key)
		if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.stats.Errors.Add(1)
		}
		c.stats.Misses.Add(1)
		return nil, nil
	}

	c.stats.Hits.Add(1)
	out := *e
	out.Output = *e.Output.Clone()
	return &out, nil
}

// Put records the entry and flushes once the dirty set reaches the threshold.
func (c *Cache) Put(_ context.Context, key cache.Key, output *types.InferenceOutput, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("jsonfile cache is closed")
	}

	c.entries[key] = cache.NewEntry(key, output, cache.ResolveTTL(ttl, c.defaultTTL), c.now())
	c.dirty[key] = struct{}{}
	c.stats.Sets.Add(1)

	if len(c.dirty) >= c.flushThreshold {
		return c.flushLocked()
	}
	return nil
}

// Delete removes key from memory and disk.
func (c *Cache) Delete(_ context.Context, key cache.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	delete(c.dirty, key)
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.stats.Errors.Add(1)
		return fmt.Errorf("jsonfile delete: %w", err)
	}
	c.stats.Deletes.Add(1)
	return nil
}

// Flush writes every dirty entry to disk.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Cache) flushLocked() error {
	var errs []error
	for key := range c.dirty {
		e, ok := c.entries[key]
		if !ok {
			delete(c.dirty, key)
			continue
		}
		if err := c.writeFile(e); err != nil {
			c.stats.Errors.Add(1)
			errs = append(errs, err)
			continue
		}
		delete(c.dirty, key)
	}
	return errors.Join(errs...)
}

// writeFile replaces the file atomically via rename.
func (c *Cache) writeFile(e *cache.Entry) error {
	data, err := cache.Encode(e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonfile write: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonfile write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonfile write: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(e.Key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonfile write: %w", err)
	}
	return nil
}

// Purge removes expired entries, or all entries when expiredOnly is false.
func (c *Cache) Purge(_ context.Context, expiredOnly bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	var errs []error
	for key, e := range c.entries {
		if expiredOnly && !e.Expired(now) {
			continue
		}
		delete(c.entries, key)
		delete(c.dirty, key)
		if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Ping checks the directory is still accessible.
func (c *Cache) Ping(context.Context) error {
	if _, err := os.Stat(c.dir); err != nil {
		return fmt.Errorf("jsonfile ping: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.flushLocked()
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	return c.stats.Snapshot()
}
