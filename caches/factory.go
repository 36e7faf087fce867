// Package caches builds cache stores from configuration. Each driver lives in
// its own subpackage; New selects one by type.
package caches

import (
	"context"
	"fmt"

	"github.com/blueberrycongee/unillm/caches/dual"
	"github.com/blueberrycongee/unillm/caches/jsonfile"
	"github.com/blueberrycongee/unillm/caches/memory"
	"github.com/blueberrycongee/unillm/caches/postgres"
	"github.com/blueberrycongee/unillm/caches/redis"
	"github.com/blueberrycongee/unillm/caches/s3"
	"github.com/blueberrycongee/unillm/caches/sqlite"
	"github.com/blueberrycongee/unillm/pkg/cache"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
)

// Type re-exports cache types for convenience.
type Type = cache.Type

// Cache type constants.
const (
	TypeMemory   = cache.TypeMemory
	TypeSQLite   = cache.TypeSQLite
	TypeJSONFile = cache.TypeJSONFile
	TypeRedis    = cache.TypeRedis
	TypeS3       = cache.TypeS3
	TypePostgres = cache.TypePostgres
	TypeDual     = cache.TypeDual
)

// Re-export config types for convenience.
type (
	MemoryConfig   = memory.Config
	SQLiteConfig   = sqlite.Config
	JSONFileConfig = jsonfile.Config
	RedisConfig    = redis.Config
	S3Config       = s3.Config
	PostgresConfig = postgres.Config
)

// DualConfig selects the L2 store placed behind an in-memory L1.
type DualConfig struct {
	Remote      Type `yaml:"remote"`
	dual.Config `yaml:",inline"`
}

// Config selects and configures one store.
type Config struct {
	Type     Type           `yaml:"type"`
	Memory   MemoryConfig   `yaml:"memory"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	JSONFile JSONFileConfig `yaml:"jsonfile"`
	Redis    RedisConfig    `yaml:"redis"`
	S3       S3Config       `yaml:"s3"`
	Postgres PostgresConfig `yaml:"postgres"`
	Dual     DualConfig     `yaml:"dual"`
}

// DefaultConfig returns defaults for every driver with the memory store selected.
func DefaultConfig() Config {
	return Config{
		Type:     TypeMemory,
		Memory:   memory.DefaultConfig(),
		SQLite:   sqlite.DefaultConfig(),
		JSONFile: jsonfile.DefaultConfig(),
		Redis:    redis.DefaultConfig(),
		S3:       s3.DefaultConfig(),
		Postgres: postgres.DefaultConfig(),
		Dual:     DualConfig{Remote: TypeRedis, Config: dual.DefaultConfig()},
	}
}

// New opens the store selected by cfg.Type. An unknown type or a failure to
// reach the store is reported wrapped in errors.ErrInvalidConfig.
func New(ctx context.Context, cfg Config) (cache.Store, error) {
	switch cfg.Type {
	case TypeDual:
		if cfg.Dual.Remote == TypeDual || cfg.Dual.Remote == TypeMemory {
			return nil, fmt.Errorf("%w: dual cache remote must be a shared store, got %q",
				llmerrors.ErrInvalidConfig, cfg.Dual.Remote)
		}
		sub := cfg
		sub.Type = cfg.Dual.Remote
		remote, err := New(ctx, sub)
		if err != nil {
			return nil, err
		}
		return dual.New(memory.New(cfg.Memory), remote, cfg.Dual.Config), nil
	default:
		return newSingle(ctx, cfg)
	}
}

func newSingle(ctx context.Context, cfg Config) (cache.Store, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.Type {
	case TypeMemory, "":
		store = memory.New(cfg.Memory)
	case TypeSQLite:
		store, err = sqlite.New(cfg.SQLite)
	case TypeJSONFile:
		store, err = jsonfile.New(cfg.JSONFile)
	case TypeRedis:
		store, err = redis.New(cfg.Redis)
	case TypeS3:
		store, err = s3.New(ctx, cfg.S3)
	case TypePostgres:
		store, err = postgres.New(cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: unknown cache type %q", llmerrors.ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s cache: %v", llmerrors.ErrInvalidConfig, cfg.Type, err)
	}
	return store, nil
}
