package caches

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/unillm/caches/dual"
	"github.com/blueberrycongee/unillm/caches/jsonfile"
	"github.com/blueberrycongee/unillm/caches/memory"
	"github.com/blueberrycongee/unillm/caches/sqlite"
	"github.com/blueberrycongee/unillm/pkg/cache"
	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/types"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("memory by default", func(t *testing.T) {
		store, err := New(ctx, Config{})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.Cache{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = TypeSQLite
		cfg.SQLite.Path = filepath.Join(t.TempDir(), "c.db")
		store, err := New(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlite.Cache{}, store)
	})

	t.Run("jsonfile", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = TypeJSONFile
		cfg.JSONFile.Dir = t.TempDir()
		store, err := New(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &jsonfile.Cache{}, store)
	})

	t.Run("dual over redis", func(t *testing.T) {
		s := miniredis.RunT(t)
		cfg := DefaultConfig()
		cfg.Type = TypeDual
		cfg.Redis.Addr = s.Addr()
		store, err := New(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &dual.Cache{}, store)

		require.NoError(t, store.Put(ctx, "k", &types.InferenceOutput{Text: "v"}, 0))
		assert.True(t, s.Exists("unillm:k"))
	})

	t.Run("every store round-trips", func(t *testing.T) {
		s := miniredis.RunT(t)
		for _, typ := range []Type{TypeMemory, TypeSQLite, TypeJSONFile, TypeRedis, TypeDual} {
			t.Run(string(typ), func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Type = typ
				cfg.SQLite.Path = filepath.Join(t.TempDir(), "c.db")
				cfg.JSONFile.Dir = t.TempDir()
				cfg.Redis.Addr = s.Addr()
				cfg.Redis.Namespace = "rt-" + string(typ)

				store, err := New(ctx, cfg)
				require.NoError(t, err)
				defer store.Close()

				key := cache.NewKeyDeriver().Derive(types.NewInput("2+2?", ""), nil, "mock", "m")
				require.NoError(t, store.Put(ctx, key, &types.InferenceOutput{Text: "4"}, 0))
				e, err := store.Get(ctx, key)
				require.NoError(t, err)
				require.NotNil(t, e)
				assert.Equal(t, "4", e.Output.Text)
			})
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(ctx, Config{Type: "etcd"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, llmerrors.ErrInvalidConfig))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		s := miniredis.RunT(t)
		addr := s.Addr()
		s.Close()

		cfg := DefaultConfig()
		cfg.Type = TypeRedis
		cfg.Redis.Addr = addr
		cfg.Redis.MaxRetries = -1
		_, err := New(ctx, cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, llmerrors.ErrInvalidConfig))
	})

	t.Run("unreachable postgres", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = TypePostgres
		cfg.Postgres.Host = "127.0.0.1"
		cfg.Postgres.Port = 1
		_, err := New(ctx, cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, llmerrors.ErrInvalidConfig))
	})

	t.Run("dual with memory remote", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = TypeDual
		cfg.Dual.Remote = TypeMemory
		_, err := New(ctx, cfg)
		assert.True(t, errors.Is(err, llmerrors.ErrInvalidConfig))
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = TypeS3
		_, err := New(ctx, cfg)
		assert.True(t, errors.Is(err, llmerrors.ErrInvalidConfig))
	})
}
