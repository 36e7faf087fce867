package dual

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/unillm/caches/memory"
	"github.com/blueberrycongee/unillm/caches/redis"
	"github.com/blueberrycongee/unillm/caches/sqlite"
	"github.com/blueberrycongee/unillm/pkg/types"
)

func newLocal(t *testing.T) *memory.Cache {
	t.Helper()
	return memory.New(memory.Config{MaxEntries: 100, DefaultTTL: time.Minute, CleanupInterval: time.Hour})
}

func TestCache_BackfillFromRedis(t *testing.T) {
	s := miniredis.RunT(t)
	rcfg := redis.DefaultConfig()
	rcfg.Addr = s.Addr()
	remote, err := redis.New(rcfg)
	require.NoError(t, err)

	local := newLocal(t)
	c := New(local, remote, DefaultConfig())
	defer c.Close()
	ctx := context.Background()

	// Written by another process straight into L2.
	require.NoError(t, remote.Put(ctx, "k", &types.InferenceOutput{Text: "shared"}, 0))

	e, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "shared", e.Output.Text)
	assert.Equal(t, int64(1), c.GetDetailedStats().RemoteHits)
	assert.Equal(t, int64(1), c.GetDetailedStats().Backfills)

	localEntry, err := local.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, localEntry, "L2 hit is copied into L1")

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.GetDetailedStats().LocalHits)
}

func TestCache_WriteThroughBothTiers(t *testing.T) {
	remote, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "l2.db")})
	require.NoError(t, err)
	local := newLocal(t)
	c := New(local, remote, DefaultConfig())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", &types.InferenceOutput{Text: "both"}, 0))

	le, err := local.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, le)
	assert.Equal(t, 5*time.Minute, le.TTL, "L1 lifetime is capped by LocalTTL")

	re, err := remote.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, re)
	assert.Equal(t, 24*time.Hour, re.TTL)

	require.NoError(t, c.Delete(ctx, "k"))
	e, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_LocalOnly(t *testing.T) {
	c := New(newLocal(t), nil, Config{})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", &types.InferenceOutput{Text: "x"}, time.Second))
	e, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, time.Second, e.TTL, "shorter put TTL wins over LocalTTL")

	n, err := c.Purge(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, c.Ping(ctx))
}
