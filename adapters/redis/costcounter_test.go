package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*CostCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCostCounterStore(client), mr
}

func TestIncrByAccumulates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrBy(ctx, "budget:caller:a:20260115", 50, 24*time.Hour))
	require.NoError(t, store.IncrBy(ctx, "budget:caller:a:20260115", 50, 24*time.Hour))

	vals, err := store.GetMulti(ctx, "budget:caller:a:20260115")
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, vals)
}

func TestIncrByArmsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrBy(ctx, "budget:global:hour:2026011513", 25, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("budget:global:hour:2026011513"))

	// Expiry clears the window.
	mr.FastForward(time.Hour + time.Second)
	vals, err := store.GetMulti(ctx, "budget:global:hour:2026011513")
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, vals)
}

func TestGetMultiMissingKeysReadZero(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrBy(ctx, "k2", 7, time.Hour))

	vals, err := store.GetMulti(ctx, "k1", "k2", "k3")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 7, 0}, vals)
}

func TestPingFailsWhenDown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	mr.Close()
	assert.Error(t, store.Ping(ctx))
}
