package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func setupTestRedis(t *testing.T) (*CartCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCartCache(client, time.Minute), mr
}

func TestCartCache_SetGetDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	cart := domain.Cart{
		ID:     "cart-1",
		UserID: "user-1",
		Lines: []domain.CartLine{
			{ProductID: 1, Quantity: 2, PriceSnapshot: decimal.RequireFromString("10.50")},
		},
	}
	stored, err := cache.Set(ctx, cart, 0)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("cart:user-1"))

	ttl := mr.TTL("cart:user-1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+6*time.Second)

	got, err := cache.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Lines[0].PriceSnapshot.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "cart-1", got.ID)

	require.NoError(t, cache.Delete(ctx, "user-1"))
	_, err = cache.Get(ctx, "user-1")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestCartCache_SetSkipsSnapshotOlderThanInvalidation(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	gen, err := cache.Generation(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, cache.Delete(ctx, "user-1"))
	stale := domain.Cart{ID: "cart-1", UserID: "user-1", Lines: []domain.CartLine{{ProductID: 1, Quantity: 1}}}
	stored, err := cache.Set(ctx, stale, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("cart:user-1"))

	current, err := cache.Generation(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	assert.Greater(t, mr.TTL("cart-gen:user-1"), time.Duration(0))

	stored, err = cache.Set(ctx, stale, current)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("cart:user-1"))
}

func TestCartCache_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCartCache_CorruptedPayload(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("cart:user-1", "{not json"))

	_, err := cache.Get(context.Background(), "user-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestCartCache_RedisDown(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	ctx := context.Background()
	_, err := cache.Get(ctx, "user-1")
	require.Error(t, err)
	assert.Error(t, cache.Ping(ctx))
}
