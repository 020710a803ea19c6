package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCacheKey(principal, tenant string) CacheKey {
	return CacheKey{
		PrincipalID: principal,
		TenantID:    tenant,
		Resource:    ResourceDocument,
		Action:      ActionView,
	}
}

func TestCacheKeyIsTenantScoped(t *testing.T) {
	a := testCacheKey("u1", "T1")
	b := testCacheKey("u1", "T2")
	assert.NotEqual(t, a.String(), b.String())

	withID := a
	withID.ResourceID = "d1"
	assert.NotEqual(t, a.String(), withID.String())
	assert.Contains(t, a.String(), ":*")
}

func TestCacheLocalOnlyRoundTrip(t *testing.T) {
	cache := NewCache(nil, 16, time.Minute, nil)
	key := testCacheKey("u1", "T1")

	_, ok := cache.Get(context.Background(), key)
	assert.False(t, ok)

	cache.Set(context.Background(), key, true, ReasonDirect)
	entry, ok := cache.Get(context.Background(), key)
	require.True(t, ok)
	assert.True(t, entry.Allowed)
	assert.Equal(t, ReasonDirect, entry.Reason)
}

func TestCacheInvalidateIsPairScoped(t *testing.T) {
	cache := NewCache(nil, 16, time.Minute, nil)
	ctx := context.Background()
	keyA := testCacheKey("u1", "T1")
	keyB := testCacheKey("u2", "T1")

	cache.Set(ctx, keyA, true, ReasonDirect)
	cache.Set(ctx, keyB, false, ReasonNoGrant)

	require.NoError(t, cache.Invalidate(ctx, "u1", "T1"))

	_, ok := cache.Get(ctx, keyA)
	assert.False(t, ok, "invalidated pair must miss")
	_, ok = cache.Get(ctx, keyB)
	assert.True(t, ok, "other pair must be untouched")
}

func TestCacheSharedLayerPromotion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	writer := NewCache(client, 16, time.Minute, nil)
	reader := NewCache(client, 16, time.Minute, nil)
	ctx := context.Background()
	key := testCacheKey("u1", "T1")

	writer.Set(ctx, key, true, ReasonImplied)

	entry, ok := reader.Get(ctx, key)
	require.True(t, ok, "second instance must hit via shared layer")
	assert.True(t, entry.Allowed)
	assert.Equal(t, ReasonImplied, entry.Reason)
}

func TestCacheSharedInvalidationCrossInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	writer := NewCache(client, 16, time.Minute, nil)
	reader := NewCache(client, 16, time.Minute, nil)
	ctx := context.Background()
	key := testCacheKey("u1", "T1")

	writer.Set(ctx, key, true, ReasonDirect)
	require.NoError(t, writer.Invalidate(ctx, "u1", "T1"))

	_, ok := reader.Get(ctx, key)
	assert.False(t, ok, "stale shared entry must not serve after invalidation")
}

func TestCacheVersionsAreMonotonic(t *testing.T) {
	cache := NewCache(nil, 16, time.Minute, nil)
	ctx := context.Background()

	before := cache.Version("u1", "T1")
	require.NoError(t, cache.Invalidate(ctx, "u1", "T1"))
	require.NoError(t, cache.Invalidate(ctx, "u1", "T1"))
	assert.Equal(t, before+2, cache.Version("u1", "T1"))
}

func TestCacheDegradesToMissWhenSharedLayerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, 16, time.Minute, nil)
	ctx := context.Background()
	key := testCacheKey("u1", "T1")

	cache.Set(ctx, key, true, ReasonDirect)
	mr.Close()

	// Local entry still fresh, so the hit survives.
	_, ok := cache.Get(ctx, key)
	assert.True(t, ok)

	// A second instance without the local entry degrades to a miss
	// instead of erroring.
	cold := NewCache(client, 16, time.Minute, nil)
	_, ok = cold.Get(ctx, key)
	assert.False(t, ok)

	// Invalidation still takes effect locally even though the shared
	// layer is unreachable.
	err := cache.Invalidate(ctx, "u1", "T1")
	assert.Error(t, err)
	_, ok = cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestCacheSharedEntriesExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	writer := NewCache(client, 16, time.Second, nil)
	ctx := context.Background()
	key := testCacheKey("u1", "T1")

	writer.Set(ctx, key, true, ReasonDirect)
	mr.FastForward(2 * time.Second)

	cold := NewCache(client, 16, time.Second, nil)
	_, ok := cold.Get(ctx, key)
	assert.False(t, ok, "TTL is the safety net for missed invalidations")
}

func TestCacheInvalidateAll(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, 16, time.Minute, nil)
	ctx := context.Background()

	cache.Set(ctx, testCacheKey("u1", "T1"), true, ReasonDirect)
	cache.Set(ctx, testCacheKey("u2", "T2"), true, ReasonDirect)

	require.NoError(t, cache.InvalidateAll(ctx))

	_, ok := cache.Get(ctx, testCacheKey("u1", "T1"))
	assert.False(t, ok)
	_, ok = cache.Get(ctx, testCacheKey("u2", "T2"))
	assert.False(t, ok)
}
