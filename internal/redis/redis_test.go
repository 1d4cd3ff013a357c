package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*TopicCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return NewTopicCache(client, time.Minute), mr
}

func TestTopicCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)

	_, ok, err := cache.Get(ctx, "devices/light-101/status")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "devices/light-101/status", "dev-1"))
	id, ok, err := cache.Get(ctx, "devices/light-101/status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dev-1", id)
}

func TestTopicCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache, mr := newCache(t)

	require.NoError(t, cache.Set(ctx, "devices/a/energy", "dev-a"))
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, "devices/a/energy")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopicCacheInvalidateDevice(t *testing.T) {
	ctx := context.Background()
	cache, mr := newCache(t)

	require.NoError(t, cache.Set(ctx, "devices/a/status", "dev-a"))
	require.NoError(t, cache.Set(ctx, "devices/a/energy", "dev-a"))
	require.NoError(t, cache.Set(ctx, "devices/b/status", "dev-b"))

	require.NoError(t, cache.InvalidateDevice(ctx, "dev-a"))

	for _, topic := range []string{"devices/a/status", "devices/a/energy"} {
		_, ok, err := cache.Get(ctx, topic)
		require.NoError(t, err)
		assert.False(t, ok, topic)
	}
	id, ok, err := cache.Get(ctx, "devices/b/status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dev-b", id)
	assert.False(t, mr.Exists(deviceKeyPrefix+"dev-a"))

	// invalidating an unknown device is harmless
	require.NoError(t, cache.InvalidateDevice(ctx, "dev-missing"))
}

func TestTopicCacheInvalidateTopic(t *testing.T) {
	ctx := context.Background()
	cache, mr := newCache(t)

	require.NoError(t, cache.Set(ctx, "devices/a/status", "dev-a"))
	require.NoError(t, cache.Set(ctx, "devices/a/energy", "dev-a"))

	require.NoError(t, cache.InvalidateTopic(ctx, "devices/a/status"))
	_, ok, err := cache.Get(ctx, "devices/a/status")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = cache.Get(ctx, "devices/a/energy")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := mr.Members(deviceKeyPrefix + "dev-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"devices/a/energy"}, members)

	require.NoError(t, cache.InvalidateTopic(ctx, "devices/never-seen"))
}
