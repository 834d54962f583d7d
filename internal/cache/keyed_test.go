package cache_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/cache"
)

func TestKeyed_LRUEviction(t *testing.T) {
	c, err := cache.NewKeyed[string, int](cache.Config{MaxEntries: 2})
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)

	// Touch a so b becomes the least recently used.
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestKeyed_ExpiresAfterAccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c, err := cache.NewKeyed[string, string](cache.Config{MaxEntries: 10, TTL: time.Minute, Clock: clock})
	require.NoError(t, err)

	c.Put("k", "v")

	clock.Advance(45 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok, "entry is younger than the ttl")

	// The read above restarted the clock for k.
	clock.Advance(45 * time.Second)
	_, ok = c.Get("k")
	require.True(t, ok, "access should slide the expiry")

	clock.Advance(61 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry should expire after a minute without access")
}

func TestKeyed_PutSweepsExpiredEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c, err := cache.NewKeyed[string, int](cache.Config{MaxEntries: 10, TTL: time.Minute, Clock: clock})
	require.NoError(t, err)

	c.Put("old1", 1)
	c.Put("old2", 2)
	clock.Advance(2 * time.Minute)
	c.Put("new", 3)

	assert.Equal(t, 1, c.Len())
}

func TestKeyed_RemoveAndPurge(t *testing.T) {
	c, err := cache.NewKeyed[int, int](cache.Config{MaxEntries: 4})
	require.NoError(t, err)

	c.Put(1, 1)
	c.Put(2, 2)
	c.Remove(1)
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestNewKeyed_InvalidConfig(t *testing.T) {
	_, err := cache.NewKeyed[string, int](cache.Config{MaxEntries: 0})
	assert.Error(t, err)

	_, err = cache.NewKeyed[string, int](cache.Config{MaxEntries: 1, TTL: -time.Second})
	assert.Error(t, err)
}
