package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryBlobCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryBlobCache(2)

	c.Set("a", []byte("A"))
	c.Set("b", []byte("B"))
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", []byte("C"))

	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("c"))
}

func TestMemoryBlobCache_SetReplaces(t *testing.T) {
	c := NewMemoryBlobCache(2)
	c.Set("a", []byte("old"))
	c.Set("a", []byte("new"))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestMemoryBlobCache_DeleteAndClear(t *testing.T) {
	c := NewMemoryBlobCache(4)
	c.Set("a", []byte("A"))
	c.Set("b", []byte("B"))

	c.Delete("a")
	c.Delete("missing")
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))

	c.Clear()
	assert.False(t, c.Has("b"))
}

func TestMemoryBlobCache_ZeroCapacityStoresNothing(t *testing.T) {
	c := NewMemoryBlobCache(0)
	c.Set("a", []byte("A"))
	assert.False(t, c.Has("a"))
}

func TestNoopBlobCache(t *testing.T) {
	c := NewNoopBlobCache()
	c.Set("a", []byte("A"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.Has("a"))
}

func TestNewBlobCache(t *testing.T) {
	log := zap.NewNop()

	c, err := NewBlobCache("memory", 8, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBlobCache{}, c)

	c, err = NewBlobCache("disabled", 8, log)
	require.NoError(t, err)
	assert.IsType(t, &NoopBlobCache{}, c)

	_, err = NewBlobCache("redis", 8, log)
	assert.Error(t, err)
}
