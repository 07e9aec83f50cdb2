package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCacheRoundTrip(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	c.Set("k", "v")

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

// 过期条目在读取时被移除
func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache[int](10, 30*time.Millisecond)
	c.Set("k", 1)

	time.Sleep(50 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCacheDeleteAndClear(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestGlobalCache(t *testing.T) {
	InitCache()
	CacheSet("list", []int{1, 2}, time.Minute)

	got, ok := CacheGet("list")
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, got)

	CacheDelete("list")
	_, ok = CacheGet("list")
	assert.False(t, ok)
}
