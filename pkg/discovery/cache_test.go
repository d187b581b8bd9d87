package discovery

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetAndGet(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("redis", "# Redis Card")

	value, ok := cache.Get("redis")
	assert.True(t, ok)
	assert.Equal(t, "# Redis Card", value)
}

func TestCache_Miss(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	value, ok := cache.Get("nonexistent")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := NewCache(50 * time.Millisecond)

	cache.Set("redis", "card")

	// Present immediately
	value, ok := cache.Get("redis")
	assert.True(t, ok)
	assert.Equal(t, "card", value)

	time.Sleep(60 * time.Millisecond)

	// Expired and lazily evicted
	value, ok = cache.Get("redis")
	assert.False(t, ok)
	assert.Nil(t, value)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Overwrite(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("redis", "old card")
	cache.Set("redis", "new card")

	value, ok := cache.Get("redis")
	assert.True(t, ok)
	assert.Equal(t, "new card", value)
}

func TestCache_HoldsMixedValueTypes(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("card", "content")
	cache.Set("index:base", []string{"a.md", "b.md"})

	card, ok := cache.Get("card")
	assert.True(t, ok)
	assert.Equal(t, "content", card)

	files, ok := cache.Get("index:base")
	assert.True(t, ok)
	assert.Equal(t, []string{"a.md", "b.md"}, files)

	assert.Equal(t, 2, cache.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			cache.Set(fmt.Sprintf("key%d", n), n)
		}(i)
		go func(n int) {
			defer wg.Done()
			cache.Get(fmt.Sprintf("key%d", n))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, cache.Len())
}
