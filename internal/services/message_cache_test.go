package services

import (
	"fmt"
	"testing"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSetAndStats(t *testing.T) {
	cache := NewMessageCache(time.Minute, 10)
	msgs := []platform.Message{{Sender: "p1", Text: "hi"}}

	_, ok := cache.Get(1, models.PlatformMessenger, "c1")
	assert.False(t, ok)

	cache.Set(1, models.PlatformMessenger, "c1", msgs)
	got, ok := cache.Get(1, models.PlatformMessenger, "c1")
	require.True(t, ok)
	assert.Equal(t, msgs, got)

	// Same conversation id on another platform is a distinct key.
	_, ok = cache.Get(1, models.PlatformInstagram, "c1")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCacheExpiresEntries(t *testing.T) {
	cache := NewMessageCache(20*time.Millisecond, 10)
	cache.Set(1, models.PlatformMessenger, "c1", []platform.Message{{Text: "hi", Sender: "p1"}})

	time.Sleep(40 * time.Millisecond)
	_, ok := cache.Get(1, models.PlatformMessenger, "c1")
	assert.False(t, ok, "expired entries behave like misses")
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	cache := NewMessageCache(time.Minute, 3)
	for i := 0; i < 3; i++ {
		cache.Set(1, models.PlatformMessenger, fmt.Sprintf("c%d", i), nil)
		time.Sleep(time.Millisecond)
	}

	cache.Set(1, models.PlatformMessenger, "c-new", nil)

	_, ok := cache.Get(1, models.PlatformMessenger, "c0")
	assert.False(t, ok, "oldest entry is evicted first")
	_, ok = cache.Get(1, models.PlatformMessenger, "c-new")
	assert.True(t, ok)
	assert.Equal(t, 3, cache.Stats().Entries)
}
