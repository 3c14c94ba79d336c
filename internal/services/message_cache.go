package services

import (
	"fmt"
	"sync"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/platform"
	"crmsync/internal/utils"
)

// messageCacheEntry holds one cached message batch with its expiry.
type messageCacheEntry struct {
	messages  []platform.Message
	storedAt  time.Time
	expiresAt time.Time
}

// MessageCache is an in-memory TTL cache for conversation message batches.
// It exists to absorb repeat fetches inside a sync run: a participant seen
// on both messenger and instagram, or a retried chunk, should not cost a
// second API round-trip.
type MessageCache struct {
	mu         sync.RWMutex
	entries    map[string]*messageCacheEntry
	ttl        time.Duration
	maxEntries int
	hits       int64
	misses     int64
	logger     *utils.Logger
}

// NewMessageCache creates a message cache with the given TTL and size cap.
func NewMessageCache(ttl time.Duration, maxEntries int) *MessageCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MessageCache{
		entries:    make(map[string]*messageCacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     utils.NewLogger("MessageCache"),
	}
}

func cacheKey(pageID uint, plat models.Platform, conversationID string) string {
	return fmt.Sprintf("%d:%s:%s", pageID, plat, conversationID)
}

// Get returns the cached batch for a conversation, if present and fresh.
func (c *MessageCache) Get(pageID uint, plat models.Platform, conversationID string) ([]platform.Message, bool) {
	key := cacheKey(pageID, plat, conversationID)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.messages, true
}

// Set stores a message batch for a conversation.
func (c *MessageCache) Set(pageID uint, plat models.Platform, conversationID string, messages []platform.Message) {
	key := cacheKey(pageID, plat, conversationID)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &messageCacheEntry{
		messages:  messages,
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// evictOldestLocked drops the entry stored longest ago. Caller holds mu.
func (c *MessageCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Clear empties the cache.
func (c *MessageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*messageCacheEntry)
}

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Stats returns a snapshot of the cache counters.
func (c *MessageCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// StartCleanupRoutine periodically drops expired entries until stop is closed.
func (c *MessageCache) StartCleanupRoutine(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
}

func (c *MessageCache) cleanupExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Cleaned up %d expired cache entries, %d remaining", removed, len(c.entries))
	}
}
