package services

import (
	"context"
	"testing"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/platform"
	"crmsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchFiltersAgainstWatermark(t *testing.T) {
	db := setupTestDB(t)
	page := createTestPage(t, db)
	syncState := repository.NewSyncStateRepository(db)
	cache := NewMessageCache(time.Minute, 100)

	watermark := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, syncState.Advance("p1", page.ID, models.PlatformMessenger, watermark))

	before := watermark.Add(-time.Hour)
	after := watermark.Add(time.Hour)
	cache.Set(page.ID, models.PlatformMessenger, "conv-1", []platform.Message{
		{Sender: "p1", Text: "old", Timestamp: &before},
		{Sender: "p1", Text: "new", Timestamp: &after},
		{Sender: "p1", Text: "undated"},
	})

	client := newFakeClient()
	fetcher := NewDifferentialFetcher(client, cache, syncState)

	result, err := fetcher.Fetch(context.Background(), "conv-1", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)

	assert.True(t, result.Cached)
	assert.False(t, result.IsFullSync)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "new", result.Messages[0].Text)
	assert.Equal(t, "undated", result.Messages[1].Text, "timestamp-less messages are always included")
	assert.Equal(t, 0, client.callCount("conv-1"), "cached conversations must not refetch")
}

func TestFetchReturnsEmptyWhenNothingNew(t *testing.T) {
	db := setupTestDB(t)
	page := createTestPage(t, db)
	syncState := repository.NewSyncStateRepository(db)
	cache := NewMessageCache(time.Minute, 100)

	watermark := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, syncState.Advance("p1", page.ID, models.PlatformMessenger, watermark))

	before := watermark.Add(-time.Hour)
	cache.Set(page.ID, models.PlatformMessenger, "conv-1", []platform.Message{
		{Sender: "p1", Text: "old", Timestamp: &before},
	})

	fetcher := NewDifferentialFetcher(newFakeClient(), cache, syncState)
	result, err := fetcher.Fetch(context.Background(), "conv-1", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)
	assert.Empty(t, result.Messages, "nothing new is an empty result, not an error")
	assert.True(t, result.Cached)
}

func TestFetchWithoutWatermarkReturnsFullCachedSet(t *testing.T) {
	db := setupTestDB(t)
	page := createTestPage(t, db)
	cache := NewMessageCache(time.Minute, 100)

	now := time.Now()
	cache.Set(page.ID, models.PlatformMessenger, "conv-1", []platform.Message{
		{Sender: "p1", Text: "a", Timestamp: &now},
		{Sender: "p1", Text: "b", Timestamp: &now},
	})

	fetcher := NewDifferentialFetcher(newFakeClient(), cache, repository.NewSyncStateRepository(db))
	result, err := fetcher.Fetch(context.Background(), "conv-1", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)
	assert.Len(t, result.Messages, 2)
	assert.True(t, result.Cached)
	assert.True(t, result.IsFullSync)
}

func TestFetchUncachedWithWatermarkIsDifferential(t *testing.T) {
	db := setupTestDB(t)
	page := createTestPage(t, db)
	client := newFakeClient()
	client.messages["conv-1"] = []platform.Message{
		{Sender: "p1", Text: "new", Timestamp: ts(t, "2026-02-01T12:00:00Z")},
		{Sender: "p1", Text: "old", Timestamp: ts(t, "2026-02-01T10:00:00Z")},
	}

	syncState := repository.NewSyncStateRepository(db)
	require.NoError(t, syncState.Advance("p1", page.ID, models.PlatformMessenger, *ts(t, "2026-02-01T11:00:00Z")))

	fetcher := NewDifferentialFetcher(client, NewMessageCache(time.Minute, 100), syncState)
	result, err := fetcher.Fetch(context.Background(), "conv-1", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)

	assert.False(t, result.IsFullSync)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "new", result.Messages[0].Text)
}

func TestFetchUncachedNormalizesAndPopulatesCache(t *testing.T) {
	db := setupTestDB(t)
	page := createTestPage(t, db)
	cache := NewMessageCache(time.Minute, 100)
	client := newFakeClient()

	// Platform native order is newest first; empty texts are attachments or
	// reactions and get dropped.
	client.messages["conv-1"] = []platform.Message{
		{Sender: "page", Text: "newest", Timestamp: ts(t, "2026-02-01T12:00:00Z")},
		{Sender: "p1", Text: "", Timestamp: ts(t, "2026-02-01T11:30:00Z")},
		{Sender: "p1", Text: "oldest", Timestamp: ts(t, "2026-02-01T11:00:00Z")},
	}

	fetcher := NewDifferentialFetcher(client, cache, repository.NewSyncStateRepository(db))
	result, err := fetcher.Fetch(context.Background(), "conv-1", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)

	assert.False(t, result.Cached)
	assert.True(t, result.IsFullSync, "first fetch without a watermark is a full sync")
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "oldest", result.Messages[0].Text, "normalized order is oldest first")
	assert.Equal(t, "newest", result.Messages[1].Text)

	// Second fetch hits the cache.
	_, err = fetcher.Fetch(context.Background(), "conv-1", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount("conv-1"))
}

func TestFetchEmptyConversationIsFullSync(t *testing.T) {
	db := setupTestDB(t)
	page := createTestPage(t, db)
	client := newFakeClient()

	fetcher := NewDifferentialFetcher(client, NewMessageCache(time.Minute, 100), repository.NewSyncStateRepository(db))
	result, err := fetcher.Fetch(context.Background(), "conv-empty", "p1", page.ID, models.PlatformMessenger)
	require.NoError(t, err)

	assert.Empty(t, result.Messages)
	assert.True(t, result.IsFullSync)
	assert.False(t, result.Cached)
}
