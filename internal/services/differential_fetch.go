package services

import (
	"context"
	"fmt"

	"crmsync/internal/models"
	"crmsync/internal/platform"
	"crmsync/internal/repository"
	"crmsync/internal/utils"
)

// FetchResult is the outcome of one differential fetch: the messages not yet
// ingested for a conversation, plus how they were obtained.
type FetchResult struct {
	Messages   []platform.Message
	IsFullSync bool
	Cached     bool
}

// DifferentialFetcher decides per conversation whether a full or incremental
// message fetch is needed, consulting the in-memory cache and the persisted
// per-contact watermark. A missing cache entry or watermark always degrades
// to a full fetch, never to an error.
type DifferentialFetcher struct {
	client    platform.Client
	cache     *MessageCache
	syncState *repository.SyncStateRepository
	logger    *utils.Logger
}

// NewDifferentialFetcher creates a differential fetcher.
func NewDifferentialFetcher(client platform.Client, cache *MessageCache, syncState *repository.SyncStateRepository) *DifferentialFetcher {
	return &DifferentialFetcher{
		client:    client,
		cache:     cache,
		syncState: syncState,
		logger:    utils.NewLogger("DifferentialFetcher"),
	}
}

// Fetch returns the new messages for a conversation.
//
// Cached path: filter the cached batch against the participant's watermark.
// Uncached path: full fetch through the client, normalize (drop empty text,
// oldest first), cache, then apply the same watermark filter.
// IsFullSync reports that no watermark existed, so the result is the
// complete history rather than a differential slice. A conversation with
// zero messages yields an empty full-sync result.
func (f *DifferentialFetcher) Fetch(ctx context.Context, conversationID, participantID string, pageID uint, plat models.Platform) (*FetchResult, error) {
	if cached, ok := f.cache.Get(pageID, plat, conversationID); ok {
		filtered, hasWatermark, err := f.filterByWatermark(cached, participantID, pageID, plat)
		if err != nil {
			return nil, err
		}
		f.logger.Debug("Cache hit for conversation %s: %d of %d messages new", conversationID, len(filtered), len(cached))
		return &FetchResult{Messages: filtered, IsFullSync: !hasWatermark, Cached: true}, nil
	}

	raw, err := f.client.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for conversation %s: %w", conversationID, err)
	}

	messages := normalizeMessages(raw)
	if len(messages) == 0 {
		return &FetchResult{Messages: nil, IsFullSync: true, Cached: false}, nil
	}

	f.cache.Set(pageID, plat, conversationID, messages)

	filtered, hasWatermark, err := f.filterByWatermark(messages, participantID, pageID, plat)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Messages: filtered, IsFullSync: !hasWatermark, Cached: false}, nil
}

// filterByWatermark keeps messages newer than the participant's last-sync
// timestamp, and reports whether a watermark existed. Messages without a
// timestamp are of unknown recency and are always kept. Without a watermark
// the whole set is returned.
func (f *DifferentialFetcher) filterByWatermark(messages []platform.Message, participantID string, pageID uint, plat models.Platform) ([]platform.Message, bool, error) {
	state, err := f.syncState.Get(participantID, pageID, plat)
	if err != nil {
		return nil, false, fmt.Errorf("load sync state for participant %s: %w", participantID, err)
	}
	if state == nil || state.LastMessageAt == nil {
		return messages, false, nil
	}

	watermark := *state.LastMessageAt
	filtered := make([]platform.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Timestamp == nil || msg.Timestamp.After(watermark) {
			filtered = append(filtered, msg)
		}
	}
	return filtered, true, nil
}

// normalizeMessages drops entries with empty text and reverses the platform's
// newest-first ordering so the oldest message comes first.
func normalizeMessages(raw []platform.Message) []platform.Message {
	kept := make([]platform.Message, 0, len(raw))
	for _, msg := range raw {
		if msg.Text == "" {
			continue
		}
		kept = append(kept, msg)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
