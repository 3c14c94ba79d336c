package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/platform"
	"crmsync/internal/repository"
	"crmsync/internal/utils"

	"gorm.io/gorm"
)

// ProcessResult aggregates one platform's stream outcome.
type ProcessResult struct {
	SuccessCount int
	FailedCount  int
	SkippedCount int
	TokenExpired bool
	Errors       []models.SyncError
}

// ProgressFunc receives periodic (synced, drawn) progress counts. Synced
// counts only contacts written successfully so far; failed and skipped
// conversations are excluded.
type ProgressFunc func(synced, drawn int)

// StreamProcessor drives the per-conversation pipeline: differential fetch,
// classification, stage assignment, aggregation and batched persistence. It
// pulls conversations from a lazy stream and processes them under a bounded
// worker pool; the stream itself is consumed by a single goroutine so a
// token-expired signal stops further draws immediately.
type StreamProcessor struct {
	fetcher        *DifferentialFetcher
	scorer         ContactScorer
	assigner       *StageAssigner
	contacts       *repository.ContactRepository
	syncState      *repository.SyncStateRepository
	cache          *MessageCache
	maxConcurrency int
	batchSize      int
	chunkSize      int
	logger         *utils.Logger
}

// NewStreamProcessor creates a stream processor. Zero tunables fall back to
// defaults (30 workers, 200-record batches, 100-row write chunks).
func NewStreamProcessor(
	fetcher *DifferentialFetcher,
	scorer ContactScorer,
	assigner *StageAssigner,
	contacts *repository.ContactRepository,
	syncState *repository.SyncStateRepository,
	cache *MessageCache,
	maxConcurrency, batchSize, chunkSize int,
) *StreamProcessor {
	if maxConcurrency <= 0 {
		maxConcurrency = 30
	}
	if chunkSize <= 0 {
		chunkSize = repository.DefaultChunkSize
	}
	return &StreamProcessor{
		fetcher:        fetcher,
		scorer:         scorer,
		assigner:       assigner,
		contacts:       contacts,
		syncState:      syncState,
		cache:          cache,
		maxConcurrency: maxConcurrency,
		batchSize:      batchSize,
		chunkSize:      chunkSize,
		logger:         utils.NewLogger("StreamProcessor"),
	}
}

// processorRun is the mutable state of one Process invocation. The mutex
// serializes the aggregator hand-off and all counter updates; workers do
// their network and classification work outside it.
type processorRun struct {
	mu           sync.Mutex
	aggregator   *ContactAggregator
	success      int
	failed       int
	skipped      int
	tokenExpired bool
	errors       []models.SyncError
}

func (r *processorRun) abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokenExpired
}

func (r *processorRun) setTokenExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenExpired = true
}

func (r *processorRun) recordError(participantID string, plat models.Platform, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.errors = append(r.errors, models.SyncError{
		ParticipantID: participantID,
		Platform:      plat,
		Message:       err.Error(),
	})
}

// Process consumes the conversation stream for one platform and returns the
// aggregated outcome. Per-conversation failures are recorded and skipped
// over; a token-expired error aborts the remaining stream.
func (p *StreamProcessor) Process(ctx context.Context, page *models.Page, plat models.Platform, stream platform.ConversationStream, progressFn ProgressFunc) *ProcessResult {
	run := &processorRun{aggregator: NewContactAggregator(p.batchSize)}

	// Stage assignment setup is per run: ranges are generated lazily the
	// first time a pipeline is used for auto-assignment, and the page's
	// update mode is read once and applied uniformly.
	var stages []models.PipelineStage
	if page.AutoPipelineID != nil {
		var err error
		stages, err = p.assigner.EnsureScoreRanges(*page.AutoPipelineID)
		if err != nil {
			p.logger.Warn("Stage assignment disabled for page %d: %v", page.ID, err)
			stages = nil
		}
	}

	var (
		wg    sync.WaitGroup
		sem   = make(chan struct{}, p.maxConcurrency)
		drawn int
	)

	for {
		if run.abort() {
			break
		}
		conv, ok, err := stream.Next(ctx)
		if err != nil {
			if platform.IsTokenExpired(err) {
				p.logger.Warn("Token expired while listing %s conversations for page %d", plat, page.ID)
				run.setTokenExpired()
			} else {
				run.recordError("", plat, err)
			}
			break
		}
		if !ok {
			break
		}
		drawn++

		wg.Add(1)
		sem <- struct{}{}
		go func(conv *platform.Conversation) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processConversation(ctx, run, page, plat, stages, conv)
		}(conv)

		if drawn%10 == 0 && progressFn != nil {
			run.mu.Lock()
			synced := run.success
			run.mu.Unlock()
			progressFn(synced, drawn)
		}
	}

	wg.Wait()

	run.mu.Lock()
	p.persistLocked(run, run.aggregator.FlushAll(), page.ID, plat)
	result := &ProcessResult{
		SuccessCount: run.success,
		FailedCount:  run.failed,
		SkippedCount: run.skipped,
		TokenExpired: run.tokenExpired,
		Errors:       run.errors,
	}
	run.mu.Unlock()

	if progressFn != nil {
		progressFn(result.SuccessCount, drawn)
	}
	p.logger.Info("Platform %s done for page %d: %d synced, %d failed, %d skipped (token expired: %v)",
		plat, page.ID, result.SuccessCount, result.FailedCount, result.SkippedCount, result.TokenExpired)
	return result
}

func (p *StreamProcessor) processConversation(ctx context.Context, run *processorRun, page *models.Page, plat models.Platform, stages []models.PipelineStage, conv *platform.Conversation) {
	participant := conv.Participant
	if participant.ID == "" {
		run.mu.Lock()
		run.skipped++
		run.mu.Unlock()
		return
	}

	fetch, err := p.fetcher.Fetch(ctx, conv.ID, participant.ID, page.ID, plat)
	if err != nil {
		if platform.IsTokenExpired(err) {
			run.setTokenExpired()
			return
		}
		run.recordError(participant.ID, plat, err)
		return
	}

	existing, err := p.contacts.GetByParticipantAndPage(participant.ID, page.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			run.recordError(participant.ID, plat, err)
			return
		}
		existing = nil
	}

	// Nothing new and the contact is already known: a quiet no-op, not a
	// failure. The last-interaction timestamp is deliberately left alone.
	if len(fetch.Messages) == 0 && existing != nil {
		run.mu.Lock()
		run.skipped++
		run.mu.Unlock()
		return
	}

	var analysis *ContactAnalysis
	if len(fetch.Messages) > 0 && p.scorer != nil {
		history := fetch.Messages
		if full, ok := p.cache.Get(page.ID, plat, conv.ID); ok {
			history = full
		}
		analysis, err = p.scorer.Score(ctx, participant.Name, history)
		if err != nil {
			// No classification available; the contact still syncs.
			p.logger.Warn("Scoring failed for participant %s: %v", participant.ID, err)
			analysis = nil
		}
	}

	lastMessageAt := newestTimestamp(fetch.Messages)
	if lastMessageAt == nil {
		lastMessageAt = conv.UpdatedAt
	}

	record := p.buildRecord(page, plat, stages, conv, existing, analysis, lastMessageAt)

	run.mu.Lock()
	run.aggregator.Add(record)
	if run.aggregator.IsReady() {
		p.persistLocked(run, run.aggregator.Flush(), page.ID, plat)
	}
	run.mu.Unlock()
}

func (p *StreamProcessor) buildRecord(page *models.Page, plat models.Platform, stages []models.PipelineStage, conv *platform.Conversation, existing *models.Contact, analysis *ContactAnalysis, lastMessageAt *time.Time) ContactRecord {
	record := ContactRecord{
		Analysis: analysis,
		Conversation: ConversationMeta{
			ConversationID: conv.ID,
			Platform:       plat,
			LastMessageAt:  lastMessageAt,
		},
	}

	var stage *models.PipelineStage
	if stages != nil && analysis != nil {
		assignable := existing == nil ||
			page.StageUpdateMode == models.StageUpdateUpdateExisting ||
			existing.StageID == nil
		if assignable {
			stage = p.assigner.AssignStage(analysis.LeadScore, stages)
		}
	}

	if existing == nil {
		contact := models.Contact{
			ParticipantID:   conv.Participant.ID,
			PageID:          page.ID,
			Name:            conv.Participant.Name,
			LastInteraction: lastMessageAt,
		}
		switch plat {
		case models.PlatformMessenger:
			contact.HasMessenger = true
		case models.PlatformInstagram:
			contact.HasInstagram = true
		}
		if analysis != nil {
			contact.LeadScore = analysis.LeadScore
			contact.AIContext = analysis.Context
		}
		if stage != nil {
			contact.PipelineID = &stage.PipelineID
			contact.StageID = &stage.ID
			now := time.Now()
			contact.StageEnteredAt = &now
		}
		record.Contact = contact
		return record
	}

	record.Contact = models.Contact{ParticipantID: conv.Participant.ID, PageID: page.ID}
	record.ExistingID = existing.ID
	patch := &repository.ContactPatch{ContactID: existing.ID, ParticipantID: conv.Participant.ID}
	if conv.Participant.Name != "" && conv.Participant.Name != existing.Name {
		patch.Name = &conv.Participant.Name
	}
	switch plat {
	case models.PlatformMessenger:
		if !existing.HasMessenger {
			v := true
			patch.HasMessenger = &v
		}
	case models.PlatformInstagram:
		if !existing.HasInstagram {
			v := true
			patch.HasInstagram = &v
		}
	}
	if lastMessageAt != nil {
		patch.LastInteraction = lastMessageAt
	}
	if analysis != nil {
		patch.LeadScore = &analysis.LeadScore
		if analysis.Context != "" {
			patch.AIContext = &analysis.Context
		}
	}
	if stage != nil {
		patch.Stage = &repository.StagePatch{
			PipelineID: stage.PipelineID,
			StageID:    stage.ID,
			EnteredAt:  time.Now(),
		}
	}
	record.Patch = patch
	return record
}

// persistLocked flushes one batch through the upsert engine and advances the
// per-participant watermarks for every record that wrote cleanly. Caller
// holds run.mu.
func (p *StreamProcessor) persistLocked(run *processorRun, batch *ContactBatch, pageID uint, plat models.Platform) {
	if batch.Size() == 0 {
		return
	}

	result := p.contacts.BatchUpsert(batch.Creates, batch.Updates, p.chunkSize)
	run.success += result.SuccessCount
	run.failed += result.FailureCount

	failedParticipants := make(map[string]bool, len(result.Errors))
	for _, batchErr := range result.Errors {
		failedParticipants[batchErr.ParticipantID] = true
		run.errors = append(run.errors, models.SyncError{
			ParticipantID: batchErr.ParticipantID,
			ContactID:     batchErr.ContactID,
			Platform:      plat,
			Message:       batchErr.Message,
		})
	}

	// Watermarks advance only after a successful write: a crashed or failed
	// batch re-fetches the same window next run.
	for participantID, meta := range batch.Conversations {
		if failedParticipants[participantID] || meta.LastMessageAt == nil {
			continue
		}
		if err := p.syncState.Advance(participantID, pageID, plat, *meta.LastMessageAt); err != nil {
			p.logger.Warn("Failed to advance watermark for participant %s: %v", participantID, err)
		}
	}
}

func newestTimestamp(messages []platform.Message) *time.Time {
	var newest *time.Time
	for i := range messages {
		ts := messages[i].Timestamp
		if ts == nil {
			continue
		}
		if newest == nil || ts.After(*newest) {
			newest = ts
		}
	}
	return newest
}
