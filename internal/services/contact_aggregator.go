package services

import (
	"time"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

// ContactAnalysis is the classification output attached to a contact.
type ContactAnalysis struct {
	LeadScore int
	Context   string
}

// ConversationMeta ties a processed record back to its source conversation.
type ConversationMeta struct {
	ConversationID string
	Platform       models.Platform
	LastMessageAt  *time.Time
}

// ContactRecord is one processed conversation's outcome, ready for storage.
// ExistingID is nonzero when the contact row already exists, in which case
// Patch carries the update instead of Contact.
type ContactRecord struct {
	Contact      models.Contact
	ExistingID   uint
	Patch        *repository.ContactPatch
	Analysis     *ContactAnalysis
	Conversation ConversationMeta
}

// ContactBatch is one flushed unit of work for the batch upsert engine.
type ContactBatch struct {
	Creates       []models.Contact
	Updates       []repository.ContactPatch
	Analyses      map[string]*ContactAnalysis
	Conversations map[string]ConversationMeta
}

// Size returns the number of records in the batch.
func (b *ContactBatch) Size() int {
	return len(b.Creates) + len(b.Updates)
}

// ContactAggregator accumulates processed contact records into size-bounded
// batches in FIFO order. It is not safe for concurrent use; callers
// serialize access (the stream processor holds a mutex around it).
type ContactAggregator struct {
	pending   []ContactRecord
	batchSize int
}

const (
	defaultBatchSize = 200
	minBatchSize     = 100
	maxBatchSize     = 500
)

// NewContactAggregator creates an aggregator with the given target batch
// size, clamped to the accepted range.
func NewContactAggregator(batchSize int) *ContactAggregator {
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	return &ContactAggregator{batchSize: batchSize}
}

// Add appends one record.
func (a *ContactAggregator) Add(record ContactRecord) {
	a.pending = append(a.pending, record)
}

// AddBatch appends records preserving their order.
func (a *ContactAggregator) AddBatch(records []ContactRecord) {
	a.pending = append(a.pending, records...)
}

// Size returns the number of pending records.
func (a *ContactAggregator) Size() int {
	return len(a.pending)
}

// IsReady reports whether a full batch is pending.
func (a *ContactAggregator) IsReady() bool {
	return len(a.pending) >= a.batchSize
}

// Flush removes and returns up to one target batch of records. Callers
// re-check IsReady for further flushes.
func (a *ContactAggregator) Flush() *ContactBatch {
	n := len(a.pending)
	if n > a.batchSize {
		n = a.batchSize
	}
	return a.take(n)
}

// FlushAll drains every pending record regardless of batch size. Used once
// at stream end to push out the final partial batch.
func (a *ContactAggregator) FlushAll() *ContactBatch {
	return a.take(len(a.pending))
}

// Clear discards all pending records without returning them. Only used when
// a job aborts.
func (a *ContactAggregator) Clear() {
	a.pending = nil
}

func (a *ContactAggregator) take(n int) *ContactBatch {
	batch := &ContactBatch{
		Analyses:      make(map[string]*ContactAnalysis),
		Conversations: make(map[string]ConversationMeta),
	}
	for _, record := range a.pending[:n] {
		participantID := record.Contact.ParticipantID
		if record.ExistingID != 0 && record.Patch != nil {
			batch.Updates = append(batch.Updates, *record.Patch)
		} else {
			batch.Creates = append(batch.Creates, record.Contact)
		}
		if record.Analysis != nil {
			batch.Analyses[participantID] = record.Analysis
		}
		batch.Conversations[participantID] = record.Conversation
	}
	a.pending = a.pending[n:]
	return batch
}
