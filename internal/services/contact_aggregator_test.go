package services

import (
	"fmt"
	"testing"

	"crmsync/internal/models"
	"crmsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patchFixture = repository.ContactPatch{ContactID: 7}

func makeRecords(n int) []ContactRecord {
	records := make([]ContactRecord, n)
	for i := range records {
		records[i] = ContactRecord{
			Contact: models.Contact{ParticipantID: fmt.Sprintf("p%d", i), PageID: 1},
		}
	}
	return records
}

func TestAggregatorFlushReturnsExactlyOneBatch(t *testing.T) {
	agg := NewContactAggregator(100)
	k := 30
	agg.AddBatch(makeRecords(100 + k))

	require.True(t, agg.IsReady())
	batch := agg.Flush()
	assert.Equal(t, 100, batch.Size())
	assert.False(t, agg.IsReady(), "only k records remain after one flush")

	rest := agg.FlushAll()
	assert.Equal(t, k, rest.Size())
	assert.Equal(t, 0, agg.Size())
}

func TestAggregatorPreservesFIFOWithoutLossOrDuplication(t *testing.T) {
	agg := NewContactAggregator(100)
	agg.AddBatch(makeRecords(250))

	seen := make(map[string]int)
	for agg.IsReady() {
		for _, c := range agg.Flush().Creates {
			seen[c.ParticipantID]++
		}
	}
	for _, c := range agg.FlushAll().Creates {
		seen[c.ParticipantID]++
	}

	assert.Len(t, seen, 250)
	for id, count := range seen {
		assert.Equal(t, 1, count, "record %s flushed %d times", id, count)
	}
}

func TestAggregatorPartitionsCreatesAndUpdates(t *testing.T) {
	agg := NewContactAggregator(100)
	agg.Add(ContactRecord{Contact: models.Contact{ParticipantID: "new", PageID: 1}})
	agg.Add(ContactRecord{
		Contact:    models.Contact{ParticipantID: "known", PageID: 1},
		ExistingID: 7,
		Patch:      &patchFixture,
		Analysis:   &ContactAnalysis{LeadScore: 60, Context: "interested"},
	})

	batch := agg.FlushAll()
	assert.Len(t, batch.Creates, 1)
	assert.Len(t, batch.Updates, 1)
	assert.Contains(t, batch.Analyses, "known")
	assert.Contains(t, batch.Conversations, "new")
}

func TestAggregatorClearDiscards(t *testing.T) {
	agg := NewContactAggregator(100)
	agg.AddBatch(makeRecords(10))
	agg.Clear()
	assert.Equal(t, 0, agg.Size())
	assert.Equal(t, 0, agg.FlushAll().Size())
}

func TestAggregatorClampsBatchSize(t *testing.T) {
	assert.Equal(t, minBatchSize, NewContactAggregator(10).batchSize)
	assert.Equal(t, maxBatchSize, NewContactAggregator(9999).batchSize)
	assert.Equal(t, defaultBatchSize, NewContactAggregator(0).batchSize)
}
