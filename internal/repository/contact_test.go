package repository

import (
	"fmt"
	"testing"
	"time"

	"crmsync/internal/database"
	"crmsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens an isolated in-memory database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Single connection keeps the shared-cache memory DB alive and
	// serializes concurrent writers.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func createTestPage(t *testing.T, db *gorm.DB) *models.Page {
	t.Helper()
	page := &models.Page{
		PageID:      fmt.Sprintf("page-%s", t.Name()),
		Name:        "Test Page",
		AccessToken: "token",
		Platforms:   models.StringSlice{"messenger"},
	}
	require.NoError(t, db.Create(page).Error)
	return page
}

func TestBatchCreateSkipsDuplicateKeys(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db)
	page := createTestPage(t, db)

	contacts := []models.Contact{
		{ParticipantID: "p1", PageID: page.ID, Name: "Alice"},
		{ParticipantID: "p1", PageID: page.ID, Name: "Alice Again"},
		{ParticipantID: "p2", PageID: page.ID, Name: "Bob"},
	}

	result := repo.BatchCreate(contacts, 10)
	assert.Equal(t, 0, result.FailureCount)

	var count int64
	require.NoError(t, db.Model(&models.Contact{}).Where("page_id = ?", page.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count, "same (participant, page) key must store exactly one row")
}

func TestBatchCreateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db)
	page := createTestPage(t, db)

	contacts := []models.Contact{
		{ParticipantID: "p1", PageID: page.ID, Name: "Alice"},
		{ParticipantID: "p2", PageID: page.ID, Name: "Bob"},
	}

	first := repo.BatchCreate(contacts, 10)
	require.Equal(t, 2, first.SuccessCount)
	require.Len(t, first.CreatedContactIDs, 2)

	second := repo.BatchCreate(contacts, 10)
	assert.Equal(t, 0, second.FailureCount)
	assert.Empty(t, second.CreatedContactIDs, "second run must create no new rows")

	var count int64
	require.NoError(t, db.Model(&models.Contact{}).Where("page_id = ?", page.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestFallbackChunkUpsertsWithoutDuplication(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db)
	page := createTestPage(t, db)

	existing := models.Contact{ParticipantID: "p1", PageID: page.ID, Name: "Old Name"}
	require.NoError(t, db.Create(&existing).Error)

	result := &BatchResult{}
	repo.fallbackChunk([]models.Contact{
		{ParticipantID: "p1", PageID: page.ID, Name: "New Name"},
		{ParticipantID: "p2", PageID: page.ID, Name: "Fresh"},
	}, result)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Len(t, result.UpdatedContactIDs, 1)
	assert.Len(t, result.CreatedContactIDs, 1)

	var count int64
	require.NoError(t, db.Model(&models.Contact{}).Where("page_id = ?", page.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	updated, err := repo.GetByParticipantAndPage("p1", page.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
}

func TestBatchUpdateAppliesHeterogeneousPatches(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db)
	page := createTestPage(t, db)

	c1 := models.Contact{ParticipantID: "p1", PageID: page.ID, Name: "Alice"}
	c2 := models.Contact{ParticipantID: "p2", PageID: page.ID, Name: "Bob"}
	require.NoError(t, db.Create(&c1).Error)
	require.NoError(t, db.Create(&c2).Error)

	name := "Alice Updated"
	score := 77
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result := repo.BatchUpdate([]ContactPatch{
		{ContactID: c1.ID, Name: &name, LeadScore: &score},
		{ContactID: c2.ID, LastInteraction: &when},
	}, 10)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.ElementsMatch(t, []uint{c1.ID, c2.ID}, result.UpdatedContactIDs)

	got1, err := repo.GetByParticipantAndPage("p1", page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Updated", got1.Name)
	assert.Equal(t, 77, got1.LeadScore)

	got2, err := repo.GetByParticipantAndPage("p2", page.ID)
	require.NoError(t, err)
	require.NotNil(t, got2.LastInteraction)
	assert.True(t, got2.LastInteraction.Equal(when))
}

func TestBatchUpsertMergesBothPaths(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db)
	page := createTestPage(t, db)

	existing := models.Contact{ParticipantID: "p1", PageID: page.ID, Name: "Alice"}
	require.NoError(t, db.Create(&existing).Error)

	score := 40
	result := repo.BatchUpsert(
		[]models.Contact{{ParticipantID: "p2", PageID: page.ID, Name: "Bob"}},
		[]ContactPatch{{ContactID: existing.ID, LeadScore: &score}},
		10,
	)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Len(t, result.CreatedContactIDs, 1)
	assert.Len(t, result.UpdatedContactIDs, 1)
}

func TestEmptyPatchIsSkipped(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db)

	result := repo.BatchUpdate([]ContactPatch{{ContactID: 1}}, 10)
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
}
