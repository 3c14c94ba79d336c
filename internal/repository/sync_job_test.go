package repository

import (
	"testing"

	"crmsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetActiveByPage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepository(db)
	page := createTestPage(t, db)

	active, err := repo.GetActiveByPage(page.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	job := &models.SyncJob{JobID: "job-1", PageID: page.ID, Status: models.SyncJobPending}
	require.NoError(t, repo.Create(job))

	active, err = repo.GetActiveByPage(page.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "job-1", active.JobID)

	require.NoError(t, repo.MarkStarted(job))
	active, err = repo.GetActiveByPage(page.ID)
	require.NoError(t, err)
	require.NotNil(t, active, "IN_PROGRESS still counts as active")
	assert.Equal(t, models.SyncJobInProgress, active.Status)
	assert.NotNil(t, active.StartedAt)

	job.Status = models.SyncJobCompleted
	require.NoError(t, repo.Update(job))
	active, err = repo.GetActiveByPage(page.ID)
	require.NoError(t, err)
	assert.Nil(t, active, "terminal jobs are not active")
}
