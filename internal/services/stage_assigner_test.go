package services

import (
	"testing"

	"crmsync/internal/models"
	"crmsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedPipeline(t *testing.T, db *gorm.DB, ranges [][2]int) (*models.Pipeline, []models.PipelineStage) {
	t.Helper()
	pipeline := &models.Pipeline{Name: "Test Pipeline"}
	require.NoError(t, db.Create(pipeline).Error)

	stages := make([]models.PipelineStage, 0, len(ranges))
	for i, r := range ranges {
		stage := models.PipelineStage{
			PipelineID:   pipeline.ID,
			Name:         "Stage",
			Order:        i + 1,
			LeadScoreMin: r[0],
			LeadScoreMax: r[1],
		}
		require.NoError(t, db.Create(&stage).Error)
		stages = append(stages, stage)
	}
	return pipeline, stages
}

func TestAssignStageFirstMatchByOrder(t *testing.T) {
	db := setupTestDB(t)
	_, stages := seedPipeline(t, db, [][2]int{{0, 32}, {33, 65}, {66, 100}})
	assigner := NewStageAssigner(repository.NewPipelineRepository(db))

	mid := assigner.AssignStage(50, stages)
	require.NotNil(t, mid)
	assert.Equal(t, stages[1].ID, mid.ID)

	top := assigner.AssignStage(100, stages)
	require.NotNil(t, top)
	assert.Equal(t, stages[2].ID, top.ID)

	assert.Nil(t, assigner.AssignStage(-5, stages), "out-of-range scores leave the contact unassigned")
}

func TestAssignStageToleratesOverlap(t *testing.T) {
	db := setupTestDB(t)
	_, stages := seedPipeline(t, db, [][2]int{{0, 60}, {40, 100}})
	assigner := NewStageAssigner(repository.NewPipelineRepository(db))

	got := assigner.AssignStage(50, stages)
	require.NotNil(t, got)
	assert.Equal(t, stages[0].ID, got.ID, "ascending order breaks overlap ties")
}

func TestEnsureScoreRangesPartitionsPlaceholders(t *testing.T) {
	db := setupTestDB(t)
	pipeline, _ := seedPipeline(t, db, [][2]int{{0, 0}, {0, 0}, {0, 0}})
	assigner := NewStageAssigner(repository.NewPipelineRepository(db))

	stages, err := assigner.EnsureScoreRanges(pipeline.ID)
	require.NoError(t, err)
	require.Len(t, stages, 3)

	assert.Equal(t, 0, stages[0].LeadScoreMin)
	assert.Equal(t, 32, stages[0].LeadScoreMax)
	assert.Equal(t, 33, stages[1].LeadScoreMin)
	assert.Equal(t, 65, stages[1].LeadScoreMax)
	assert.Equal(t, 66, stages[2].LeadScoreMin)
	assert.Equal(t, 100, stages[2].LeadScoreMax, "last stage absorbs the remainder")

	// No gaps: every score in [0,100] lands somewhere.
	for score := 0; score <= 100; score++ {
		assert.NotNil(t, assigner.AssignStage(score, stages), "score %d unassigned", score)
	}
}

func TestEnsureScoreRangesIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	pipeline, _ := seedPipeline(t, db, [][2]int{{0, 0}, {0, 0}})
	assigner := NewStageAssigner(repository.NewPipelineRepository(db))

	first, err := assigner.EnsureScoreRanges(pipeline.ID)
	require.NoError(t, err)

	// Simulate a manual edit, then re-run.
	first[0].LeadScoreMax = 10
	require.NoError(t, repository.NewPipelineRepository(db).SaveStage(&first[0]))

	again, err := assigner.EnsureScoreRanges(pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, again[0].LeadScoreMax, "non-placeholder ranges are never regenerated")
}
