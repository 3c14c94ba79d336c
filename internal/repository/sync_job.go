package repository

import (
	"time"

	"crmsync/internal/models"

	"gorm.io/gorm"
)

// SyncJobRepository handles database operations for SyncJob
type SyncJobRepository struct {
	db *gorm.DB
}

// NewSyncJobRepository creates a new SyncJobRepository
func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create persists a new sync job.
func (r *SyncJobRepository) Create(job *models.SyncJob) error {
	return r.db.Create(job).Error
}

// GetByJobID retrieves a job by its public uuid.
func (r *SyncJobRepository) GetByJobID(jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetActiveByPage returns the page's non-terminal job, if any. At most one
// job per page is active at a time.
func (r *SyncJobRepository) GetActiveByPage(pageID uint) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.Where("page_id = ? AND status IN ?", pageID,
		[]models.SyncJobStatus{models.SyncJobPending, models.SyncJobInProgress}).
		Order("created_at DESC").First(&job).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByPage lists a page's jobs, newest first.
func (r *SyncJobRepository) GetByPage(pageID uint, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	query := r.db.Where("page_id = ?", pageID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

// Update saves the full job record.
func (r *SyncJobRepository) Update(job *models.SyncJob) error {
	return r.db.Save(job).Error
}

// MarkStarted flips a job to IN_PROGRESS and stamps its start time.
func (r *SyncJobRepository) MarkStarted(job *models.SyncJob) error {
	now := time.Now()
	job.Status = models.SyncJobInProgress
	job.StartedAt = &now
	return r.db.Model(job).Updates(map[string]interface{}{
		"status":     models.SyncJobInProgress,
		"started_at": now,
	}).Error
}
