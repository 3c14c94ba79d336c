package repository

import (
	"time"

	"crmsync/internal/models"

	"gorm.io/gorm"
)

// SyncStateRepository handles database operations for ContactSyncState
type SyncStateRepository struct {
	db *gorm.DB
}

// NewSyncStateRepository creates a new SyncStateRepository
func NewSyncStateRepository(db *gorm.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get returns the watermark row for one participant, or nil when none exists.
func (r *SyncStateRepository) Get(participantID string, pageID uint, platform models.Platform) (*models.ContactSyncState, error) {
	var state models.ContactSyncState
	err := r.db.Where("participant_id = ? AND page_id = ? AND platform = ?",
		participantID, pageID, platform).First(&state).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Advance moves a participant's watermark forward, creating the row on first
// sync. The watermark never moves backwards.
func (r *SyncStateRepository) Advance(participantID string, pageID uint, platform models.Platform, lastMessageAt time.Time) error {
	state, err := r.Get(participantID, pageID, platform)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.ContactSyncState{
			ParticipantID: participantID,
			PageID:        pageID,
			Platform:      platform,
			LastMessageAt: &lastMessageAt,
		}
		return r.db.Create(state).Error
	}
	if state.LastMessageAt != nil && !lastMessageAt.After(*state.LastMessageAt) {
		return nil
	}
	state.LastMessageAt = &lastMessageAt
	return r.db.Save(state).Error
}
