package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SyncJobStatus is the lifecycle state of a sync job.
// PENDING -> IN_PROGRESS -> {COMPLETED, FAILED, CANCELLED}; terminal states are final.
type SyncJobStatus string

const (
	SyncJobPending    SyncJobStatus = "PENDING"
	SyncJobInProgress SyncJobStatus = "IN_PROGRESS"
	SyncJobCompleted  SyncJobStatus = "COMPLETED"
	SyncJobFailed     SyncJobStatus = "FAILED"
	SyncJobCancelled  SyncJobStatus = "CANCELLED"
)

// IsTerminal reports whether the status is final.
func (s SyncJobStatus) IsTerminal() bool {
	return s == SyncJobCompleted || s == SyncJobFailed || s == SyncJobCancelled
}

// SyncError is one structured error recorded against a job.
type SyncError struct {
	ParticipantID string   `json:"participantId,omitempty"`
	ContactID     uint     `json:"contactId,omitempty"`
	Platform      Platform `json:"platform,omitempty"`
	Message       string   `json:"message"`
}

// SyncErrorList is a custom type for storing the ordered error list in database
type SyncErrorList []SyncError

// Scan implements the sql.Scanner interface
func (e *SyncErrorList) Scan(value interface{}) error {
	if value == nil {
		*e = SyncErrorList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, isString := value.(string); isString {
			bytes = []byte(str)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, e)
}

// Value implements the driver.Valuer interface
func (e SyncErrorList) Value() (driver.Value, error) {
	if len(e) == 0 {
		return "[]", nil
	}
	return json.Marshal(e)
}

// SyncJob tracks one execution of the contact sync pipeline for one page.
// Created by the sync controller before work begins; mutated only by the
// progress tracker and the finalize step; immutable once terminal.
type SyncJob struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	JobID          string        `gorm:"uniqueIndex;not null;type:varchar(36)" json:"jobId"`
	PageID         uint          `gorm:"not null;index" json:"pageId"`
	Page           Page          `gorm:"foreignKey:PageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Status         SyncJobStatus `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	SyncedContacts int           `gorm:"default:0" json:"syncedContacts"`
	FailedContacts int           `gorm:"default:0" json:"failedContacts"`
	TotalContacts  int           `gorm:"default:0" json:"totalContacts"`
	TokenExpired   bool          `gorm:"default:false" json:"tokenExpired"`
	Errors         SyncErrorList `gorm:"type:json" json:"errors"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}
