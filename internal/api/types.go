package api

import (
	"time"

	"crmsync/internal/models"
)

// CreatePageRequest is the request body for registering a page.
type CreatePageRequest struct {
	// Platform-side page identifier
	PageID string `json:"pageId" example:"102934610381"`
	// Display name of the page
	Name string `json:"name" example:"Acme Outdoor Gear"`
	// Page access token used for platform API calls
	AccessToken string `json:"accessToken"`
	// Messaging surfaces to sync ("messenger", "instagram")
	Platforms []string `json:"platforms" example:"messenger,instagram"`
	// Pipeline receiving auto-classified contacts (optional)
	AutoPipelineID *uint `json:"autoPipelineId,omitempty"`
	// "skip_existing" or "update_existing" (default skip_existing)
	StageUpdateMode string `json:"stageUpdateMode,omitempty" example:"skip_existing"`
	// Enable periodic background sync
	SyncEnabled bool `json:"syncEnabled"`
	// Seconds between automatic syncs
	SyncInterval int `json:"syncInterval" example:"3600"`
}

// UpdatePageRequest is the request body for updating page settings. Nil
// fields are left unchanged.
type UpdatePageRequest struct {
	Name            *string  `json:"name,omitempty"`
	AccessToken     *string  `json:"accessToken,omitempty"`
	Platforms       []string `json:"platforms,omitempty"`
	AutoPipelineID  *uint    `json:"autoPipelineId,omitempty"`
	StageUpdateMode *string  `json:"stageUpdateMode,omitempty"`
	SyncEnabled     *bool    `json:"syncEnabled,omitempty"`
	SyncInterval    *int     `json:"syncInterval,omitempty"`
}

// SyncJobResponse is the polling view of a sync job.
type SyncJobResponse struct {
	JobID          string               `json:"jobId"`
	PageID         uint                 `json:"pageId"`
	Status         string               `json:"status"`
	SyncedContacts int                  `json:"syncedContacts"`
	FailedContacts int                  `json:"failedContacts"`
	TotalContacts  int                  `json:"totalContacts"`
	TokenExpired   bool                 `json:"tokenExpired"`
	Errors         models.SyncErrorList `json:"errors,omitempty"`
	StartedAt      *time.Time           `json:"startedAt,omitempty"`
	CompletedAt    *time.Time           `json:"completedAt,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

func newSyncJobResponse(job *models.SyncJob) SyncJobResponse {
	return SyncJobResponse{
		JobID:          job.JobID,
		PageID:         job.PageID,
		Status:         string(job.Status),
		SyncedContacts: job.SyncedContacts,
		FailedContacts: job.FailedContacts,
		TotalContacts:  job.TotalContacts,
		TokenExpired:   job.TokenExpired,
		Errors:         job.Errors,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		CreatedAt:      job.CreatedAt,
	}
}
