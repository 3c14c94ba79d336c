package services

import (
	"sync"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/utils"
)

// ProgressUpdate is a partial update to a sync job's progress fields. Nil
// fields are left untouched; Errors are appended, not replaced.
type ProgressUpdate struct {
	SyncedContacts *int
	FailedContacts *int
	TotalContacts  *int
	TokenExpired   *bool
	Errors         []models.SyncError
}

// ProgressTracker coalesces frequent progress updates into throttled writes
// against one job record. Per-contact writes would dominate write volume on
// large syncs; updates are buffered and flushed at most once per interval,
// except TotalContacts which is structurally significant and flushes
// immediately. Flush failures are logged and swallowed so progress
// reporting can never sink the sync itself.
type ProgressTracker struct {
	mu          sync.Mutex
	jobs        *repository.SyncJobRepository
	jobID       string
	interval    time.Duration
	pending     ProgressUpdate
	hasPending  bool
	lastFlushAt time.Time
	finalized   bool
	logger      *utils.Logger
}

// NewProgressTracker binds a tracker to one job id.
func NewProgressTracker(jobs *repository.SyncJobRepository, jobID string, interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ProgressTracker{
		jobs:     jobs,
		jobID:    jobID,
		interval: interval,
		logger:   utils.NewLogger("ProgressTracker"),
	}
}

// UpdateProgress merges the partial update into the pending buffer and
// flushes only when the throttle interval has elapsed or the update carries
// TotalContacts.
func (t *ProgressTracker) UpdateProgress(update ProgressUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}

	t.mergeLocked(update)

	if update.TotalContacts != nil || time.Since(t.lastFlushAt) >= t.interval {
		t.flushLocked()
	}
}

// ForceUpdate merges and flushes immediately, ignoring the throttle.
func (t *ProgressTracker) ForceUpdate(update ProgressUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.mergeLocked(update)
	t.flushLocked()
}

// Finalize merges any remaining buffered progress, stamps the terminal
// status and completion time, and writes. It is the only call allowed to
// leave the job terminal, and it refuses to overwrite a job that was
// cancelled out from under it.
func (t *ProgressTracker) Finalize(status models.SyncJobStatus, update ProgressUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.finalized = true
	t.mergeLocked(update)

	job, err := t.jobs.GetByJobID(t.jobID)
	if err != nil {
		t.logger.Error("Failed to load job %s for finalization: %v", t.jobID, err)
		return
	}
	if job.Status == models.SyncJobCancelled {
		t.logger.Warn("Job %s was cancelled, discarding finalization to %s", t.jobID, status)
		return
	}

	t.applyPendingLocked(job)
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now

	if err := t.jobs.Update(job); err != nil {
		t.logger.Error("Failed to finalize job %s: %v", t.jobID, err)
	}
}

// mergeLocked folds an update into the pending buffer. Caller holds mu.
func (t *ProgressTracker) mergeLocked(update ProgressUpdate) {
	if update.SyncedContacts != nil {
		t.pending.SyncedContacts = update.SyncedContacts
	}
	if update.FailedContacts != nil {
		t.pending.FailedContacts = update.FailedContacts
	}
	if update.TotalContacts != nil {
		t.pending.TotalContacts = update.TotalContacts
	}
	if update.TokenExpired != nil {
		t.pending.TokenExpired = update.TokenExpired
	}
	t.pending.Errors = append(t.pending.Errors, update.Errors...)
	t.hasPending = true
}

// flushLocked writes the pending buffer to the job record. Caller holds mu.
func (t *ProgressTracker) flushLocked() {
	if !t.hasPending {
		return
	}

	job, err := t.jobs.GetByJobID(t.jobID)
	if err != nil {
		t.logger.Warn("Progress flush skipped, failed to load job %s: %v", t.jobID, err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	t.applyPendingLocked(job)
	if err := t.jobs.Update(job); err != nil {
		t.logger.Warn("Progress flush failed for job %s: %v", t.jobID, err)
		return
	}

	t.pending = ProgressUpdate{}
	t.hasPending = false
	t.lastFlushAt = time.Now()
}

func (t *ProgressTracker) applyPendingLocked(job *models.SyncJob) {
	if t.pending.SyncedContacts != nil {
		job.SyncedContacts = *t.pending.SyncedContacts
	}
	if t.pending.FailedContacts != nil {
		job.FailedContacts = *t.pending.FailedContacts
	}
	if t.pending.TotalContacts != nil {
		job.TotalContacts = *t.pending.TotalContacts
	}
	if t.pending.TokenExpired != nil {
		job.TokenExpired = *t.pending.TokenExpired
	}
	job.Errors = append(job.Errors, t.pending.Errors...)
}
