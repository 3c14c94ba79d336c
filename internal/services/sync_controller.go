package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/platform"
	"crmsync/internal/repository"
	"crmsync/internal/utils"

	"github.com/google/uuid"
)

// TriggerResult is the immediate response to a sync trigger.
type TriggerResult struct {
	JobID          string `json:"jobId"`
	AlreadyRunning bool   `json:"alreadyRunning"`
}

// syncTask is one unit of queued work.
type syncTask struct {
	page *models.Page
	job  *models.SyncJob
}

// SyncController owns the sync job lifecycle: it creates or reuses the job
// record, enqueues the work, and a small worker pool executes jobs by
// running the stream processor once per platform. The trigger path never
// waits for the sync itself.
type SyncController struct {
	pages            *repository.PageRepository
	jobs             *repository.SyncJobRepository
	processorFor     func(fetcher *DifferentialFetcher) *StreamProcessor
	clientFor        func(page *models.Page) platform.Client
	fetcherFor       func(client platform.Client) *DifferentialFetcher
	progressInterval time.Duration

	jobQueue chan syncTask
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   *utils.Logger
}

const (
	jobQueueSize   = 32
	jobWorkerCount = 2
)

// NewSyncController creates a controller. clientFor builds a platform client
// scoped to one page's access token; fetcherFor binds a differential fetcher
// to that client.
func NewSyncController(
	pages *repository.PageRepository,
	jobs *repository.SyncJobRepository,
	processorFor func(fetcher *DifferentialFetcher) *StreamProcessor,
	clientFor func(page *models.Page) platform.Client,
	fetcherFor func(client platform.Client) *DifferentialFetcher,
	progressInterval time.Duration,
) *SyncController {
	return &SyncController{
		pages:            pages,
		jobs:             jobs,
		processorFor:     processorFor,
		clientFor:        clientFor,
		fetcherFor:       fetcherFor,
		progressInterval: progressInterval,
		jobQueue:         make(chan syncTask, jobQueueSize),
		stopChan:         make(chan struct{}),
		logger:           utils.NewLogger("SyncController"),
	}
}

// Start launches the job workers.
func (c *SyncController) Start() {
	for i := 0; i < jobWorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	c.logger.Info("Started %d sync job workers", jobWorkerCount)
}

// Stop drains the workers. Queued but unstarted jobs stay PENDING.
func (c *SyncController) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *SyncController) worker(id int) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		case task := <-c.jobQueue:
			c.runJob(task.page, task.job)
		}
	}
}

// Trigger starts a sync for a page, or returns the already-running job. At
// most one non-terminal job exists per page; the check-then-create is
// best-effort, which is acceptable for this domain.
func (c *SyncController) Trigger(pageID uint) (*TriggerResult, error) {
	page, err := c.pages.GetByID(pageID)
	if err != nil {
		return nil, fmt.Errorf("page %d not found: %w", pageID, err)
	}

	if active, err := c.jobs.GetActiveByPage(pageID); err != nil {
		return nil, fmt.Errorf("check active jobs for page %d: %w", pageID, err)
	} else if active != nil {
		c.logger.Info("Sync already running for page %d, reusing job %s", pageID, active.JobID)
		return &TriggerResult{JobID: active.JobID, AlreadyRunning: true}, nil
	}

	job := &models.SyncJob{
		JobID:  uuid.NewString(),
		PageID: pageID,
		Status: models.SyncJobPending,
	}
	if err := c.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}

	select {
	case c.jobQueue <- syncTask{page: page, job: job}:
	default:
		// A job left PENDING here would be reused by every later trigger
		// without ever reaching a worker, blocking the page for good. Fail
		// it so the next trigger starts fresh.
		c.logger.Warn("Job queue full, failing job %s", job.JobID)
		now := time.Now()
		job.Status = models.SyncJobFailed
		job.CompletedAt = &now
		job.Errors = append(job.Errors, models.SyncError{Message: "job queue full"})
		if err := c.jobs.Update(job); err != nil {
			return nil, fmt.Errorf("fail rejected job %s: %w", job.JobID, err)
		}
		return nil, fmt.Errorf("job queue full, sync for page %d rejected", pageID)
	}

	return &TriggerResult{JobID: job.JobID}, nil
}

// Cancel marks a non-terminal job CANCELLED. Workers already in flight are
// allowed to complete; the tracker's finalize guard keeps their outcome from
// overwriting the cancelled state.
func (c *SyncController) Cancel(jobID string) error {
	job, err := c.jobs.GetByJobID(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	now := time.Now()
	job.Status = models.SyncJobCancelled
	job.CompletedAt = &now
	return c.jobs.Update(job)
}

func (c *SyncController) runJob(page *models.Page, job *models.SyncJob) {
	tracker := NewProgressTracker(c.jobs, job.JobID, c.progressInterval)

	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorWithStack(fmt.Errorf("%v", r), "Panic in sync job %s", job.JobID)
			tracker.Finalize(models.SyncJobFailed, ProgressUpdate{
				Errors: []models.SyncError{{Message: fmt.Sprintf("internal error: %v", r)}},
			})
		}
	}()

	// A job can be cancelled while sitting in the queue; starting it anyway
	// would resurrect a terminal record.
	if current, err := c.jobs.GetByJobID(job.JobID); err == nil && current.Status.IsTerminal() {
		c.logger.Info("Job %s is already %s, skipping run", job.JobID, current.Status)
		return
	}

	if err := c.jobs.MarkStarted(job); err != nil {
		c.logger.Error("Failed to mark job %s started: %v", job.JobID, err)
		tracker.Finalize(models.SyncJobFailed, ProgressUpdate{
			Errors: []models.SyncError{{Message: fmt.Sprintf("failed to start job: %v", err)}},
		})
		return
	}
	c.logger.Info("Job %s started for page %d (platforms: %v)", job.JobID, page.ID, page.Platforms)

	client := c.clientFor(page)
	fetcher := c.fetcherFor(client)
	processor := c.processorFor(fetcher)

	ctx := context.Background()
	var (
		totalSynced  int
		totalFailed  int
		totalSeen    int
		tokenExpired bool
		allErrors    []models.SyncError
	)

	for _, raw := range page.Platforms {
		plat := models.Platform(raw)
		if tokenExpired {
			// The token is shared across surfaces; once expired there is no
			// point attempting the next platform with it.
			break
		}

		stream, err := client.Conversations(ctx, page.PageID, plat)
		if err != nil {
			if platform.IsTokenExpired(err) {
				tokenExpired = true
			}
			allErrors = append(allErrors, models.SyncError{
				Platform: plat,
				Message:  fmt.Sprintf("failed to list conversations: %v", err),
			})
			continue
		}

		base := totalSynced
		progressFn := func(synced, _ int) {
			current := base + synced
			tracker.UpdateProgress(ProgressUpdate{SyncedContacts: &current})
		}

		result := processor.Process(ctx, page, plat, stream, progressFn)
		totalSynced += result.SuccessCount
		totalFailed += result.FailedCount
		totalSeen += result.SuccessCount + result.FailedCount + result.SkippedCount
		allErrors = append(allErrors, result.Errors...)
		if result.TokenExpired {
			tokenExpired = true
		}

		tracker.ForceUpdate(ProgressUpdate{
			SyncedContacts: &totalSynced,
			FailedContacts: &totalFailed,
			TotalContacts:  &totalSeen,
			TokenExpired:   &tokenExpired,
		})
	}

	status := models.SyncJobCompleted
	if tokenExpired && totalSynced == 0 {
		status = models.SyncJobFailed
	}
	tracker.Finalize(status, ProgressUpdate{
		SyncedContacts: &totalSynced,
		FailedContacts: &totalFailed,
		TotalContacts:  &totalSeen,
		TokenExpired:   &tokenExpired,
		Errors:         allErrors,
	})

	if status == models.SyncJobCompleted {
		if err := c.pages.TouchLastSync(page.ID, time.Now()); err != nil {
			c.logger.Warn("Failed to stamp last sync for page %d: %v", page.ID, err)
		}
	}
	c.logger.Info("Job %s finished: %s (%d synced, %d failed, token expired: %v)",
		job.JobID, status, totalSynced, totalFailed, tokenExpired)
}
