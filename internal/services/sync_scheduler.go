package services

import (
	"time"

	"crmsync/internal/repository"
	"crmsync/internal/utils"

	"github.com/robfig/cron/v3"
)

// SyncScheduler periodically triggers syncs for pages with auto-sync
// enabled. Each page carries its own interval; the scheduler wakes once a
// minute and triggers only pages whose interval has elapsed since their last
// successful sync. A page with a job already running is skipped by the
// controller's reuse check.
type SyncScheduler struct {
	pages      *repository.PageRepository
	controller *SyncController
	cron       *cron.Cron
	logger     *utils.Logger
}

// NewSyncScheduler creates a scheduler.
func NewSyncScheduler(pages *repository.PageRepository, controller *SyncController) *SyncScheduler {
	return &SyncScheduler{
		pages:      pages,
		controller: controller,
		cron:       cron.New(),
		logger:     utils.NewLogger("SyncScheduler"),
	}
}

// Start registers the periodic check and starts the cron runner.
func (s *SyncScheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Auto-sync scheduler started")
	return nil
}

// Stop halts the cron runner, waiting for a running tick to finish.
func (s *SyncScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *SyncScheduler) tick() {
	pages, err := s.pages.GetSyncEnabled()
	if err != nil {
		s.logger.Error("Failed to load sync-enabled pages: %v", err)
		return
	}

	now := time.Now()
	for _, page := range pages {
		interval := time.Duration(page.SyncInterval) * time.Second
		if interval <= 0 {
			interval = time.Hour
		}
		if page.LastSyncAt != nil && now.Sub(*page.LastSyncAt) < interval {
			continue
		}

		result, err := s.controller.Trigger(page.ID)
		if err != nil {
			s.logger.Error("Auto-sync trigger failed for page %d: %v", page.ID, err)
			continue
		}
		if result.AlreadyRunning {
			s.logger.Debug("Auto-sync skipped for page %d, job %s still running", page.ID, result.JobID)
		} else {
			s.logger.Info("Auto-sync started for page %d, job %s", page.ID, result.JobID)
		}
	}
}
