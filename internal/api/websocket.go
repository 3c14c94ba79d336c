package api

import (
	"net/http"
	"time"

	"crmsync/internal/repository"
	"crmsync/internal/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// SyncWebSocketHandler pushes live sync job progress over WebSocket as an
// alternative to polling the job endpoint.
type SyncWebSocketHandler struct {
	syncJobRepo *repository.SyncJobRepository
	upgrader    websocket.Upgrader
	logger      *utils.Logger
}

// NewSyncWebSocketHandler creates a new sync progress WebSocket handler
func NewSyncWebSocketHandler(syncJobRepo *repository.SyncJobRepository) *SyncWebSocketHandler {
	return &SyncWebSocketHandler{
		syncJobRepo: syncJobRepo,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins in development
				return true
			},
		},
		logger: utils.NewLogger("SyncWebSocket"),
	}
}

// JobProgressHandler streams job snapshots once a second until the job
// reaches a terminal state or the client disconnects.
func (h *SyncWebSocketHandler) JobProgressHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	if _, err := h.syncJobRepo.GetByJobID(jobID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection for job %s: %v", jobID, err)
		return
	}
	defer conn.Close()
	h.logger.Debug("Client subscribed to job %s", jobID)

	// Detect client disconnect; reads are otherwise unused.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		job, err := h.syncJobRepo.GetByJobID(jobID)
		if err != nil {
			h.logger.Warn("Failed to load job %s during streaming: %v", jobID, err)
			return
		}
		if err := conn.WriteJSON(newSyncJobResponse(job)); err != nil {
			return
		}
		if job.Status.IsTerminal() {
			return
		}

		select {
		case <-ticker.C:
		case <-done:
			return
		}
	}
}
