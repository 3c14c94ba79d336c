package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/services"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// HealthCheck godoc
// @Summary Show the status of server.
// @Description get the status of server.
// @Tags root
// @Accept */*
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/health [get]
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type APIHandler struct {
	PageRepo     *repository.PageRepository
	ContactRepo  *repository.ContactRepository
	SyncJobRepo  *repository.SyncJobRepository
	PipelineRepo *repository.PipelineRepository
	Controller   *services.SyncController
	Cache        *services.MessageCache
}

func NewAPIHandler(
	pageRepo *repository.PageRepository,
	contactRepo *repository.ContactRepository,
	syncJobRepo *repository.SyncJobRepository,
	pipelineRepo *repository.PipelineRepository,
	controller *services.SyncController,
	cache *services.MessageCache,
) *APIHandler {
	return &APIHandler{
		PageRepo:     pageRepo,
		ContactRepo:  contactRepo,
		SyncJobRepo:  syncJobRepo,
		PipelineRepo: pipelineRepo,
		Controller:   controller,
		Cache:        cache,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func pathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	return uint(id), err
}

// CreatePageHandler godoc
// @Summary Register a page for contact syncing
// @Tags pages
// @Accept json
// @Produce json
// @Param request body CreatePageRequest true "Page registration"
// @Success 201 {object} models.Page
// @Failure 400 {string} string "Bad Request"
// @Router /api/pages [post]
func (h *APIHandler) CreatePageHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.PageID == "" || req.AccessToken == "" {
		http.Error(w, "pageId and accessToken are required", http.StatusBadRequest)
		return
	}
	if len(req.Platforms) == 0 {
		req.Platforms = []string{string(models.PlatformMessenger)}
	}
	mode := models.StageUpdateMode(req.StageUpdateMode)
	if mode == "" {
		mode = models.StageUpdateSkipExisting
	}
	if mode != models.StageUpdateSkipExisting && mode != models.StageUpdateUpdateExisting {
		http.Error(w, "stageUpdateMode must be skip_existing or update_existing", http.StatusBadRequest)
		return
	}

	page := &models.Page{
		PageID:          req.PageID,
		Name:            req.Name,
		AccessToken:     req.AccessToken,
		Platforms:       models.StringSlice(req.Platforms),
		AutoPipelineID:  req.AutoPipelineID,
		StageUpdateMode: mode,
		SyncEnabled:     req.SyncEnabled,
		SyncInterval:    req.SyncInterval,
	}
	if err := h.PageRepo.Create(page); err != nil {
		http.Error(w, "Failed to create page: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

// GetPagesHandler godoc
// @Summary List registered pages
// @Tags pages
// @Produce json
// @Success 200 {array} models.Page
// @Router /api/pages [get]
func (h *APIHandler) GetPagesHandler(w http.ResponseWriter, r *http.Request) {
	pages, err := h.PageRepo.GetAll()
	if err != nil {
		http.Error(w, "Failed to list pages: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

// GetPageHandler godoc
// @Summary Get one page
// @Tags pages
// @Produce json
// @Param id path int true "Page ID"
// @Success 200 {object} models.Page
// @Failure 404 {string} string "Not Found"
// @Router /api/pages/{id} [get]
func (h *APIHandler) GetPageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid page ID", http.StatusBadRequest)
		return
	}
	page, err := h.PageRepo.GetByID(id)
	if err != nil {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// UpdatePageHandler godoc
// @Summary Update page settings
// @Tags pages
// @Accept json
// @Produce json
// @Param id path int true "Page ID"
// @Param request body UpdatePageRequest true "Fields to update"
// @Success 200 {object} models.Page
// @Failure 404 {string} string "Not Found"
// @Router /api/pages/{id} [put]
func (h *APIHandler) UpdatePageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid page ID", http.StatusBadRequest)
		return
	}
	page, err := h.PageRepo.GetByID(id)
	if err != nil {
		http.Error(w, "Page not found", http.StatusNotFound)
		return
	}

	var req UpdatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name != nil {
		page.Name = *req.Name
	}
	if req.AccessToken != nil {
		page.AccessToken = *req.AccessToken
	}
	if req.Platforms != nil {
		page.Platforms = models.StringSlice(req.Platforms)
	}
	if req.AutoPipelineID != nil {
		page.AutoPipelineID = req.AutoPipelineID
	}
	if req.StageUpdateMode != nil {
		mode := models.StageUpdateMode(*req.StageUpdateMode)
		if mode != models.StageUpdateSkipExisting && mode != models.StageUpdateUpdateExisting {
			http.Error(w, "stageUpdateMode must be skip_existing or update_existing", http.StatusBadRequest)
			return
		}
		page.StageUpdateMode = mode
	}
	if req.SyncEnabled != nil {
		page.SyncEnabled = *req.SyncEnabled
	}
	if req.SyncInterval != nil {
		page.SyncInterval = *req.SyncInterval
	}

	if err := h.PageRepo.Update(page); err != nil {
		http.Error(w, "Failed to update page: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// TriggerSyncHandler godoc
// @Summary Start a contact sync for a page
// @Description Kicks off an asynchronous sync job and returns its id immediately. When a job is already running for the page, the existing job id is returned instead of starting a second one.
// @Tags sync
// @Produce json
// @Param id path int true "Page ID"
// @Success 202 {object} services.TriggerResult
// @Failure 404 {string} string "Not Found"
// @Router /api/pages/{id}/sync [post]
func (h *APIHandler) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid page ID", http.StatusBadRequest)
		return
	}
	result, err := h.Controller.Trigger(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Page not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to trigger sync: "+err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusAccepted
	if result.AlreadyRunning {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// GetSyncJobHandler godoc
// @Summary Get sync job status
// @Description Returns current job counters and errors. Safe to poll while the job is running; in-flight counters may be slightly stale.
// @Tags sync
// @Produce json
// @Param jobId path string true "Job UUID"
// @Success 200 {object} SyncJobResponse
// @Failure 404 {string} string "Not Found"
// @Router /api/sync-jobs/{jobId} [get]
func (h *APIHandler) GetSyncJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	job, err := h.SyncJobRepo.GetByJobID(jobID)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSyncJobResponse(job))
}

// CancelSyncJobHandler godoc
// @Summary Cancel a running sync job
// @Tags sync
// @Produce json
// @Param jobId path string true "Job UUID"
// @Success 200 {object} map[string]string
// @Failure 409 {string} string "Job already terminal"
// @Router /api/sync-jobs/{jobId}/cancel [post]
func (h *APIHandler) CancelSyncJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if err := h.Controller.Cancel(jobID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetPageSyncJobsHandler godoc
// @Summary List a page's sync jobs
// @Tags sync
// @Produce json
// @Param id path int true "Page ID"
// @Param limit query int false "Max jobs to return (default 20)"
// @Success 200 {array} SyncJobResponse
// @Router /api/pages/{id}/sync-jobs [get]
func (h *APIHandler) GetPageSyncJobsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid page ID", http.StatusBadRequest)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := h.SyncJobRepo.GetByPage(id, limit)
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	responses := make([]SyncJobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, newSyncJobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, responses)
}

// GetPageContactsHandler godoc
// @Summary List a page's synced contacts
// @Tags contacts
// @Produce json
// @Param id path int true "Page ID"
// @Param limit query int false "Max contacts (default 50)"
// @Param offset query int false "Pagination offset"
// @Success 200 {object} map[string]interface{}
// @Router /api/pages/{id}/contacts [get]
func (h *APIHandler) GetPageContactsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid page ID", http.StatusBadRequest)
		return
	}
	limit, offset := 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	contacts, err := h.ContactRepo.GetByPage(id, limit, offset)
	if err != nil {
		http.Error(w, "Failed to list contacts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	total, err := h.ContactRepo.GetCount(id)
	if err != nil {
		http.Error(w, "Failed to count contacts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contacts": contacts,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetPipelinesHandler godoc
// @Summary List pipelines
// @Tags pipelines
// @Produce json
// @Success 200 {array} models.Pipeline
// @Router /api/pipelines [get]
func (h *APIHandler) GetPipelinesHandler(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.PipelineRepo.GetAll()
	if err != nil {
		http.Error(w, "Failed to list pipelines: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

// GetPipelineStagesHandler godoc
// @Summary List a pipeline's stages in order
// @Tags pipelines
// @Produce json
// @Param id path int true "Pipeline ID"
// @Success 200 {array} models.PipelineStage
// @Router /api/pipelines/{id}/stages [get]
func (h *APIHandler) GetPipelineStagesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid pipeline ID", http.StatusBadRequest)
		return
	}
	stages, err := h.PipelineRepo.GetStages(id)
	if err != nil {
		http.Error(w, "Failed to list stages: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stages)
}

// GetCacheStatsHandler godoc
// @Summary Message cache statistics
// @Tags cache
// @Produce json
// @Success 200 {object} services.CacheStats
// @Router /api/cache/stats [get]
func (h *APIHandler) GetCacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}
