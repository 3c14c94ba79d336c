package api

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
)

// NewRouter creates a new router with all the necessary routes.
func NewRouter(handler *APIHandler, wsHandler *SyncWebSocketHandler) http.Handler {
	router := mux.NewRouter()

	// Create API subrouter with /api prefix
	apiRouter := router.PathPrefix("/api").Subrouter()

	// Health check
	apiRouter.HandleFunc("/health", HealthCheck).Methods("GET")

	// Page management
	apiRouter.HandleFunc("/pages", handler.CreatePageHandler).Methods("POST")
	apiRouter.HandleFunc("/pages", handler.GetPagesHandler).Methods("GET")
	apiRouter.HandleFunc("/pages/{id}", handler.GetPageHandler).Methods("GET")
	apiRouter.HandleFunc("/pages/{id}", handler.UpdatePageHandler).Methods("PUT")

	// Contact sync
	apiRouter.HandleFunc("/pages/{id}/sync", handler.TriggerSyncHandler).Methods("POST")
	apiRouter.HandleFunc("/pages/{id}/sync-jobs", handler.GetPageSyncJobsHandler).Methods("GET")
	apiRouter.HandleFunc("/pages/{id}/contacts", handler.GetPageContactsHandler).Methods("GET")
	apiRouter.HandleFunc("/sync-jobs/{jobId}", handler.GetSyncJobHandler).Methods("GET")
	apiRouter.HandleFunc("/sync-jobs/{jobId}/cancel", handler.CancelSyncJobHandler).Methods("POST")

	// WebSocket endpoint for live job progress
	apiRouter.HandleFunc("/ws/sync-jobs/{jobId}", wsHandler.JobProgressHandler).Methods("GET")

	// Pipelines
	apiRouter.HandleFunc("/pipelines", handler.GetPipelinesHandler).Methods("GET")
	apiRouter.HandleFunc("/pipelines/{id}/stages", handler.GetPipelineStagesHandler).Methods("GET")

	// Cache statistics endpoint
	apiRouter.HandleFunc("/cache/stats", handler.GetCacheStatsHandler).Methods("GET")

	// Swagger documentation
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// Add CORS middleware
	return enableCORS(router)
}

// enableCORS adds CORS headers to responses
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
