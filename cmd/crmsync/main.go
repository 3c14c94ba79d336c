package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "crmsync/docs" // This is required for swag to find your docs
	"crmsync/internal/api"
	"crmsync/internal/config"
	"crmsync/internal/database"
	"crmsync/internal/models"
	"crmsync/internal/platform"
	"crmsync/internal/repository"
	"crmsync/internal/services"
	"crmsync/internal/utils"
)

// @title CRM Sync API
// @version 1.0
// @description Contact synchronization service pulling messaging-platform conversations into a CRM.

// @host localhost:8080
// @BasePath /
func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	mainLogger := utils.NewLogger("Main")
	mainLogger.Info("Starting CRM Sync Service with log level: %s", logLevel)

	// Load configuration
	cfg := config.Load()

	// Initialize database
	dbConfig := database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}
	if err := database.Initialize(dbConfig); err != nil {
		mainLogger.Error("Failed to initialize database: %v", err)
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	db := database.GetDB()

	// Initialize repositories
	pageRepo := repository.NewPageRepository(db)
	contactRepo := repository.NewContactRepository(db)
	syncJobRepo := repository.NewSyncJobRepository(db)
	pipelineRepo := repository.NewPipelineRepository(db)
	syncStateRepo := repository.NewSyncStateRepository(db)

	// Seed a default pipeline so auto-classification has a target
	if _, err := pipelineRepo.SeedDefault(); err != nil {
		mainLogger.Warn("Failed to seed default pipeline: %v", err)
	}

	// Message cache with background expiry
	cache := services.NewMessageCache(
		time.Duration(cfg.Sync.CacheTTLSeconds)*time.Second,
		cfg.Sync.CacheMaxEntries,
	)
	cacheStop := make(chan struct{})
	cache.StartCleanupRoutine(time.Minute, cacheStop)

	// Scoring and stage assignment
	scorer := services.NewAIScorer(cfg.AI)
	assigner := services.NewStageAssigner(pipelineRepo)

	// Sync controller: platform clients are scoped to a page's token, so
	// the client, fetcher and processor are built per job.
	controller := services.NewSyncController(
		pageRepo,
		syncJobRepo,
		func(fetcher *services.DifferentialFetcher) *services.StreamProcessor {
			return services.NewStreamProcessor(
				fetcher, scorer, assigner, contactRepo, syncStateRepo, cache,
				cfg.Sync.MaxConcurrency, cfg.Sync.BatchSize, cfg.Sync.ChunkSize,
			)
		},
		func(page *models.Page) platform.Client {
			return platform.NewGraphClient(cfg.Platform.BaseURL, cfg.Platform.PageSize, page.AccessToken)
		},
		func(client platform.Client) *services.DifferentialFetcher {
			return services.NewDifferentialFetcher(client, cache, syncStateRepo)
		},
		time.Duration(cfg.Sync.ProgressInterval*float64(time.Second)),
	)
	controller.Start()

	// Periodic auto-sync
	scheduler := services.NewSyncScheduler(pageRepo, controller)
	if err := scheduler.Start(); err != nil {
		mainLogger.Warn("Failed to start auto-sync scheduler: %v", err)
	}

	// Initialize API handlers
	apiHandler := api.NewAPIHandler(pageRepo, contactRepo, syncJobRepo, pipelineRepo, controller, cache)
	wsHandler := api.NewSyncWebSocketHandler(syncJobRepo)

	router := api.NewRouter(apiHandler, wsHandler)

	srv := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: router,
	}

	// Setup graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		mainLogger.Info("Server is running on http://%s", cfg.ServerAddress())
		fmt.Printf("Server is running on http://%s\n", cfg.ServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLogger.Error("Server failed to start: %v", err)
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-stop
	mainLogger.Info("Shutting down server...")
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mainLogger.Info("Stopping auto-sync scheduler...")
	scheduler.Stop()

	mainLogger.Info("Stopping sync controller...")
	controller.Stop()

	close(cacheStop)

	mainLogger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(ctx); err != nil {
		mainLogger.Error("Server forced to shutdown: %v", err)
	}

	mainLogger.Info("Server shutdown complete")
}
