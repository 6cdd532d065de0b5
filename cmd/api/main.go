package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/timmy/themescope/internal/api"
	"github.com/timmy/themescope/internal/api/handler"
	"github.com/timmy/themescope/internal/app"
	"github.com/timmy/themescope/internal/config"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/service"
)

func main() {
	// Initialize logger from LOG_* environment variables
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx := logger.SetComponent(context.Background(), "server")

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments.
	// A named config file is watched and reloaded; the next run picks it up.
	var (
		current atomic.Pointer[config.Config]
		built   atomic.Pointer[app.Components]
	)
	configPath := os.Getenv("CONFIG_PATH")

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Watch(configPath, func(next *config.Config) {
			current.Store(next)
			components := built.Load()
			if components == nil {
				return
			}
			added, removed := components.SyncCredentials(next.Classifier.APIKeys)
			logger.CtxInfo(ctx, "Config reloaded: path=%s, credentials_added=%d, credentials_removed=%d",
				configPath, added, removed)
		}, func(err error) {
			logger.CtxWarn(ctx, "Ignoring config change: path=%s, error=%v", configPath, err)
		})
	} else {
		cfg, err = config.Load("")
	}
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	current.CompareAndSwap(nil, cfg)

	components, err := app.Build(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize components")
	}
	defer components.Close()
	built.Store(components)

	manager := service.NewRunManager(func() *service.Orchestrator {
		return components.Orchestrator(current.Load())
	}, components.Checkpoints)

	deps := api.RouterDeps{
		Runs:    manager,
		Health:  handler.NewHealthHandler(components.DB, components.Pool),
		DataDir: cfg.Run.DataDir,
	}
	if components.Runs != nil {
		deps.History = handler.NewHistoryHandler(components.Runs, components.FailedRows)
	}

	// Setup router
	router := api.SetupRouter(cfg, deps, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":     cfg.Server.Port,
			"mode":     cfg.Server.Mode,
			"data_dir": cfg.Run.DataDir,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// A running classification gets a stop request and time to finish its
	// in-flight batches before the listener closes.
	runCtx, cancelRun := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelRun()
	if err := manager.Shutdown(runCtx); err != nil {
		appLogger.WithError(err).Warn("Run did not finish before shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
