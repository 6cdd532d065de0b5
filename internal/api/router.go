package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/themescope/internal/api/handler"
	"github.com/timmy/themescope/internal/api/middleware"
	"github.com/timmy/themescope/internal/config"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/metrics"
)

// RouterDeps holds the handlers' collaborators.
type RouterDeps struct {
	Runs    handler.RunService
	Health  *handler.HealthHandler
	History *handler.HistoryHandler // nil without a database
	DataDir string
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps RouterDeps, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.Server.CORS))

	// Create handlers
	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = handler.NewHealthHandler(nil, nil)
	}
	runHandler := handler.NewRunHandler(deps.Runs, deps.DataDir)

	// Health check
	r.GET("/health", healthHandler.Health)

	if cfg.Metrics.Enabled {
		metrics.Init()
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Runs
		v1.POST("/runs", runHandler.StartRun)
		v1.GET("/runs/current", runHandler.GetRun)
		v1.POST("/runs/current/pause", runHandler.PauseRun)
		v1.POST("/runs/current/resume", runHandler.ResumeRun)
		v1.POST("/runs/current/stop", runHandler.StopRun)
		v1.GET("/runs/current/failed-rows", runHandler.GetFailedRows)
		v1.GET("/runs/current/results", runHandler.GetResults)

		// Checkpoints
		v1.GET("/checkpoints", runHandler.GetCheckpoint)

		// Persisted run history
		if deps.History != nil {
			v1.GET("/history/runs", deps.History.ListRuns)
			v1.GET("/history/runs/:id", deps.History.GetRun)
			v1.GET("/history/runs/:id/failed-rows", deps.History.GetFailedRows)
		}
	}

	return r
}
