package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timmy/themescope/internal/credential"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db   *gorm.DB
	pool *credential.Pool
}

// NewHealthHandler creates a new health handler. db may be nil when persistence is disabled.
func NewHealthHandler(db *gorm.DB, pool *credential.Pool) *HealthHandler {
	return &HealthHandler{db: db, pool: pool}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	status := http.StatusOK

	if h.pool != nil {
		resp["credentials"] = h.pool.Size()
		if h.pool.Size() == 0 {
			resp["status"] = "degraded"
		}
	}

	if h.db != nil {
		resp["database"] = "ok"
		if err := h.pingDB(c.Request.Context()); err != nil {
			resp["database"] = err.Error()
			resp["status"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, resp)
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
