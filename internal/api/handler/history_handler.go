package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/repository"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// RunHistory reads persisted run records. *repository.RunRepository implements it.
type RunHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ClassificationRun, error)
	GetByID(ctx context.Context, id string) (*domain.ClassificationRun, error)
}

// FailedRowHistory reads persisted failed-rows ledgers.
// *repository.FailedRowRepository implements it.
type FailedRowHistory interface {
	ListByRun(ctx context.Context, runID string) ([]domain.FailedRow, error)
	CountByRun(ctx context.Context, runID string) (int64, error)
}

// HistoryHandler serves past runs from the database.
type HistoryHandler struct {
	runs   RunHistory
	failed FailedRowHistory
}

// NewHistoryHandler creates a new history handler.
// Parameters:
//   - runs: run record reader.
//   - failed: failed-rows ledger reader.
//
// Returns:
//   - *HistoryHandler: initialized handler.
func NewHistoryHandler(runs RunHistory, failed FailedRowHistory) *HistoryHandler {
	return &HistoryHandler{runs: runs, failed: failed}
}

// RunListResponse represents a page of recent runs.
type RunListResponse struct {
	Runs  []domain.ClassificationRun `json:"runs"`
	Count int                        `json:"count"`
}

// RunDetailResponse represents one run record with its ledger size.
type RunDetailResponse struct {
	*domain.ClassificationRun
	FailedRowCount int64 `json:"failed_row_count"`
}

// ListRuns returns the most recent runs.
// Parameters:
//   - c: Gin request context; query parameter "limit" caps the page size.
//
// Returns: none (writes JSON response).
func (h *HistoryHandler) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := h.runs.ListRecent(ctx, limit)
	if err != nil {
		logger.CtxError(ctx, "Failed to list runs: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []domain.ClassificationRun{}
	}
	c.JSON(http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

// GetRun returns one persisted run.
func (h *HistoryHandler) GetRun(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	run, err := h.runs.GetByID(ctx, id)
	if err != nil {
		h.writeLookupError(c, id, err)
		return
	}
	count, err := h.failed.CountByRun(ctx, id)
	if err != nil {
		logger.CtxError(ctx, "Failed to count failed rows: run_id=%s, error=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, RunDetailResponse{ClassificationRun: run, FailedRowCount: count})
}

// GetFailedRows returns the persisted ledger of one run.
func (h *HistoryHandler) GetFailedRows(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.runs.GetByID(ctx, id); err != nil {
		h.writeLookupError(c, id, err)
		return
	}
	rows, err := h.failed.ListByRun(ctx, id)
	if err != nil {
		logger.CtxError(ctx, "Failed to list failed rows: run_id=%s, error=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []domain.FailedRow{}
	}
	c.JSON(http.StatusOK, FailedRowsResponse{RunID: id, Count: len(rows), FailedRows: rows})
}

func (h *HistoryHandler) writeLookupError(c *gin.Context, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found: " + id})
		return
	}
	logger.CtxError(c.Request.Context(), "Failed to load run: run_id=%s, error=%v", id, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
