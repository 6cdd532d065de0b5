package handler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/timmy/themescope/internal/checkpoint"
	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/dataset/jsonl"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/service"
)

// RunService is the run lifecycle the handler drives. *service.RunManager implements it.
type RunService interface {
	Start(ctx context.Context, req service.StartRequest) (service.RunStatus, error)
	Status() (service.RunStatus, error)
	Pause() error
	Resume() error
	Stop() error
	FailedRows() ([]domain.FailedRow, error)
	Results() ([]domain.ColumnResult, error)
	Checkpoint(ctx context.Context, datasetRef string) (*checkpoint.Snapshot, error)
}

// RunHandler handles run control operations.
type RunHandler struct {
	runs    RunService
	dataDir string
}

// NewRunHandler creates a new run handler.
// Parameters:
//   - runs: run lifecycle service.
//   - dataDir: directory dataset paths are resolved against.
//
// Returns:
//   - *RunHandler: initialized handler.
func NewRunHandler(runs RunService, dataDir string) *RunHandler {
	return &RunHandler{runs: runs, dataDir: dataDir}
}

// StartRunRequest represents the start run API request.
type StartRunRequest struct {
	Dataset  string   `json:"dataset" binding:"required"`
	IDColumn string   `json:"id_column" binding:"required"`
	Columns  []string `json:"columns" binding:"required,min=1"`
	Resume   bool     `json:"resume"`
}

// FailedRowsResponse represents the failed rows of the current run.
type FailedRowsResponse struct {
	RunID      string             `json:"run_id"`
	Count      int                `json:"count"`
	FailedRows []domain.FailedRow `json:"failed_rows"`
}

// ResultsResponse represents the column results of the current run.
type ResultsResponse struct {
	RunID   string                `json:"run_id"`
	Columns []domain.ColumnResult `json:"columns"`
}

// datasetPath resolves name inside the data directory; it never escapes it.
func (h *RunHandler) datasetPath(name string) string {
	return filepath.Join(h.dataDir, filepath.Clean("/"+name))
}

func (h *RunHandler) provider(name, idColumn string) dataset.Provider {
	return jsonl.NewAdapter(h.datasetPath(name), idColumn)
}

// StartRun starts a classification run in the background.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *RunHandler) StartRun(c *gin.Context) {
	ctx := c.Request.Context()

	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid run request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.CtxInfo(ctx, "Received run request: dataset=%s, columns=%v, resume=%v, client_ip=%s",
		req.Dataset, req.Columns, req.Resume, c.ClientIP())

	status, err := h.runs.Start(ctx, service.StartRequest{
		Provider: h.provider(req.Dataset, req.IDColumn),
		Columns:  req.Columns,
		Resume:   req.Resume,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrRunInProgress):
		logger.CtxWarn(ctx, "Run request rejected: already running, client_ip=%s", c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "A run is already in progress"})
		return
	case errors.Is(err, domain.ErrConfiguration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "Dataset not found: " + req.Dataset})
		return
	default:
		logger.CtxError(ctx, "Failed to start run: dataset=%s, error=%v", req.Dataset, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.With(logger.Fields{
		logger.FieldRunID:   status.RunID,
		logger.FieldDataset: status.DatasetRef,
		logger.FieldRows:    status.TotalRows,
	}).Info(ctx, "Run started: resumed=%v", status.Resumed)

	c.JSON(http.StatusAccepted, status)
}

// GetRun returns the status of the current or most recent run.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *RunHandler) GetRun(c *gin.Context) {
	status, err := h.runs.Status()
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PauseRun pauses the current run.
func (h *RunHandler) PauseRun(c *gin.Context) {
	h.control(c, "pause", h.runs.Pause)
}

// ResumeRun resumes the current run.
func (h *RunHandler) ResumeRun(c *gin.Context) {
	h.control(c, "resume", h.runs.Resume)
}

// StopRun requests a cooperative stop of the current run.
func (h *RunHandler) StopRun(c *gin.Context) {
	h.control(c, "stop", h.runs.Stop)
}

func (h *RunHandler) control(c *gin.Context, action string, fn func() error) {
	ctx := c.Request.Context()
	if err := fn(); err != nil {
		logger.CtxWarn(ctx, "Run control rejected: action=%s, error=%v", action, err)
		h.writeControlError(c, err)
		return
	}
	status, err := h.runs.Status()
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	logger.CtxInfo(ctx, "Run control applied: action=%s, run_id=%s, state=%s", action, status.RunID, status.State)
	c.JSON(http.StatusOK, status)
}

func (h *RunHandler) writeControlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoRun):
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has been started"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetFailedRows returns the failed-rows ledger of the current run.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *RunHandler) GetFailedRows(c *gin.Context) {
	status, err := h.runs.Status()
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	rows, err := h.runs.FailedRows()
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	if rows == nil {
		rows = []domain.FailedRow{}
	}
	c.JSON(http.StatusOK, FailedRowsResponse{RunID: status.RunID, Count: len(rows), FailedRows: rows})
}

// GetResults returns the column results of the current run, completed or partial.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *RunHandler) GetResults(c *gin.Context) {
	status, err := h.runs.Status()
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	columns, err := h.runs.Results()
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResultsResponse{RunID: status.RunID, Columns: columns})
}

// GetCheckpoint returns the stored checkpoint of a dataset.
// Parameters:
//   - c: Gin request context; query parameter "dataset" names the dataset file.
//
// Returns: none (writes JSON response).
func (h *RunHandler) GetCheckpoint(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Query("dataset")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dataset is required"})
		return
	}

	ref := h.provider(name, "").Ref()
	snap, err := h.runs.Checkpoint(ctx, ref)
	if err != nil {
		logger.CtxError(ctx, "Failed to load checkpoint: dataset=%s, error=%v", ref, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No checkpoint for dataset: " + name})
		return
	}
	c.JSON(http.StatusOK, snap)
}
