package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/themescope/internal/batcher"
	"github.com/timmy/themescope/internal/checkpoint"
	"github.com/timmy/themescope/internal/config"
	"github.com/timmy/themescope/internal/credential"
	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/metrics"
	"github.com/timmy/themescope/internal/prompts"
)

// Options configures how the Orchestrator schedules a run.
type Options struct {
	Batching         batcher.Config
	Retry            RetryPolicy
	Parallel         bool
	InterBatchDelay  time.Duration
	InterColumnDelay time.Duration
	PromptTemplate   string
}

// OptionsFromConfig maps the application configuration onto run options.
func OptionsFromConfig(cfg *config.Config, template string) Options {
	return Options{
		Batching: batcher.Config{
			BaseSize:             cfg.Batching.BaseSize,
			TokenBudget:          cfg.Batching.TokenBudget,
			PromptOverheadTokens: cfg.Batching.PromptOverheadTokens,
			RowOverheadTokens:    cfg.Batching.RowOverheadTokens,
		},
		Retry: RetryPolicy{
			TransientRetries:  cfg.Retry.TransientRetries,
			TransientDelay:    cfg.Retry.TransientDelay,
			RateLimitRetries:  cfg.Retry.RateLimitRetries,
			BackoffInitial:    cfg.Retry.BackoffInitial,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			BackoffMax:        cfg.Retry.BackoffMax,
		},
		Parallel:         cfg.Run.Parallel,
		InterBatchDelay:  cfg.Run.InterBatchDelay,
		InterColumnDelay: cfg.Run.InterColumnDelay,
		PromptTemplate:   template,
	}
}

// RunRequest selects what a run classifies.
type RunRequest struct {
	Dataset *dataset.Dataset
	Columns []string
	// Resume continues from the dataset's checkpoint when one matches Columns.
	Resume bool
}

// Progress is reported after every finished batch.
type Progress struct {
	RunID        string
	Column       string
	ColumnIndex  int // 1-based position in the selection
	ColumnCount  int
	BatchesDone  int
	BatchesTotal int
	FailedRows   int
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// RunReport is the result of a finished run.
type RunReport struct {
	RunID            string                `json:"run_id"`
	DatasetRef       string                `json:"dataset_ref"`
	State            domain.RunState       `json:"state"`
	Outcome          domain.RunOutcome     `json:"outcome"`
	Resumed          bool                  `json:"resumed"`
	Columns          []domain.ColumnResult `json:"columns"`
	CompletedColumns []string              `json:"completed_columns"`
	FailedRows       []domain.FailedRow    `json:"failed_rows"`
	StartedAt        time.Time             `json:"started_at"`
	FinishedAt       time.Time             `json:"finished_at"`
}

// Orchestrator runs the selected columns of a dataset one after another,
// checkpointing after each completed column.
type Orchestrator struct {
	client      Classifier
	pool        *credential.Pool
	opts        Options
	checkpoints checkpoint.Store
	runs        RunRecorder
	failedRows  FailedRowWriter
	consumer    ResultsConsumer
	progress    ProgressFunc
	sleep       SleepFunc
}

// NewOrchestrator creates a new Orchestrator.
// Parameters:
//   - client: classification call.
//   - pool: credentials shared by the run's workers.
//   - opts: batching, retry and pacing options.
//
// Returns:
//   - *Orchestrator: orchestrator without persistence; use the With* methods to add it.
func NewOrchestrator(client Classifier, pool *credential.Pool, opts Options) *Orchestrator {
	return &Orchestrator{
		client: client,
		pool:   pool,
		opts:   opts,
		sleep:  sleepContext,
	}
}

// WithCheckpoints enables column-level checkpoints.
func (o *Orchestrator) WithCheckpoints(store checkpoint.Store) *Orchestrator {
	o.checkpoints = store
	return o
}

// WithRunRecorder persists run records and failed rows.
func (o *Orchestrator) WithRunRecorder(runs RunRecorder, failedRows FailedRowWriter) *Orchestrator {
	o.runs = runs
	o.failedRows = failedRows
	return o
}

// WithResultsConsumer hands every finished run's report to consumer.
func (o *Orchestrator) WithResultsConsumer(consumer ResultsConsumer) *Orchestrator {
	o.consumer = consumer
	return o
}

// WithProgress registers a progress callback.
func (o *Orchestrator) WithProgress(fn ProgressFunc) *Orchestrator {
	o.progress = fn
	return o
}

// WithSleep replaces the executor's retry delay function.
func (o *Orchestrator) WithSleep(fn SleepFunc) *Orchestrator {
	if fn != nil {
		o.sleep = fn
	}
	return o
}

// Validate rejects requests that cannot start. Every error wraps domain.ErrConfiguration.
func (o *Orchestrator) Validate(req RunRequest) error {
	if o.pool == nil || o.pool.Size() == 0 {
		return domain.ConfigErrorf("no usable credentials")
	}
	if req.Dataset == nil {
		return domain.ConfigErrorf("no dataset")
	}
	if req.Dataset.IDColumn == "" {
		return domain.ConfigErrorf("no ID column selected")
	}
	if err := req.Dataset.ValidateSelection(req.Columns); err != nil {
		return err
	}
	if b := o.opts.Batching.BaseSize; b < config.MinBatchSize || b > config.MaxBatchSize {
		return domain.ConfigErrorf("batch size must be between %d and %d, got %d", config.MinBatchSize, config.MaxBatchSize, b)
	}
	return prompts.ValidateTemplate(o.opts.PromptTemplate)
}

// Prepare validates req and builds the run's context, restoring completed
// columns from a matching checkpoint when req.Resume is set.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: dataset and column selection.
//
// Returns:
//   - *RunContext: the run's state, ready for Execute.
//   - error: configuration errors, or a checkpoint that could not be read.
func (o *Orchestrator) Prepare(ctx context.Context, req RunRequest) (*RunContext, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}

	var snap *checkpoint.Snapshot
	if req.Resume && o.checkpoints != nil {
		loaded, err := o.checkpoints.Load(ctx, req.Dataset.Ref)
		if err != nil {
			return nil, err
		}
		if resumable(loaded, req) {
			snap = loaded
		} else {
			logger.CtxInfo(ctx, "No resumable checkpoint, starting fresh: dataset=%s", req.Dataset.Ref)
		}
	}

	if snap == nil {
		return newRunContext(uuid.New().String(), req.Dataset, req.Columns), nil
	}
	rc := newRunContext(snap.RunID, req.Dataset, req.Columns)
	rc.restore(snap)
	logger.CtxInfo(ctx, "Resuming run from checkpoint: run_id=%s, completed=%v", snap.RunID, snap.CompletedColumns)
	return rc, nil
}

// resumable reports whether snap matches the request's dataset shape.
func resumable(snap *checkpoint.Snapshot, req RunRequest) bool {
	if !snap.Resumable(req.Columns) || snap.IDColumn != req.Dataset.IDColumn {
		return false
	}
	for _, col := range snap.CompletedColumns {
		if len(snap.Results[col]) != len(req.Dataset.Rows) {
			return false
		}
	}
	return true
}

// Run prepares and executes a run.
func (o *Orchestrator) Run(ctx context.Context, ctrl *Controller, req RunRequest) (*RunReport, error) {
	rc, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, ctrl, rc)
}

// Execute classifies every column of rc that is not yet completed, in selection
// order. Columns never overlap. A stop lets in-flight batches finish, keeps the
// finished batches of the current column as a partial result and skips the
// checkpoint for it.
// Parameters:
//   - ctx: context for cancellation; ending it abandons the run.
//   - ctrl: controller carrying pause/resume/stop; started here when idle.
//   - rc: context from Prepare.
//
// Returns:
//   - *RunReport: results of every started column and the failed-rows ledger.
//   - error: ctx's error when the run was abandoned, or an invalid controller state.
func (o *Orchestrator) Execute(ctx context.Context, ctrl *Controller, rc *RunContext) (*RunReport, error) {
	if ctrl.State() == domain.RunStateIdle {
		if err := ctrl.Start(); err != nil {
			return nil, err
		}
	}
	ctx = logger.SetRun(ctx, rc.ID(), rc.dataset.Ref)
	// Bookkeeping after the run must survive cancellation of ctx.
	persistCtx := context.WithoutCancel(ctx)

	record := o.newRecord(rc)
	o.saveRecord(persistCtx, record)

	ledger := rc.Ledger()
	executor := NewExecutor(o.client, o.opts.PromptTemplate, o.opts.Retry, ledger).WithSleep(o.sleep)
	dispatcher := NewDispatcher(executor, o.pool, ctrl, o.opts.Parallel, o.opts.InterBatchDelay)

	logger.CtxInfo(ctx, "Starting run: dataset=%s, columns=%v, rows=%d, parallel=%v, workers=%d",
		rc.dataset.Ref, rc.selected, len(rc.dataset.Rows), o.opts.Parallel, dispatcher.Workers(o.pool.Size()))

	var (
		runErr  error
		stopped bool
		progMu  sync.Mutex
		// Entries restored from a checkpoint were persisted by the earlier session.
		persisted = ledger.Len()
	)

	for i, col := range rc.selected {
		if rc.IsCompleted(col) {
			continue
		}
		cctx := logger.SetColumn(ctx, col)
		batches := batcher.Split(rc.dataset.Rows, col, o.opts.Batching)
		rc.beginColumn(col, len(batches))

		logger.With(logger.Fields{logger.FieldCount: len(batches)}).Info(cctx,
			"Classifying column: column=%s, rows=%d, batch_sizes=%v", col, len(rc.dataset.Rows), batcher.Sizes(batches))

		start := time.Now()
		columnIndex := i + 1
		outcome, err := dispatcher.RunColumn(cctx, batches, func(seq int, results []domain.RowResult) {
			done, total := rc.batchDone(len(results))
			if o.progress == nil {
				return
			}
			progMu.Lock()
			defer progMu.Unlock()
			o.progress(Progress{
				RunID:        rc.ID(),
				Column:       col,
				ColumnIndex:  columnIndex,
				ColumnCount:  len(rc.selected),
				BatchesDone:  done,
				BatchesTotal: total,
				FailedRows:   ledger.Len(),
			})
		})
		persisted = o.persistFailedRows(persistCtx, ledger, persisted)

		if err != nil {
			rc.partialColumn(col, outcome.Rows())
			if errors.Is(err, ErrStopRequested) {
				stopped = true
				logger.CtxInfo(cctx, "Run stopped mid-column: column=%s, batches_done=%d/%d",
					col, outcome.Done, len(batches))
			} else {
				runErr = err
				logger.CtxError(cctx, "Run abandoned mid-column: column=%s, error=%v", col, err)
			}
			break
		}

		rc.completeColumn(col, outcome.Rows())
		metrics.ColumnsCompleted.Inc()
		logger.With(logger.Fields{
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldRows:       len(rc.dataset.Rows),
		}).Info(cctx, "Column completed: column=%s, failed_rows=%d", col, ledger.Len())

		o.saveCheckpoint(persistCtx, rc)
		o.updateProgress(persistCtx, rc)

		if o.hasRemaining(rc) {
			if err := ctrl.Sleep(ctx, o.opts.InterColumnDelay); err != nil {
				if errors.Is(err, ErrStopRequested) {
					stopped = true
				} else {
					runErr = err
				}
				break
			}
		}
	}

	state, err := ctrl.Finish()
	if err != nil {
		logger.CtxWarn(ctx, "Unexpected controller state at finish: %v", err)
	}

	completed := rc.CompletedColumns()
	outcome := decideOutcome(len(completed), len(rc.selected), stopped, runErr)
	if outcome == domain.RunOutcomeCompleted && o.checkpoints != nil {
		if err := o.checkpoints.Delete(persistCtx, rc.dataset.Ref); err != nil {
			logger.CtxWarn(ctx, "Failed to delete checkpoint: dataset=%s, error=%v", rc.dataset.Ref, err)
		}
	}

	report := &RunReport{
		RunID:            rc.ID(),
		DatasetRef:       rc.dataset.Ref,
		State:            state,
		Outcome:          outcome,
		Resumed:          rc.resumed,
		Columns:          rc.Results(),
		CompletedColumns: completed,
		FailedRows:       ledger.Entries(),
		StartedAt:        rc.startedAt,
		FinishedAt:       time.Now(),
	}

	o.finishRecord(persistCtx, record, report, runErr)
	metrics.RunsTotal.WithLabelValues(string(outcome)).Inc()

	if o.consumer != nil && len(report.Columns) > 0 {
		if err := o.consumer.Consume(persistCtx, report); err != nil {
			logger.CtxWarn(ctx, "Results consumer failed: %v", err)
		}
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		logger.FieldStatus:     string(outcome),
	}).Info(ctx, "Run finished: state=%s, completed=%d/%d, failed_rows=%d",
		state, len(completed), len(rc.selected), len(report.FailedRows))

	return report, runErr
}

// decideOutcome classifies how a run ended.
func decideOutcome(completed, selected int, stopped bool, runErr error) domain.RunOutcome {
	switch {
	case completed == selected:
		return domain.RunOutcomeCompleted
	case runErr != nil:
		return domain.RunOutcomeFailed
	case stopped && completed == 0:
		return domain.RunOutcomeAborted
	default:
		return domain.RunOutcomePartial
	}
}

func (o *Orchestrator) hasRemaining(rc *RunContext) bool {
	for _, col := range rc.selected {
		if !rc.IsCompleted(col) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, rc *RunContext) {
	if o.checkpoints == nil {
		return
	}
	snap := rc.Snapshot()
	if err := o.checkpoints.Save(ctx, snap); err != nil {
		// The run continues; the next column boundary tries again.
		logger.CtxWarn(ctx, "Failed to save checkpoint: dataset=%s, error=%v", snap.DatasetRef, err)
		return
	}
	logger.CtxDebug(ctx, "Checkpoint saved: dataset=%s, completed=%v", snap.DatasetRef, snap.CompletedColumns)
}

func (o *Orchestrator) persistFailedRows(ctx context.Context, ledger *Ledger, persisted int) int {
	if o.failedRows == nil {
		return ledger.Len()
	}
	rows := ledger.Since(persisted)
	if len(rows) == 0 {
		return persisted
	}
	if err := o.failedRows.CreateBatch(ctx, rows); err != nil {
		logger.CtxWarn(ctx, "Failed to persist failed rows: count=%d, error=%v", len(rows), err)
		return persisted
	}
	return persisted + len(rows)
}

func (o *Orchestrator) newRecord(rc *RunContext) *domain.ClassificationRun {
	now := time.Now()
	return &domain.ClassificationRun{
		ID:               rc.ID(),
		DatasetRef:       rc.dataset.Ref,
		IDColumn:         rc.dataset.IDColumn,
		SelectedColumns:  domain.StringArray(rc.selected),
		CompletedColumns: domain.StringArray(rc.CompletedColumns()),
		State:            domain.RunStateRunning,
		Parallel:         o.opts.Parallel,
		Resumed:          rc.resumed,
		TotalRows:        len(rc.dataset.Rows) * len(rc.selected),
		StartedAt:        &now,
	}
}

func (o *Orchestrator) saveRecord(ctx context.Context, record *domain.ClassificationRun) {
	if o.runs == nil {
		return
	}
	if err := o.runs.Save(ctx, record); err != nil {
		logger.CtxWarn(ctx, "Failed to save run record: run_id=%s, error=%v", record.ID, err)
	}
}

func (o *Orchestrator) updateProgress(ctx context.Context, rc *RunContext) {
	if o.runs == nil {
		return
	}
	status := rc.Status(domain.RunStateRunning)
	if err := o.runs.UpdateProgress(ctx, rc.ID(), status.ProcessedRows, status.FailedRows); err != nil {
		logger.CtxWarn(ctx, "Failed to update run progress: run_id=%s, error=%v", rc.ID(), err)
	}
}

func (o *Orchestrator) finishRecord(ctx context.Context, record *domain.ClassificationRun, report *RunReport, runErr error) {
	finished := report.FinishedAt
	record.State = report.State
	record.Outcome = report.Outcome
	record.CompletedColumns = domain.StringArray(report.CompletedColumns)
	record.FailedRows = len(report.FailedRows)
	record.ProcessedRows = 0
	for _, col := range report.Columns {
		record.ProcessedRows += len(col.Rows)
	}
	record.CompletedAt = &finished
	if runErr != nil {
		record.ErrorLog = fmt.Sprintf("run abandoned: %v", runErr)
	}
	o.saveRecord(ctx, record)
}
