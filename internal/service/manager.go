package service

import (
	"context"
	"errors"
	"sync"

	"github.com/timmy/themescope/internal/checkpoint"
	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
)

var (
	// ErrRunInProgress is returned when a run is started while another is active.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrNoRun is returned by control actions when no run was ever started.
	ErrNoRun = errors.New("no run")
)

// OrchestratorFactory builds the orchestrator for a new run, so that
// configuration changes apply from the next run on.
type OrchestratorFactory func() *Orchestrator

// StartRequest describes a run started through the RunManager.
type StartRequest struct {
	Provider dataset.Provider
	Columns  []string
	Resume   bool
}

type managedRun struct {
	ctrl     *Controller
	rc       *RunContext
	finished chan struct{}

	// set once finished is closed
	report *RunReport
	err    error
}

// RunManager runs at most one classification run at a time in the background
// and exposes its status and controls.
type RunManager struct {
	build       OrchestratorFactory
	checkpoints checkpoint.Store

	mu       sync.RWMutex
	starting bool
	current  *managedRun
}

// NewRunManager creates a new RunManager.
// Parameters:
//   - build: factory called once per run.
//   - checkpoints: store used for checkpoint lookups; may be nil.
//
// Returns:
//   - *RunManager: manager with no current run.
func NewRunManager(build OrchestratorFactory, checkpoints checkpoint.Store) *RunManager {
	return &RunManager{build: build, checkpoints: checkpoints}
}

func (m *RunManager) activeLocked() bool {
	if m.starting {
		return true
	}
	if m.current == nil {
		return false
	}
	select {
	case <-m.current.finished:
		return false
	default:
		return true
	}
}

// Start loads the dataset, validates the request and launches the run in the
// background. The run outlives ctx; use Stop to end it.
// Parameters:
//   - ctx: context for loading and validation.
//   - req: dataset provider, column selection and resume flag.
//
// Returns:
//   - RunStatus: status of the launched run.
//   - error: ErrRunInProgress, a dataset load error, or a configuration error.
func (m *RunManager) Start(ctx context.Context, req StartRequest) (RunStatus, error) {
	m.mu.Lock()
	if m.activeLocked() {
		m.mu.Unlock()
		return RunStatus{}, ErrRunInProgress
	}
	m.starting = true
	m.mu.Unlock()

	run, orch, err := m.prepare(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if err != nil {
		return RunStatus{}, err
	}
	m.current = run

	// Detached from the request, keeping its log fields.
	runCtx := logger.SetComponent(context.WithoutCancel(ctx), "run")
	go func() {
		report, err := orch.Execute(runCtx, run.ctrl, run.rc)
		m.mu.Lock()
		run.report = report
		run.err = err
		m.mu.Unlock()
		close(run.finished)
	}()

	return run.rc.Status(run.ctrl.State()), nil
}

func (m *RunManager) prepare(ctx context.Context, req StartRequest) (*managedRun, *Orchestrator, error) {
	if req.Provider == nil {
		return nil, nil, domain.ConfigErrorf("no dataset")
	}
	ds, err := req.Provider.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	orch := m.build()
	rc, err := orch.Prepare(ctx, RunRequest{Dataset: ds, Columns: req.Columns, Resume: req.Resume})
	if err != nil {
		return nil, nil, err
	}
	ctrl := NewController()
	if err := ctrl.Start(); err != nil {
		return nil, nil, err
	}
	return &managedRun{ctrl: ctrl, rc: rc, finished: make(chan struct{})}, orch, nil
}

func (m *RunManager) latest() (*managedRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoRun
	}
	return m.current, nil
}

// Status returns the state of the current or most recent run.
func (m *RunManager) Status() (RunStatus, error) {
	run, err := m.latest()
	if err != nil {
		return RunStatus{}, err
	}
	status := run.rc.Status(run.ctrl.State())
	m.mu.RLock()
	if run.report != nil {
		status.Outcome = run.report.Outcome
	}
	m.mu.RUnlock()
	return status, nil
}

// Pause pauses the current run.
func (m *RunManager) Pause() error {
	run, err := m.latest()
	if err != nil {
		return err
	}
	return run.ctrl.Pause()
}

// Resume resumes the current run.
func (m *RunManager) Resume() error {
	run, err := m.latest()
	if err != nil {
		return err
	}
	return run.ctrl.Resume()
}

// Stop requests a cooperative stop of the current run.
func (m *RunManager) Stop() error {
	run, err := m.latest()
	if err != nil {
		return err
	}
	return run.ctrl.Stop()
}

// FailedRows returns the failed-rows ledger of the current or most recent run.
func (m *RunManager) FailedRows() ([]domain.FailedRow, error) {
	run, err := m.latest()
	if err != nil {
		return nil, err
	}
	return run.rc.Ledger().Entries(), nil
}

// Results returns the column results accumulated so far, completed or partial.
func (m *RunManager) Results() ([]domain.ColumnResult, error) {
	run, err := m.latest()
	if err != nil {
		return nil, err
	}
	return run.rc.Results(), nil
}

// Checkpoint returns the stored checkpoint of a dataset, or nil when there is
// none or checkpoints are disabled.
func (m *RunManager) Checkpoint(ctx context.Context, datasetRef string) (*checkpoint.Snapshot, error) {
	if m.checkpoints == nil {
		return nil, nil
	}
	return m.checkpoints.Load(ctx, datasetRef)
}

// Wait blocks until the current run finishes and returns its report.
func (m *RunManager) Wait(ctx context.Context) (*RunReport, error) {
	run, err := m.latest()
	if err != nil {
		return nil, err
	}
	select {
	case <-run.finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return run.report, run.err
}

// Shutdown stops the current run, if any, and waits for it within ctx.
func (m *RunManager) Shutdown(ctx context.Context) error {
	run, err := m.latest()
	if err != nil {
		return nil
	}
	select {
	case <-run.finished:
		return nil
	default:
	}
	if err := run.ctrl.Stop(); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	logger.CtxInfo(ctx, "Waiting for current run to stop: run_id=%s", run.rc.ID())
	_, err = m.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
