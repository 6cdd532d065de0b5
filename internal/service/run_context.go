package service

import (
	"sync"
	"time"

	"github.com/timmy/themescope/internal/checkpoint"
	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/domain"
)

// RunStatus is a point-in-time view of a run for progress displays.
type RunStatus struct {
	RunID            string            `json:"run_id"`
	DatasetRef       string            `json:"dataset_ref"`
	State            domain.RunState   `json:"state"`
	Outcome          domain.RunOutcome `json:"outcome,omitempty"`
	SelectedColumns  []string          `json:"selected_columns"`
	CompletedColumns []string          `json:"completed_columns"`
	CurrentColumn    string            `json:"current_column,omitempty"`
	BatchesDone      int               `json:"batches_done"`
	BatchesTotal     int               `json:"batches_total"`
	ProcessedRows    int               `json:"processed_rows"`
	TotalRows        int               `json:"total_rows"`
	FailedRows       int               `json:"failed_rows"`
	Resumed          bool              `json:"resumed"`
	StartedAt        time.Time         `json:"started_at"`
}

// RunContext owns the mutable state of one run: the accumulated column results,
// the completed-column list and the failed-rows ledger. It is created by the
// Orchestrator and read concurrently by status queries.
type RunContext struct {
	mu sync.RWMutex

	id        string
	dataset   *dataset.Dataset
	selected  []string
	resumed   bool
	startedAt time.Time

	results   map[string]domain.ColumnResult
	completed []string
	current   string

	batchesDone  int
	batchesTotal int
	processed    int

	ledger *Ledger
}

func newRunContext(id string, ds *dataset.Dataset, selected []string) *RunContext {
	return &RunContext{
		id:        id,
		dataset:   ds,
		selected:  append([]string(nil), selected...),
		startedAt: time.Now(),
		results:   make(map[string]domain.ColumnResult, len(selected)),
		ledger:    NewLedger(id),
	}
}

// restore seeds the context with the completed columns of a snapshot and the
// ledger entries recorded for them.
func (rc *RunContext) restore(snap *checkpoint.Snapshot) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.resumed = true
	for _, col := range rc.selected {
		if !snap.IsCompleted(col) {
			continue
		}
		rows := snap.Results[col]
		rc.results[col] = domain.ColumnResult{Column: col, Rows: rows, Completed: true}
		rc.completed = append(rc.completed, col)
		rc.processed += len(rows)
	}

	var carried []domain.FailedRow
	for _, f := range snap.FailedRows {
		if snap.IsCompleted(f.Column) {
			carried = append(carried, f)
		}
	}
	rc.ledger.Restore(carried)
}

// ID returns the run id.
func (rc *RunContext) ID() string { return rc.id }

// Ledger returns the run's failed-rows ledger.
func (rc *RunContext) Ledger() *Ledger { return rc.ledger }

// IsCompleted reports whether column finished, in this run or a resumed one.
func (rc *RunContext) IsCompleted(column string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	r, ok := rc.results[column]
	return ok && r.Completed
}

func (rc *RunContext) beginColumn(column string, batches int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.current = column
	rc.batchesDone = 0
	rc.batchesTotal = batches
}

func (rc *RunContext) batchDone(rows int) (done, total int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.batchesDone++
	rc.processed += rows
	return rc.batchesDone, rc.batchesTotal
}

// completeColumn stores a fully classified column.
func (rc *RunContext) completeColumn(column string, rows []domain.RowResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.results[column] = domain.ColumnResult{Column: column, Rows: rows, Completed: true}
	rc.completed = append(rc.completed, column)
	rc.current = ""
}

// partialColumn stores the rows of the batches a stopped column finished.
func (rc *RunContext) partialColumn(column string, rows []domain.RowResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.results[column] = domain.ColumnResult{Column: column, Rows: rows, Completed: false}
	rc.current = ""
}

// CompletedColumns returns the completed columns in completion order.
func (rc *RunContext) CompletedColumns() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return append([]string(nil), rc.completed...)
}

// Results returns the column results in selection order. Columns never started
// are omitted.
func (rc *RunContext) Results() []domain.ColumnResult {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]domain.ColumnResult, 0, len(rc.results))
	for _, col := range rc.selected {
		if r, ok := rc.results[col]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Snapshot builds a checkpoint of the completed columns.
func (rc *RunContext) Snapshot() *checkpoint.Snapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	results := make(map[string][]domain.RowResult, len(rc.completed))
	done := make(map[string]bool, len(rc.completed))
	for _, col := range rc.completed {
		results[col] = rc.results[col].Rows
		done[col] = true
	}
	var failed []domain.FailedRow
	for _, f := range rc.ledger.Entries() {
		if done[f.Column] {
			failed = append(failed, f)
		}
	}
	return &checkpoint.Snapshot{
		RunID:            rc.id,
		Timestamp:        time.Now().UTC(),
		DatasetRef:       rc.dataset.Ref,
		IDColumn:         rc.dataset.IDColumn,
		SelectedColumns:  append([]string(nil), rc.selected...),
		CompletedColumns: append([]string(nil), rc.completed...),
		Results:          results,
		FailedRows:       failed,
	}
}

// Status returns a point-in-time view of the run.
func (rc *RunContext) Status(state domain.RunState) RunStatus {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return RunStatus{
		RunID:            rc.id,
		DatasetRef:       rc.dataset.Ref,
		State:            state,
		SelectedColumns:  append([]string(nil), rc.selected...),
		CompletedColumns: append([]string(nil), rc.completed...),
		CurrentColumn:    rc.current,
		BatchesDone:      rc.batchesDone,
		BatchesTotal:     rc.batchesTotal,
		ProcessedRows:    rc.processed,
		TotalRows:        len(rc.dataset.Rows) * len(rc.selected),
		FailedRows:       rc.ledger.Len(),
		Resumed:          rc.resumed,
		StartedAt:        rc.startedAt,
	}
}
