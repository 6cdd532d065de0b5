package domain

import "time"

// RunState is the lifecycle state of a classification run.
// Idle -> Running <-> Paused -> Stopping -> Stopped, or Running -> Completed.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateStopping  RunState = "stopping"
	RunStateStopped   RunState = "stopped"
	RunStateCompleted RunState = "completed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateStopped || s == RunStateCompleted
}

// RunOutcome summarizes how a run ended.
type RunOutcome string

const (
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomePartial   RunOutcome = "partial"
	RunOutcomeAborted   RunOutcome = "aborted"
	RunOutcomeFailed    RunOutcome = "failed"
)

// ClassificationRun is the persisted record of one run and its progress counters.
type ClassificationRun struct {
	ID               string      `gorm:"type:text;primaryKey" json:"id"`
	DatasetRef       string      `gorm:"type:text;not null;index" json:"dataset_ref"`
	IDColumn         string      `gorm:"type:text" json:"id_column"`
	SelectedColumns  StringArray `gorm:"type:text" json:"selected_columns"`
	CompletedColumns StringArray `gorm:"type:text" json:"completed_columns"`
	State            RunState    `gorm:"type:text;default:idle" json:"state"`
	Outcome          RunOutcome  `gorm:"type:text" json:"outcome,omitempty"`
	Parallel         bool        `json:"parallel"`
	Resumed          bool        `json:"resumed"`
	TotalRows        int         `gorm:"default:0" json:"total_rows"`
	ProcessedRows    int         `gorm:"default:0" json:"processed_rows"`
	FailedRows       int         `gorm:"default:0" json:"failed_rows"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	ErrorLog         string      `json:"error_log,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TableName returns the database table name for ClassificationRun.
func (ClassificationRun) TableName() string {
	return "classification_runs"
}

// FailedRow is an entry of the append-only failed-rows ledger. Recording a row here
// never removes it from its column's results.
type FailedRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID     string    `gorm:"type:text;not null;index:idx_failed_rows_run" json:"run_id"`
	RowID     string    `gorm:"type:text;not null" json:"row_id"`
	Column    string    `gorm:"column:column_name;type:text;not null" json:"column"`
	Error     string    `gorm:"type:text" json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for FailedRow.
func (FailedRow) TableName() string {
	return "failed_rows"
}
