// Package checkpoint persists column-level progress so an interrupted run can
// resume without reclassifying completed columns.
package checkpoint

import (
	"context"
	"time"

	"github.com/timmy/themescope/internal/domain"
)

// Snapshot is the state of a run at a column boundary. Results and FailedRows
// hold entries only for completed columns.
type Snapshot struct {
	RunID            string                        `json:"run_id"`
	Timestamp        time.Time                     `json:"timestamp"`
	DatasetRef       string                        `json:"dataset_ref"`
	IDColumn         string                        `json:"id_column"`
	SelectedColumns  []string                      `json:"selected_columns"`
	CompletedColumns []string                      `json:"completed_columns"`
	Results          map[string][]domain.RowResult `json:"results_by_column"`
	FailedRows       []domain.FailedRow            `json:"failed_rows,omitempty"`
}

// Store keeps at most one snapshot per dataset.
type Store interface {
	// Save writes s, replacing any earlier snapshot of the same dataset.
	Save(ctx context.Context, s *Snapshot) error
	// Load returns the dataset's snapshot, or nil without error when none exists.
	Load(ctx context.Context, datasetRef string) (*Snapshot, error)
	// Delete removes the dataset's snapshot. Deleting nothing is not an error.
	Delete(ctx context.Context, datasetRef string) error
}

// Resumable reports whether the snapshot can continue a run over selected:
// same column selection, and at least one but not every column completed.
func (s *Snapshot) Resumable(selected []string) bool {
	if s == nil || len(s.CompletedColumns) == 0 || len(s.CompletedColumns) >= len(s.SelectedColumns) {
		return false
	}
	if len(selected) != len(s.SelectedColumns) {
		return false
	}
	for i := range selected {
		if selected[i] != s.SelectedColumns[i] {
			return false
		}
	}
	for _, c := range s.CompletedColumns {
		if _, ok := s.Results[c]; !ok {
			return false
		}
	}
	return true
}

// IsCompleted reports whether column is among the completed columns.
func (s *Snapshot) IsCompleted(column string) bool {
	for _, c := range s.CompletedColumns {
		if c == column {
			return true
		}
	}
	return false
}

// ToRecord converts the snapshot to its database row.
func (s *Snapshot) ToRecord() *domain.CheckpointRecord {
	return &domain.CheckpointRecord{
		DatasetRef:       s.DatasetRef,
		RunID:            s.RunID,
		IDColumn:         s.IDColumn,
		SelectedColumns:  domain.StringArray(s.SelectedColumns),
		CompletedColumns: domain.StringArray(s.CompletedColumns),
		Results:          domain.ColumnResults(s.Results),
		FailedRows:       domain.FailedRowList(s.FailedRows),
		SavedAt:          s.Timestamp,
	}
}

// FromRecord converts a database row to a snapshot.
func FromRecord(rec *domain.CheckpointRecord) *Snapshot {
	return &Snapshot{
		RunID:            rec.RunID,
		Timestamp:        rec.SavedAt,
		DatasetRef:       rec.DatasetRef,
		IDColumn:         rec.IDColumn,
		SelectedColumns:  []string(rec.SelectedColumns),
		CompletedColumns: []string(rec.CompletedColumns),
		Results:          map[string][]domain.RowResult(rec.Results),
		FailedRows:       []domain.FailedRow(rec.FailedRows),
	}
}
