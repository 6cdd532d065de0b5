package repository

import (
	"context"

	"github.com/timmy/themescope/internal/domain"
	"gorm.io/gorm"
)

// FailedRowRepository stores the failed-rows ledger of each run.
type FailedRowRepository struct {
	db *gorm.DB
}

// NewFailedRowRepository creates a new FailedRowRepository.
func NewFailedRowRepository(db *gorm.DB) *FailedRowRepository {
	return &FailedRowRepository{db: db}
}

// CreateBatch appends ledger entries in chunks.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rows: entries to append; an empty slice is a no-op.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *FailedRowRepository) CreateBatch(ctx context.Context, rows []domain.FailedRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// ListByRun returns a run's ledger in insertion order.
func (r *FailedRowRepository) ListByRun(ctx context.Context, runID string) ([]domain.FailedRow, error) {
	var rows []domain.FailedRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// CountByRun returns how many ledger entries a run has.
func (r *FailedRowRepository) CountByRun(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.FailedRow{}).Where("run_id = ?", runID).Count(&count).Error
	return count, err
}
