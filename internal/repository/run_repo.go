package repository

import (
	"context"

	"github.com/timmy/themescope/internal/domain"
	"gorm.io/gorm"
)

// RunRepository persists classification run records.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *RunRepository: repository instance bound to db.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save writes every field of an existing run record, inserting it if missing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: run record with updated fields.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *RunRepository) Save(ctx context.Context, run *domain.ClassificationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// UpdateProgress sets the row counters of a run.
func (r *RunRepository) UpdateProgress(ctx context.Context, id string, processed, failed int) error {
	return r.db.WithContext(ctx).Model(&domain.ClassificationRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_rows": processed,
			"failed_rows":    failed,
		}).Error
}

// GetByID retrieves a run by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
//
// Returns:
//   - *domain.ClassificationRun: run record if found.
//   - error: ErrNotFound if no run matches, or the lookup error.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.ClassificationRun, error) {
	var run domain.ClassificationRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// ListRecent returns the most recently created runs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of runs to return.
//
// Returns:
//   - []domain.ClassificationRun: runs ordered newest first.
//   - error: non-nil if the query fails.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]domain.ClassificationRun, error) {
	var runs []domain.ClassificationRun
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
