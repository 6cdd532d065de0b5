package repository

import (
	"context"

	"github.com/timmy/themescope/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointRepository stores one checkpoint record per dataset.
type CheckpointRepository struct {
	db *gorm.DB
}

// NewCheckpointRepository creates a new CheckpointRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *CheckpointRepository: repository instance bound to db.
func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Upsert writes the dataset's checkpoint, replacing any previous one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: checkpoint record keyed by DatasetRef.
//
// Returns:
//   - error: non-nil if the write fails.
func (r *CheckpointRepository) Upsert(ctx context.Context, rec *domain.CheckpointRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset_ref"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// GetByDataset retrieves the checkpoint of a dataset.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - datasetRef: dataset reference the checkpoint belongs to.
//
// Returns:
//   - *domain.CheckpointRecord: record if found.
//   - error: ErrNotFound if absent, or the lookup error.
func (r *CheckpointRepository) GetByDataset(ctx context.Context, datasetRef string) (*domain.CheckpointRecord, error) {
	var rec domain.CheckpointRecord
	if err := r.db.WithContext(ctx).First(&rec, "dataset_ref = ?", datasetRef).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// Delete removes the checkpoint of a dataset. Deleting a missing checkpoint is not an error.
func (r *CheckpointRepository) Delete(ctx context.Context, datasetRef string) error {
	return r.db.WithContext(ctx).Where("dataset_ref = ?", datasetRef).Delete(&domain.CheckpointRecord{}).Error
}
