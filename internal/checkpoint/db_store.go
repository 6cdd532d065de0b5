package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/repository"
)

// RecordRepository is the persistence the database store needs.
// *repository.CheckpointRepository implements it.
type RecordRepository interface {
	Upsert(ctx context.Context, rec *domain.CheckpointRecord) error
	GetByDataset(ctx context.Context, datasetRef string) (*domain.CheckpointRecord, error)
	Delete(ctx context.Context, datasetRef string) error
}

// DBStore keeps snapshots in the checkpoints table.
type DBStore struct {
	repo RecordRepository
}

// NewDBStore creates a database-backed store.
func NewDBStore(repo RecordRepository) *DBStore {
	return &DBStore{repo: repo}
}

func (s *DBStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := s.repo.Upsert(ctx, snap.ToRecord()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *DBStore) Load(ctx context.Context, datasetRef string) (*Snapshot, error) {
	rec, err := s.repo.GetByDataset(ctx, datasetRef)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return FromRecord(rec), nil
}

func (s *DBStore) Delete(ctx context.Context, datasetRef string) error {
	if err := s.repo.Delete(ctx, datasetRef); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
