package checkpoint

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path"

	"github.com/timmy/themescope/internal/storage"
)

// ObjectStore keeps snapshots as JSON objects in S3-compatible storage, one
// object per dataset at <prefix>/<sha1(datasetRef)>.json.
type ObjectStore struct {
	store  storage.ObjectStorage
	prefix string
}

// NewObjectStore creates an object-storage-backed store.
func NewObjectStore(store storage.ObjectStorage, prefix string) *ObjectStore {
	return &ObjectStore{store: store, prefix: prefix}
}

// Key returns the object key of a dataset's snapshot.
func (s *ObjectStore) Key(datasetRef string) string {
	sum := sha1.Sum([]byte(datasetRef))
	return path.Join(s.prefix, hex.EncodeToString(sum[:])+".json")
}

func (s *ObjectStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := storage.PutJSON(ctx, s.store, s.Key(snap.DatasetRef), snap); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *ObjectStore) Load(ctx context.Context, datasetRef string) (*Snapshot, error) {
	var snap Snapshot
	err := storage.GetJSON(ctx, s.store, s.Key(datasetRef), &snap)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return &snap, nil
}

func (s *ObjectStore) Delete(ctx context.Context, datasetRef string) error {
	if err := s.store.Delete(ctx, s.Key(datasetRef)); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
