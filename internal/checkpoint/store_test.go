package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/repository"
	"github.com/timmy/themescope/internal/storage"
)

func sampleSnapshot(ref string) *Snapshot {
	return &Snapshot{
		RunID:            "run-1",
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		DatasetRef:       ref,
		IDColumn:         "id",
		SelectedColumns:  []string{"a", "b", "c"},
		CompletedColumns: []string{"a"},
		Results: map[string][]domain.RowResult{
			"a": {
				{RowID: "1", Topics: []domain.Topic{{Category: "Speed", Sentiment: domain.SentimentNegative, Direction: domain.DirectionComplaint}}, Actionable: true},
				domain.FallbackResult("2"),
			},
		},
		FailedRows: []domain.FailedRow{
			{RunID: "run-1", RowID: "2", Column: "a", Error: "no classification returned for entry", CreatedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)},
		},
	}
}

func TestObjectStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage("")
	store := NewObjectStore(mem, "checkpoints")

	snap, err := store.Load(ctx, "jsonl:data.jsonl")
	require.NoError(t, err)
	require.Nil(t, snap)

	require.NoError(t, store.Save(ctx, sampleSnapshot("jsonl:data.jsonl")))
	keys := mem.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "checkpoints/"))
	require.True(t, strings.HasSuffix(keys[0], ".json"))

	// A second save overwrites the first.
	next := sampleSnapshot("jsonl:data.jsonl")
	next.CompletedColumns = []string{"a", "b"}
	next.Results["b"] = []domain.RowResult{domain.FallbackResult("1")}
	require.NoError(t, store.Save(ctx, next))
	require.Len(t, mem.Keys(), 1)

	got, err := store.Load(ctx, "jsonl:data.jsonl")
	require.NoError(t, err)
	require.Equal(t, next.RunID, got.RunID)
	require.Equal(t, next.CompletedColumns, got.CompletedColumns)
	require.Equal(t, next.Results, got.Results)
	require.Len(t, got.FailedRows, 1)
	require.Equal(t, "2", got.FailedRows[0].RowID)
	require.True(t, next.FailedRows[0].CreatedAt.Equal(got.FailedRows[0].CreatedAt))
	require.True(t, next.Timestamp.Equal(got.Timestamp))

	require.NoError(t, store.Delete(ctx, "jsonl:data.jsonl"))
	got, err = store.Load(ctx, "jsonl:data.jsonl")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestObjectStore_KeyIsStablePerDataset(t *testing.T) {
	store := NewObjectStore(storage.NewMemoryStorage(""), "cp")
	require.Equal(t, store.Key("x"), store.Key("x"))
	require.NotEqual(t, store.Key("x"), store.Key("y"))
}

func TestSnapshot_Resumable(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Snapshot)
		selected []string
		want     bool
	}{
		{name: "proper subset", mutate: func(*Snapshot) {}, selected: []string{"a", "b", "c"}, want: true},
		{name: "different selection", mutate: func(*Snapshot) {}, selected: []string{"a", "b"}},
		{name: "reordered selection", mutate: func(*Snapshot) {}, selected: []string{"b", "a", "c"}},
		{name: "nothing completed", mutate: func(s *Snapshot) { s.CompletedColumns = nil }, selected: []string{"a", "b", "c"}},
		{name: "everything completed", mutate: func(s *Snapshot) { s.CompletedColumns = []string{"a", "b", "c"} }, selected: []string{"a", "b", "c"}},
		{name: "results missing", mutate: func(s *Snapshot) { delete(s.Results, "a") }, selected: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSnapshot("ref")
			tt.mutate(s)
			require.Equal(t, tt.want, s.Resumable(tt.selected))
		})
	}

	var nilSnap *Snapshot
	require.False(t, nilSnap.Resumable([]string{"a"}))
}

type fakeRecordRepo struct {
	mu   sync.Mutex
	recs map[string]*domain.CheckpointRecord
	err  error
}

func (f *fakeRecordRepo) Upsert(ctx context.Context, rec *domain.CheckpointRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs[rec.DatasetRef] = rec
	return nil
}

func (f *fakeRecordRepo) GetByDataset(ctx context.Context, ref string) (*domain.CheckpointRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.recs[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecordRepo) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, ref)
	return nil
}

func TestDBStore(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRecordRepo{recs: map[string]*domain.CheckpointRecord{}}
	store := NewDBStore(repo)

	got, err := store.Load(ctx, "ref")
	require.NoError(t, err)
	require.Nil(t, got)

	snap := sampleSnapshot("ref")
	require.NoError(t, store.Save(ctx, snap))
	got, err = store.Load(ctx, "ref")
	require.NoError(t, err)
	require.Equal(t, snap, got)

	require.NoError(t, store.Delete(ctx, "ref"))
	got, err = store.Load(ctx, "ref")
	require.NoError(t, err)
	require.Nil(t, got)

	repo.err = errors.New("db down")
	_, err = store.Load(ctx, "ref")
	require.Error(t, err)
	require.Error(t, store.Save(ctx, snap))
}
