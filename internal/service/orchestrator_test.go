package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timmy/themescope/internal/batcher"
	"github.com/timmy/themescope/internal/checkpoint"
	"github.com/timmy/themescope/internal/classifier"
	"github.com/timmy/themescope/internal/credential"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/storage"
)

func testOptions() Options {
	cfg := batcher.DefaultConfig()
	cfg.BaseSize = 10
	return Options{
		Batching:       cfg,
		Retry:          DefaultRetryPolicy(),
		PromptTemplate: testTemplate,
	}
}

type fakeRunRecorder struct {
	mu       sync.Mutex
	saved    []domain.ClassificationRun
	progress [][2]int
}

func (f *fakeRunRecorder) Save(ctx context.Context, run *domain.ClassificationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *run)
	return nil
}

func (f *fakeRunRecorder) UpdateProgress(ctx context.Context, id string, processed, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, [2]int{processed, failed})
	return nil
}

func (f *fakeRunRecorder) last() domain.ClassificationRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[len(f.saved)-1]
}

type fakeFailedRows struct {
	mu   sync.Mutex
	rows []domain.FailedRow
}

func (f *fakeFailedRows) CreateBatch(ctx context.Context, rows []domain.FailedRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

type recordingConsumer struct {
	reports []*RunReport
}

func (r *recordingConsumer) Consume(ctx context.Context, report *RunReport) error {
	r.reports = append(r.reports, report)
	return nil
}

func promptFor(column string) string {
	return `"` + column + `"`
}

func TestOrchestrator_ValidateRejectsBadConfiguration(t *testing.T) {
	ds := makeDataset(5, "praise", "issues")
	tests := []struct {
		name   string
		keys   []string
		mutate func(*Options)
		req    RunRequest
	}{
		{name: "no credentials", keys: []string{" "}, req: RunRequest{Dataset: ds, Columns: []string{"praise"}}},
		{name: "no dataset", keys: []string{"k"}, req: RunRequest{Columns: []string{"praise"}}},
		{name: "empty selection", keys: []string{"k"}, req: RunRequest{Dataset: ds}},
		{name: "unknown column", keys: []string{"k"}, req: RunRequest{Dataset: ds, Columns: []string{"nope"}}},
		{name: "id column selected", keys: []string{"k"}, req: RunRequest{Dataset: ds, Columns: []string{"id"}}},
		{
			name:   "batch size too large",
			keys:   []string{"k"},
			mutate: func(o *Options) { o.Batching.BaseSize = 51 },
			req:    RunRequest{Dataset: ds, Columns: []string{"praise"}},
		},
		{
			name:   "template without placeholders",
			keys:   []string{"k"},
			mutate: func(o *Options) { o.PromptTemplate = "classify {{column}}" },
			req:    RunRequest{Dataset: ds, Columns: []string{"praise"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			client := &fakeClassifier{}
			o := NewOrchestrator(client, credential.NewPool(tt.keys, credential.Options{}), opts)

			_, err := o.Run(context.Background(), NewController(), tt.req)
			require.ErrorIs(t, err, domain.ErrConfiguration)
			require.Empty(t, client.Calls())
		})
	}
}

func TestOrchestrator_RunCompletesEveryColumn(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStorage("")
	store := checkpoint.NewObjectStore(mem, "checkpoints")
	recorder := &fakeRunRecorder{}
	failed := &fakeFailedRows{}
	consumer := &recordingConsumer{}

	var progress []Progress
	client := &fakeClassifier{}
	o := NewOrchestrator(client, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		WithCheckpoints(store).
		WithRunRecorder(recorder, failed).
		WithResultsConsumer(consumer).
		WithProgress(func(p Progress) { progress = append(progress, p) })

	ds := makeDataset(25, "praise", "issues")
	ctrl := NewController()
	report, err := o.Run(ctx, ctrl, RunRequest{Dataset: ds, Columns: []string{"issues", "praise"}})
	require.NoError(t, err)

	require.Equal(t, domain.RunStateCompleted, report.State)
	require.Equal(t, domain.RunOutcomeCompleted, report.Outcome)
	require.Equal(t, []string{"issues", "praise"}, report.CompletedColumns)
	require.Len(t, report.Columns, 2)
	require.Equal(t, "issues", report.Columns[0].Column)
	for _, col := range report.Columns {
		require.True(t, col.Completed)
		require.Len(t, col.Rows, 25)
		for i, r := range col.Rows {
			require.Equal(t, ds.Rows[i].ID, r.RowID)
		}
	}
	require.Empty(t, report.FailedRows)
	require.NotEmpty(t, report.RunID)

	// 25 rows at 10 per batch, for two columns
	require.Len(t, progress, 6)
	require.Equal(t, Progress{RunID: report.RunID, Column: "praise", ColumnIndex: 2, ColumnCount: 2, BatchesDone: 3, BatchesTotal: 3}, progress[5])

	snap, err := store.Load(ctx, ds.Ref)
	require.NoError(t, err)
	require.Nil(t, snap)
	require.Empty(t, mem.Keys())

	last := recorder.last()
	require.Equal(t, domain.RunOutcomeCompleted, last.Outcome)
	require.Equal(t, 50, last.ProcessedRows)
	require.Len(t, consumer.reports, 1)

	select {
	case <-ctrl.Done():
	default:
		t.Fatal("controller not finished")
	}
}

func TestOrchestrator_StopMidColumnKeepsFinishedBatches(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewObjectStore(storage.NewMemoryStorage(""), "checkpoints")
	ctrl := NewController()

	o := NewOrchestrator(&fakeClassifier{}, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		WithCheckpoints(store).
		WithProgress(func(p Progress) {
			if p.BatchesDone == 2 {
				_ = ctrl.Stop()
			}
		})

	ds := makeDataset(50, "praise", "issues")
	report, err := o.Run(ctx, ctrl, RunRequest{Dataset: ds, Columns: []string{"praise", "issues"}})
	require.NoError(t, err)

	require.Equal(t, domain.RunStateStopped, report.State)
	require.Equal(t, domain.RunOutcomeAborted, report.Outcome)
	require.Empty(t, report.CompletedColumns)
	require.Len(t, report.Columns, 1)
	require.False(t, report.Columns[0].Completed)
	require.Len(t, report.Columns[0].Rows, 20)

	snap, err := store.Load(ctx, ds.Ref)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestOrchestrator_ResumeFromCheckpointMatchesFullRun(t *testing.T) {
	ctx := context.Background()
	ds := makeDataset(25, "praise", "issues")
	columns := []string{"praise", "issues"}
	pool := func() *credential.Pool { return credential.NewPool([]string{"k1"}, credential.Options{}) }

	full, err := NewOrchestrator(&fakeClassifier{}, pool(), testOptions()).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: columns})
	require.NoError(t, err)

	store := checkpoint.NewObjectStore(storage.NewMemoryStorage(""), "checkpoints")
	ctrl := NewController()
	first, err := NewOrchestrator(&fakeClassifier{}, pool(), testOptions()).
		WithCheckpoints(store).
		WithProgress(func(p Progress) {
			if p.Column == "praise" && p.BatchesDone == p.BatchesTotal {
				_ = ctrl.Stop()
			}
		}).
		Run(ctx, ctrl, RunRequest{Dataset: ds, Columns: columns})
	require.NoError(t, err)
	require.Equal(t, domain.RunOutcomePartial, first.Outcome)
	require.Equal(t, []string{"praise"}, first.CompletedColumns)

	snap, err := store.Load(ctx, ds.Ref)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, first.RunID, snap.RunID)
	require.True(t, snap.Resumable(columns))

	client := &fakeClassifier{}
	resumed, err := NewOrchestrator(client, pool(), testOptions()).
		WithCheckpoints(store).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: columns, Resume: true})
	require.NoError(t, err)

	require.True(t, resumed.Resumed)
	require.Equal(t, first.RunID, resumed.RunID)
	require.Equal(t, domain.RunOutcomeCompleted, resumed.Outcome)
	require.Equal(t, full.Columns, resumed.Columns)
	for _, c := range client.Calls() {
		require.False(t, strings.Contains(c.Prompt, promptFor("praise")), "completed column was classified again")
	}

	snap, err = store.Load(ctx, ds.Ref)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestOrchestrator_ResumeCarriesFailedRowsOfCompletedColumns(t *testing.T) {
	ctx := context.Background()
	ds := makeDataset(15, "praise", "issues")
	columns := []string{"praise", "issues"}
	store := checkpoint.NewObjectStore(storage.NewMemoryStorage(""), "checkpoints")
	// r00 is never answered, in either column.
	dropFirst := func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error) {
		resp := echo(req)
		if call.IDs[0] == "r00" {
			resp.Items = resp.Items[1:]
		}
		return resp, nil
	}

	ctrl := NewController()
	firstFailed := &fakeFailedRows{}
	first, err := NewOrchestrator(&fakeClassifier{handler: dropFirst}, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		WithCheckpoints(store).
		WithRunRecorder(&fakeRunRecorder{}, firstFailed).
		WithProgress(func(p Progress) {
			if p.Column == "praise" && p.BatchesDone == p.BatchesTotal {
				_ = ctrl.Stop()
			}
		}).
		Run(ctx, ctrl, RunRequest{Dataset: ds, Columns: columns})
	require.NoError(t, err)
	require.Equal(t, []string{"praise"}, first.CompletedColumns)
	require.Len(t, first.FailedRows, 1)
	require.Len(t, firstFailed.rows, 1)

	snap, err := store.Load(ctx, ds.Ref)
	require.NoError(t, err)
	require.Len(t, snap.FailedRows, 1)
	require.Equal(t, "praise", snap.FailedRows[0].Column)

	resumedFailed := &fakeFailedRows{}
	resumed, err := NewOrchestrator(&fakeClassifier{handler: dropFirst}, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		WithCheckpoints(store).
		WithRunRecorder(&fakeRunRecorder{}, resumedFailed).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: columns, Resume: true})
	require.NoError(t, err)
	require.Equal(t, first.RunID, resumed.RunID)

	require.Len(t, resumed.FailedRows, 2)
	require.Equal(t, "praise", resumed.FailedRows[0].Column)
	require.Equal(t, "r00", resumed.FailedRows[0].RowID)
	require.Equal(t, first.RunID, resumed.FailedRows[0].RunID)
	require.Equal(t, "issues", resumed.FailedRows[1].Column)

	// Only the entry of this session is written again.
	require.Len(t, resumedFailed.rows, 1)
	require.Equal(t, "issues", resumedFailed.rows[0].Column)
}

func TestOrchestrator_ResumeIgnoresMismatchedCheckpoint(t *testing.T) {
	ctx := context.Background()
	ds := makeDataset(5, "praise", "issues")
	store := checkpoint.NewObjectStore(storage.NewMemoryStorage(""), "checkpoints")
	require.NoError(t, store.Save(ctx, &checkpoint.Snapshot{
		RunID:            "old-run",
		DatasetRef:       ds.Ref,
		IDColumn:         "id",
		SelectedColumns:  []string{"praise", "issues"},
		CompletedColumns: []string{"praise"},
		// fewer rows than the dataset now has
		Results: map[string][]domain.RowResult{"praise": {{RowID: "r00"}}},
	}))

	o := NewOrchestrator(&fakeClassifier{}, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		WithCheckpoints(store)
	rc, err := o.Prepare(ctx, RunRequest{Dataset: ds, Columns: []string{"praise", "issues"}, Resume: true})
	require.NoError(t, err)
	require.NotEqual(t, "old-run", rc.ID())
	require.False(t, rc.IsCompleted("praise"))
}

func TestOrchestrator_PauseResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	ds := makeDataset(30, "praise")
	pool := func() *credential.Pool { return credential.NewPool([]string{"k1"}, credential.Options{}) }

	straight, err := NewOrchestrator(&fakeClassifier{}, pool(), testOptions()).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: []string{"praise"}})
	require.NoError(t, err)

	ctrl := NewController()
	var paused sync.Once
	report, err := NewOrchestrator(&fakeClassifier{}, pool(), testOptions()).
		WithProgress(func(p Progress) {
			if p.BatchesDone != 1 {
				return
			}
			paused.Do(func() {
				_ = ctrl.Pause()
				go func() {
					time.Sleep(20 * time.Millisecond)
					_ = ctrl.Resume()
				}()
			})
		}).
		Run(ctx, ctrl, RunRequest{Dataset: ds, Columns: []string{"praise"}})
	require.NoError(t, err)

	require.Equal(t, domain.RunStateCompleted, report.State)
	require.Equal(t, straight.Columns, report.Columns)
}

func TestOrchestrator_ParallelRunMatchesSequential(t *testing.T) {
	ctx := context.Background()
	ds := makeDataset(45, "praise")

	seq, err := NewOrchestrator(&fakeClassifier{}, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: []string{"praise"}})
	require.NoError(t, err)

	opts := testOptions()
	opts.Parallel = true
	client := &fakeClassifier{}
	par, err := NewOrchestrator(client, credential.NewPool([]string{"k1", "k2", "k3"}, credential.Options{}), opts).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: []string{"praise"}})
	require.NoError(t, err)

	require.Equal(t, seq.Columns, par.Columns)
	require.Len(t, client.Calls(), 5)
}

func TestOrchestrator_ParallelMergeIgnoresCompletionOrder(t *testing.T) {
	ctx := context.Background()
	ds := makeDataset(30, "praise")

	var (
		mu       sync.Mutex
		finished []string
	)
	client := &fakeClassifier{handler: func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error) {
		if call.IDs[0] == "r00" {
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		finished = append(finished, call.IDs[0])
		mu.Unlock()
		return echo(req), nil
	}}

	opts := testOptions()
	opts.Parallel = true
	report, err := NewOrchestrator(client, credential.NewPool([]string{"k1", "k2"}, credential.Options{}), opts).
		Run(ctx, NewController(), RunRequest{Dataset: ds, Columns: []string{"praise"}})
	require.NoError(t, err)

	mu.Lock()
	order := append([]string(nil), finished...)
	mu.Unlock()
	require.Len(t, order, 3)
	require.NotEqual(t, "r00", order[0], "first batch was expected to finish last")
	require.Equal(t, "r00", order[2])

	rows := report.Columns[0].Rows
	require.Len(t, rows, len(ds.Rows))
	for i := range rows {
		require.Equal(t, ds.Rows[i].ID, rows[i].RowID)
	}
}

func TestOrchestrator_FailedRowsArePersisted(t *testing.T) {
	client := &fakeClassifier{handler: func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error) {
		resp := echo(req)
		resp.Items = resp.Items[1:]
		return resp, nil
	}}
	failed := &fakeFailedRows{}
	recorder := &fakeRunRecorder{}
	o := NewOrchestrator(client, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions()).
		WithRunRecorder(recorder, failed)

	ds := makeDataset(20, "praise")
	report, err := o.Run(context.Background(), NewController(), RunRequest{Dataset: ds, Columns: []string{"praise"}})
	require.NoError(t, err)

	// The first row of each batch is dropped by the classifier.
	require.Len(t, report.FailedRows, 2)
	require.Equal(t, 2, report.Columns[0].FailedCount())
	require.Len(t, report.Columns[0].Rows, 20)
	require.Len(t, failed.rows, 2)
	require.Equal(t, report.RunID, failed.rows[0].RunID)
	require.Equal(t, 2, recorder.last().FailedRows)
	require.Equal(t, [2]int{20, 2}, recorder.progress[0])
}

func TestOrchestrator_CanceledContextFailsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClassifier{handler: func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error) {
		cancel()
		return echo(req), nil
	}}
	o := NewOrchestrator(client, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions())

	report, err := o.Run(ctx, NewController(), RunRequest{Dataset: makeDataset(30, "praise"), Columns: []string{"praise"}})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Equal(t, domain.RunOutcomeFailed, report.Outcome)
	require.False(t, report.Columns[0].Completed)
}

func TestDecideOutcome(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		selected  int
		stopped   bool
		err       error
		want      domain.RunOutcome
	}{
		{name: "all done", completed: 2, selected: 2, want: domain.RunOutcomeCompleted},
		{name: "stopped after last column", completed: 2, selected: 2, stopped: true, want: domain.RunOutcomeCompleted},
		{name: "stopped with nothing", completed: 0, selected: 2, stopped: true, want: domain.RunOutcomeAborted},
		{name: "stopped midway", completed: 1, selected: 2, stopped: true, want: domain.RunOutcomePartial},
		{name: "canceled", completed: 1, selected: 2, err: context.Canceled, want: domain.RunOutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, decideOutcome(tt.completed, tt.selected, tt.stopped, tt.err))
		})
	}
}
