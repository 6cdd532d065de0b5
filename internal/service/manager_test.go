package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timmy/themescope/internal/classifier"
	"github.com/timmy/themescope/internal/credential"
	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/domain"
)

type staticProvider struct {
	ds *dataset.Dataset
}

func (p staticProvider) Ref() string { return p.ds.Ref }

func (p staticProvider) Load(context.Context) (*dataset.Dataset, error) { return p.ds, nil }

func TestRunManager_NoRun(t *testing.T) {
	m := NewRunManager(nil, nil)
	_, err := m.Status()
	require.ErrorIs(t, err, ErrNoRun)
	require.ErrorIs(t, m.Pause(), ErrNoRun)
	require.NoError(t, m.Shutdown(context.Background()))

	snap, err := m.Checkpoint(context.Background(), "jsonl:x")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestRunManager_SingleRunAndControls(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClassifier{handler: func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error) {
		<-gate
		return echo(req), nil
	}}
	m := NewRunManager(func() *Orchestrator {
		return NewOrchestrator(client, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions())
	}, nil)

	ctx := context.Background()
	req := StartRequest{Provider: staticProvider{ds: makeDataset(30, "praise")}, Columns: []string{"praise"}}
	status, err := m.Start(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.RunStateRunning, status.State)
	require.Equal(t, 30, status.TotalRows)

	_, err = m.Start(ctx, req)
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, m.Pause())
	status, err = m.Status()
	require.NoError(t, err)
	require.Equal(t, domain.RunStatePaused, status.State)
	require.ErrorIs(t, m.Pause(), ErrInvalidTransition)

	require.NoError(t, m.Resume())
	close(gate)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	report, err := m.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, domain.RunOutcomeCompleted, report.Outcome)

	status, err = m.Status()
	require.NoError(t, err)
	require.Equal(t, domain.RunStateCompleted, status.State)
	require.Equal(t, domain.RunOutcomeCompleted, status.Outcome)
	require.Equal(t, 30, status.ProcessedRows)

	results, err := m.Results()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 30)

	failed, err := m.FailedRows()
	require.NoError(t, err)
	require.Empty(t, failed)

	// A finished run no longer blocks a new one.
	_, err = m.Start(ctx, req)
	require.NoError(t, err)
	_, err = m.Wait(waitCtx)
	require.NoError(t, err)
}

func TestRunManager_StartRejectsInvalidRequest(t *testing.T) {
	m := NewRunManager(func() *Orchestrator {
		return NewOrchestrator(&fakeClassifier{}, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions())
	}, nil)

	_, err := m.Start(context.Background(), StartRequest{Provider: staticProvider{ds: makeDataset(3, "praise")}, Columns: []string{"nope"}})
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = m.Status()
	require.ErrorIs(t, err, ErrNoRun)
}

func TestRunManager_ShutdownStopsRun(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClassifier{handler: func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error) {
		if n == 0 {
			close(started)
			<-gate
		}
		return echo(req), nil
	}}
	m := NewRunManager(func() *Orchestrator {
		return NewOrchestrator(client, credential.NewPool([]string{"k1"}, credential.Options{}), testOptions())
	}, nil)

	_, err := m.Start(context.Background(), StartRequest{Provider: staticProvider{ds: makeDataset(50, "praise")}, Columns: []string{"praise"}})
	require.NoError(t, err)
	<-started

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- m.Shutdown(ctx)
	}()
	// Let the stop land before the in-flight call returns.
	require.Eventually(t, func() bool {
		status, _ := m.Status()
		return status.State == domain.RunStateStopping
	}, time.Second, 5*time.Millisecond)
	close(gate)

	require.NoError(t, <-done)
	status, err := m.Status()
	require.NoError(t, err)
	require.Equal(t, domain.RunStateStopped, status.State)
	require.Equal(t, domain.RunOutcomeAborted, status.Outcome)
	require.Equal(t, 10, status.ProcessedRows)
	require.Len(t, client.Calls(), 1)
}
