package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/themescope/internal/credential"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
)

// BatchDoneFunc is called once per finished batch, possibly from several
// goroutines at once.
type BatchDoneFunc func(seq int, results []domain.RowResult)

// ColumnOutcome holds the per-batch results of one column. Results[i] is nil
// when batch i was never executed.
type ColumnOutcome struct {
	Results [][]domain.RowResult
	Done    int
}

// Complete reports whether every batch was executed.
func (o *ColumnOutcome) Complete() bool {
	return o.Done == len(o.Results)
}

// Rows flattens the executed batches in batch order.
func (o *ColumnOutcome) Rows() []domain.RowResult {
	var rows []domain.RowResult
	for _, r := range o.Results {
		rows = append(rows, r...)
	}
	return rows
}

// Dispatcher runs the batches of a column, either one at a time on the shared
// credential pointer or with one worker per credential.
type Dispatcher struct {
	executor        *Executor
	pool            *credential.Pool
	controller      *Controller
	parallel        bool
	interBatchDelay time.Duration
}

// NewDispatcher creates a new Dispatcher.
// Parameters:
//   - executor: batch executor shared by all workers.
//   - pool: credential pool.
//   - controller: run controller consulted before each batch.
//   - parallel: request one worker per credential.
//   - interBatchDelay: pause between batches in sequential mode.
//
// Returns:
//   - *Dispatcher: initialized dispatcher.
func NewDispatcher(executor *Executor, pool *credential.Pool, controller *Controller, parallel bool, interBatchDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		executor:        executor,
		pool:            pool,
		controller:      controller,
		parallel:        parallel,
		interBatchDelay: interBatchDelay,
	}
}

// Workers returns how many workers RunColumn uses for n batches. Parallel mode
// needs at least two usable credentials.
func (d *Dispatcher) Workers(n int) int {
	size := d.pool.Size()
	if !d.parallel || size < 2 {
		return 1
	}
	if n < size {
		return n
	}
	return size
}

// RunColumn executes batches and returns their results by batch index.
// It returns ErrStopRequested when a stop left batches unexecuted, or ctx's
// error when the context ended. Results of finished batches are kept either way.
func (d *Dispatcher) RunColumn(ctx context.Context, batches []domain.Batch, onDone BatchDoneFunc) (*ColumnOutcome, error) {
	outcome := &ColumnOutcome{Results: make([][]domain.RowResult, len(batches))}
	if len(batches) == 0 {
		return outcome, nil
	}
	if d.Workers(len(batches)) > 1 {
		return outcome, d.runParallel(ctx, batches, outcome, onDone)
	}
	return outcome, d.runSequential(ctx, batches, outcome, onDone)
}

func (d *Dispatcher) runSequential(ctx context.Context, batches []domain.Batch, outcome *ColumnOutcome, onDone BatchDoneFunc) error {
	for i, batch := range batches {
		if i > 0 {
			if err := d.controller.Sleep(ctx, d.interBatchDelay); err != nil {
				return err
			}
		}
		if err := d.controller.Wait(ctx); err != nil {
			return err
		}

		results, err := d.executor.Execute(ctx, batch, d.pool)
		outcome.Results[i] = results
		outcome.Done++
		if onDone != nil {
			onDone(i, results)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runParallel starts one worker per credential. Workers claim batch indexes from
// a shared counter, so every batch is executed exactly once, and write into
// disjoint result slots.
func (d *Dispatcher) runParallel(ctx context.Context, batches []domain.Batch, outcome *ColumnOutcome, onDone BatchDoneFunc) error {
	workers := d.Workers(len(batches))
	var (
		next    atomic.Int64
		done    atomic.Int64
		stopped atomic.Bool
		g       errgroup.Group
	)

	logger.CtxInfo(ctx, "Dispatching in parallel: batches=%d, workers=%d", len(batches), workers)

	for w := 0; w < workers; w++ {
		lease := d.pool.Lease(w)
		wctx := logger.SetWorker(ctx, w)
		g.Go(func() error {
			for {
				if err := d.controller.Wait(wctx); err != nil {
					if errors.Is(err, ErrStopRequested) {
						stopped.Store(true)
						return nil
					}
					return err
				}
				i := int(next.Add(1) - 1)
				if i >= len(batches) {
					return nil
				}

				results, err := d.executor.Execute(wctx, batches[i], lease)
				outcome.Results[i] = results
				done.Add(1)
				if onDone != nil {
					onDone(i, results)
				}
				if err != nil {
					return err
				}
			}
		})
	}

	err := g.Wait()
	outcome.Done = int(done.Load())
	if err != nil {
		return err
	}
	if stopped.Load() && !outcome.Complete() {
		return ErrStopRequested
	}
	return nil
}
