package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/themescope/internal/domain"
)

var (
	// ErrStopRequested is returned by Wait and Sleep once a stop was requested.
	// It ends a run early and is not a failure.
	ErrStopRequested = errors.New("stop requested")

	// ErrInvalidTransition is returned for a control action the current state does not allow.
	ErrInvalidTransition = errors.New("invalid run state transition")
)

// Controller carries pause, resume and stop signals from the user to the workers
// of one run. Signals are only observed at suspension points; a classification
// call already in flight always completes.
type Controller struct {
	mu     sync.Mutex
	state  domain.RunState
	resume chan struct{} // closed while not paused
	stop   chan struct{} // closed once stop is requested
	done   chan struct{} // closed when the run finishes
}

// NewController creates a controller in the idle state.
func NewController() *Controller {
	resume := make(chan struct{})
	close(resume)
	return &Controller{
		state:  domain.RunStateIdle,
		resume: resume,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Controller) transition(from []domain.RunState, to domain.RunState) error {
	for _, s := range from {
		if c.state == s {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
}

// Start moves an idle controller to running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition([]domain.RunState{domain.RunStateIdle}, domain.RunStateRunning)
}

// Pause blocks workers at their next suspension point.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]domain.RunState{domain.RunStateRunning}, domain.RunStatePaused); err != nil {
		return err
	}
	c.resume = make(chan struct{})
	return nil
}

// Resume releases paused workers.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]domain.RunState{domain.RunStatePaused}, domain.RunStateRunning); err != nil {
		return err
	}
	close(c.resume)
	return nil
}

// Stop asks every worker to finish its in-flight call and exit. A paused run
// can be stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasPaused := c.state == domain.RunStatePaused
	if err := c.transition([]domain.RunState{domain.RunStateRunning, domain.RunStatePaused}, domain.RunStateStopping); err != nil {
		return err
	}
	close(c.stop)
	if wasPaused {
		close(c.resume)
	}
	return nil
}

// Finish records the end of the run: stopped after a stop request, completed otherwise.
func (c *Controller) Finish() (domain.RunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	to := domain.RunStateCompleted
	if c.state == domain.RunStateStopping {
		to = domain.RunStateStopped
	}
	if err := c.transition([]domain.RunState{
		domain.RunStateRunning,
		domain.RunStatePaused,
		domain.RunStateStopping,
	}, to); err != nil {
		return c.state, err
	}
	if to == domain.RunStateCompleted {
		select {
		case <-c.resume:
		default:
			close(c.resume)
		}
	}
	close(c.done)
	return to, nil
}

// State returns the current state.
func (c *Controller) State() domain.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StopRequested reports whether Stop has been called.
func (c *Controller) StopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Done is closed once Finish has been called.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait returns immediately while running, blocks while paused, and returns
// ErrStopRequested once stop was requested.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	resume := c.resume
	c.mu.Unlock()

	if c.StopRequested() {
		return ErrStopRequested
	}
	select {
	case <-resume:
		if c.StopRequested() {
			return ErrStopRequested
		}
		return nil
	case <-c.stop:
		return ErrStopRequested
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep waits for d, returning early with ErrStopRequested on stop.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	if c.StopRequested() {
		return ErrStopRequested
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-c.stop:
		return ErrStopRequested
	case <-ctx.Done():
		return ctx.Err()
	}
}
