package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/themescope/internal/classifier"
	"github.com/timmy/themescope/internal/credential"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/metrics"
	"github.com/timmy/themescope/internal/prompts"
)

// Classifier is the external classification call driven by the Executor.
type Classifier interface {
	Classify(ctx context.Context, apiKey string, req classifier.Request) (*classifier.Response, error)
}

// RetryPolicy bounds how the Executor recovers from failed calls.
type RetryPolicy struct {
	TransientRetries  int           // extra attempts after a transient failure
	TransientDelay    time.Duration // fixed wait between transient attempts
	RateLimitRetries  int           // backoff rounds after every credential was rate limited
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// DefaultRetryPolicy returns the default recovery limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TransientRetries:  3,
		TransientDelay:    2 * time.Second,
		RateLimitRetries:  5,
		BackoffInitial:    5 * time.Second,
		BackoffMultiplier: 1.5,
		BackoffMax:        60 * time.Second,
	}
}

// nextBackoff grows d by the multiplier, capped at BackoffMax.
func (p RetryPolicy) nextBackoff(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * p.BackoffMultiplier)
	if p.BackoffMax > 0 && next > p.BackoffMax {
		return p.BackoffMax
	}
	return next
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor classifies one batch, absorbing rate limits, transient failures and
// size-limit errors so that every row of the batch ends up with a result.
type Executor struct {
	client   Classifier
	template string
	policy   RetryPolicy
	ledger   *Ledger
	sleep    SleepFunc
}

// NewExecutor creates a new Executor.
// Parameters:
//   - client: classification call.
//   - template: validated prompt template, rendered per column.
//   - policy: retry and backoff limits.
//   - ledger: failed-rows ledger terminal failures are appended to.
//
// Returns:
//   - *Executor: initialized executor.
func NewExecutor(client Classifier, template string, policy RetryPolicy, ledger *Ledger) *Executor {
	return &Executor{
		client:   client,
		template: template,
		policy:   policy,
		ledger:   ledger,
		sleep:    sleepContext,
	}
}

// WithSleep replaces the function used for backoff and retry delays.
func (e *Executor) WithSleep(fn SleepFunc) *Executor {
	if fn != nil {
		e.sleep = fn
	}
	return e
}

// span is a contiguous run of batch positions sent as one request.
type span []int

// Execute classifies a batch with the credentials of creds.
//
// The returned slice is aligned with batch.Rows and always has the same length.
// Rows with blank text get the "No Content" result without being sent. A request
// rejected for size is bisected and both halves are retried; rows that still
// cannot be classified get the fallback result and a ledger entry. The error is
// non-nil only when ctx ended, in which case unprocessed rows hold fallbacks
// that are not recorded in the ledger.
func (e *Executor) Execute(ctx context.Context, batch domain.Batch, creds credential.Source) ([]domain.RowResult, error) {
	out := make([]domain.RowResult, len(batch.Rows))

	var pending span
	for i, row := range batch.Rows {
		if row.ColumnText(batch.Column) == "" {
			out[i] = domain.NoContentResult(row.ID)
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	systemPrompt := prompts.Render(e.template, batch.Column)
	stack := []span{pending}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			for _, s := range stack {
				e.abandon(out, batch, s)
			}
			return out, err
		}

		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		resp, err := e.call(ctx, batch, s, systemPrompt, creds)
		switch {
		case err == nil:
			metrics.BatchesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
			e.merge(out, batch, s, resp)

		case errors.Is(err, classifier.ErrTokenLimit) && len(s) > 1:
			metrics.BatchesTotal.WithLabelValues(metrics.OutcomeSplit).Inc()
			mid := len(s) / 2
			logger.CtxInfo(ctx, "Splitting batch after size limit: column=%s, batch=%d, rows=%d -> %d+%d",
				batch.Column, batch.Sequence, len(s), mid, len(s)-mid)
			// Right half first so the left half is popped first.
			stack = append(stack, s[mid:], s[:mid])

		case ctx.Err() != nil:
			stack = append(stack, s)

		default:
			metrics.BatchesTotal.WithLabelValues(metrics.OutcomeFallback).Inc()
			logger.CtxWarn(ctx, "Batch failed, using fallback results: column=%s, batch=%d, rows=%d, error=%v",
				batch.Column, batch.Sequence, len(s), err)
			e.fail(out, batch, s, err)
		}
	}
	return out, nil
}

// call performs one request for the rows of s, retrying transient failures on
// the same credential and walking the credential rotation on rate limits.
func (e *Executor) call(ctx context.Context, batch domain.Batch, s span, systemPrompt string, creds credential.Source) (*classifier.Response, error) {
	req := classifier.Request{
		SystemPrompt: systemPrompt,
		Entries:      make([]classifier.Entry, len(s)),
	}
	for i, idx := range s {
		row := batch.Rows[idx]
		req.Entries[i] = classifier.Entry{ID: row.ID, Text: row.ColumnText(batch.Column)}
	}

	transientLeft := e.policy.TransientRetries
	rateLimitLeft := e.policy.RateLimitRetries
	backoff := e.policy.BackoffInitial
	tried := 1 // credentials tried in the current round

	for attempt := 1; ; attempt++ {
		cred, err := creds.Current()
		if err != nil {
			return nil, err
		}
		if err := cred.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := e.client.Classify(ctx, cred.Secret, req)
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		log := logger.With(logger.Fields{
			logger.FieldColumn:     batch.Column,
			logger.FieldBatch:      batch.Sequence,
			logger.FieldCredential: cred.Masked(),
			logger.FieldAttempt:    attempt,
		})

		switch {
		case errors.Is(err, classifier.ErrRateLimited):
			metrics.RateLimitEvents.Inc()
			if tried < creds.Size() && creds.Rotate() {
				tried++
				metrics.CredentialRotations.Inc()
				log.Info(ctx, "Rate limited, rotating credential")
				continue
			}
			if rateLimitLeft <= 0 {
				return nil, fmt.Errorf("rate limit retries exhausted: %w", err)
			}
			rateLimitLeft--
			log.WithDuration(backoff.Milliseconds()).Warn(ctx, "Rate limited on every credential, backing off")
			metrics.BackoffSeconds.Add(backoff.Seconds())
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = e.policy.nextBackoff(backoff)
			tried = 1

		case errors.Is(err, classifier.ErrTransient):
			if transientLeft <= 0 {
				return nil, fmt.Errorf("transient retries exhausted: %w", err)
			}
			transientLeft--
			log.Warn(ctx, "Transient failure, retrying: error=%v", err)
			if err := e.sleep(ctx, e.policy.TransientDelay); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// merge copies response items into the rows of s. Rows the response omitted,
// and rows answered without a usable topic, fall back.
func (e *Executor) merge(out []domain.RowResult, batch domain.Batch, s span, resp *classifier.Response) {
	items := resp.ByID()
	var missing, empty span
	for _, idx := range s {
		row := batch.Rows[idx]
		item, ok := items[row.ID]
		if !ok {
			missing = append(missing, idx)
			continue
		}
		if len(item.Topics) == 0 {
			empty = append(empty, idx)
			continue
		}
		out[idx] = domain.RowResult{
			RowID:      row.ID,
			Topics:     item.Topics,
			Actionable: item.Actionable,
		}
		metrics.RowsClassified.Inc()
	}
	if len(missing) > 0 {
		e.fail(out, batch, missing, errMissingEntry)
	}
	if len(empty) > 0 {
		e.fail(out, batch, empty, errEmptyTopics)
	}
}

var (
	errMissingEntry = errors.New("no classification returned for entry")
	errEmptyTopics  = errors.New("classification returned no usable topic for entry")
)

// abandon fills the rows of s with the fallback result without recording them
// in the ledger: they were never classified because the run was cancelled.
func (e *Executor) abandon(out []domain.RowResult, batch domain.Batch, s span) {
	for _, idx := range s {
		out[idx] = domain.FallbackResult(batch.Rows[idx].ID)
	}
}

func (e *Executor) fail(out []domain.RowResult, batch domain.Batch, s span, cause error) {
	for _, idx := range s {
		row := batch.Rows[idx]
		out[idx] = domain.FallbackResult(row.ID)
		if e.ledger != nil {
			e.ledger.Record(row.ID, batch.Column, cause)
		}
		metrics.RowsFailed.Inc()
	}
}
