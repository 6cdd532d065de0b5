package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "themescope"

// Batch outcomes used as the "outcome" label of BatchesTotal.
const (
	OutcomeOK       = "ok"
	OutcomeSplit    = "split"
	OutcomeFallback = "fallback"
)

var (
	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Classification requests by outcome.",
	}, []string{"outcome"})
	RowsClassified = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_classified_total",
		Help:      "Rows that received a classification.",
	})
	RowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_failed_total",
		Help:      "Rows that fell back to the processing-error result.",
	})
	RateLimitEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_events_total",
		Help:      "Rate-limit responses received from the classifier.",
	})
	CredentialRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_rotations_total",
		Help:      "Rotations to another credential after a rate limit.",
	})
	BackoffSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backoff_seconds_total",
		Help:      "Time spent in rate-limit backoff.",
	})
	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Latency of a single classification request.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	ColumnsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "columns_completed_total",
		Help:      "Columns fully classified and checkpointed.",
	})
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished runs by outcome.",
	}, []string{"outcome"})
)

var initOnce sync.Once

// Init registers collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			BatchesTotal,
			RowsClassified,
			RowsFailed,
			RateLimitEvents,
			CredentialRotations,
			BackoffSeconds,
			BatchDuration,
			ColumnsCompleted,
			RunsTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
