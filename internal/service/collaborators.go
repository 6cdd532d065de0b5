package service

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/storage"
)

// RunRecorder persists run records. *repository.RunRepository implements it.
type RunRecorder interface {
	Save(ctx context.Context, run *domain.ClassificationRun) error
	UpdateProgress(ctx context.Context, id string, processed, failed int) error
}

// FailedRowWriter persists failed-rows ledger entries.
// *repository.FailedRowRepository implements it.
type FailedRowWriter interface {
	CreateBatch(ctx context.Context, rows []domain.FailedRow) error
}

// ResultsConsumer receives the results of a finished run, for rendering or export.
type ResultsConsumer interface {
	Consume(ctx context.Context, report *RunReport) error
}

// SummaryGenerator produces a narrative summary of a finished run's results.
// It is an integration point for downstream reporting; no implementation ships here.
type SummaryGenerator interface {
	Summarize(ctx context.Context, results []domain.ColumnResult) (string, error)
}

// ObjectResultsExporter writes each finished run's results as a JSON document
// to object storage at <prefix>/<run id>.json.
type ObjectResultsExporter struct {
	store  storage.ObjectStorage
	prefix string
}

// NewObjectResultsExporter creates an exporter writing under prefix.
func NewObjectResultsExporter(store storage.ObjectStorage, prefix string) *ObjectResultsExporter {
	return &ObjectResultsExporter{store: store, prefix: prefix}
}

// Key returns the object key of a run's results.
func (x *ObjectResultsExporter) Key(runID string) string {
	return path.Join(x.prefix, runID+".json")
}

type exportedResults struct {
	RunID      string                `json:"run_id"`
	DatasetRef string                `json:"dataset_ref"`
	Outcome    domain.RunOutcome     `json:"outcome"`
	ExportedAt time.Time             `json:"exported_at"`
	Columns    []domain.ColumnResult `json:"columns"`
	FailedRows []domain.FailedRow    `json:"failed_rows"`
}

func (x *ObjectResultsExporter) Consume(ctx context.Context, report *RunReport) error {
	doc := exportedResults{
		RunID:      report.RunID,
		DatasetRef: report.DatasetRef,
		Outcome:    report.Outcome,
		ExportedAt: time.Now().UTC(),
		Columns:    report.Columns,
		FailedRows: report.FailedRows,
	}
	key := x.Key(report.RunID)
	if err := storage.PutJSON(ctx, x.store, key, doc); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	logger.CtxInfo(ctx, "Results exported: columns=%d, url=%s", len(doc.Columns), x.store.GetURL(key))
	return nil
}
