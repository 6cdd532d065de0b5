package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/storage"
)

func TestObjectResultsExporter(t *testing.T) {
	store := storage.NewMemoryStorage("")
	x := NewObjectResultsExporter(store, "themescope/results")
	require.Equal(t, "themescope/results/run-1.json", x.Key("run-1"))

	report := &RunReport{
		RunID:      "run-1",
		DatasetRef: "jsonl:survey.jsonl",
		Outcome:    domain.RunOutcomePartial,
		Columns: []domain.ColumnResult{
			{Column: "praise", Completed: true, Rows: []domain.RowResult{{RowID: "r00"}}},
		},
		FailedRows: []domain.FailedRow{{RunID: "run-1", RowID: "r01", Column: "issues", Error: "boom"}},
	}
	require.NoError(t, x.Consume(context.Background(), report))

	var got exportedResults
	require.NoError(t, storage.GetJSON(context.Background(), store, x.Key("run-1"), &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, domain.RunOutcomePartial, got.Outcome)
	require.Len(t, got.Columns, 1)
	require.Equal(t, "r00", got.Columns[0].Rows[0].RowID)
	require.Equal(t, "r01", got.FailedRows[0].RowID)
	require.False(t, got.ExportedAt.IsZero())
}
