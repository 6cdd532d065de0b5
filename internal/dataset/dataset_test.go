package dataset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timmy/themescope/internal/domain"
)

func TestNewDataset(t *testing.T) {
	records := []Record{
		{"id": "1", "likes": "fast", "dislikes": "price"},
		{"id": "2", "likes": "", "dislikes": "support"},
	}
	ds, err := NewDataset("ref", "id", []string{"id", "likes", "dislikes"}, records)
	require.NoError(t, err)

	require.Equal(t, []string{"likes", "dislikes"}, ds.Columns)
	require.Len(t, ds.Rows, 2)
	require.Equal(t, "1", ds.Rows[0].ID)
	require.Equal(t, "price", ds.Rows[0].ColumnText("dislikes"))
	_, hasID := ds.Rows[0].Text["id"]
	require.False(t, hasID)
}

func TestNewDataset_SortsColumnsWithoutHeader(t *testing.T) {
	ds, err := NewDataset("ref", "id", nil, []Record{{"id": "1", "b": "x", "a": "y"}})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ds.Columns)
}

func TestNewDataset_RejectsBadIDs(t *testing.T) {
	tests := []struct {
		name     string
		idColumn string
		records  []Record
	}{
		{name: "no id column", idColumn: " ", records: []Record{{"id": "1"}}},
		{name: "empty id", idColumn: "id", records: []Record{{"id": "1"}, {"id": "  "}}},
		{name: "missing id", idColumn: "id", records: []Record{{"text": "x"}}},
		{name: "duplicate id", idColumn: "id", records: []Record{{"id": "1"}, {"id": "2"}, {"id": "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDataset("ref", tt.idColumn, nil, tt.records)
			require.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestValidateSelection(t *testing.T) {
	ds, err := NewDataset("ref", "id", []string{"id", "a", "b"}, []Record{{"id": "1", "a": "x", "b": "y"}})
	require.NoError(t, err)

	require.NoError(t, ds.ValidateSelection([]string{"b", "a"}))
	require.ErrorIs(t, ds.ValidateSelection(nil), domain.ErrConfiguration)
	require.ErrorIs(t, ds.ValidateSelection([]string{"c"}), domain.ErrConfiguration)
	require.ErrorIs(t, ds.ValidateSelection([]string{"id"}), domain.ErrConfiguration)
	require.ErrorIs(t, ds.ValidateSelection([]string{"a", "a"}), domain.ErrConfiguration)
}
