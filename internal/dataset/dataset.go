package dataset

import (
	"context"
	"sort"
	"strings"

	"github.com/timmy/themescope/internal/domain"
)

// Provider defines the interface for tabular datasets a run can classify.
type Provider interface {
	// Ref returns the stable reference checkpoints are keyed by.
	// Parameters: none.
	// Returns:
	//   - string: dataset reference.
	Ref() string

	// Load reads every record and builds the validated dataset.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//
	// Returns:
	//   - *Dataset: rows in source order.
	//   - error: non-nil if reading fails or ids are invalid.
	Load(ctx context.Context) (*Dataset, error)
}

// Dataset is an ingested table: rows with a unique id plus the free-text columns
// available for classification.
type Dataset struct {
	Ref      string
	IDColumn string
	Columns  []string
	Rows     []domain.Row
}

// Record is one raw table row keyed by column name.
type Record map[string]string

// NewDataset validates raw records and converts them to rows.
// Parameters:
//   - ref: dataset reference.
//   - idColumn: column holding the row identifier.
//   - header: column order as found in the source; nil sorts the columns by name.
//   - records: raw rows in source order.
//
// Returns:
//   - *Dataset: validated dataset.
//   - error: wraps domain.ErrConfiguration when the id column is missing, or an id is
//     empty or duplicated.
func NewDataset(ref, idColumn string, header []string, records []Record) (*Dataset, error) {
	idColumn = strings.TrimSpace(idColumn)
	if idColumn == "" {
		return nil, domain.ConfigErrorf("no ID column selected")
	}

	ds := &Dataset{
		Ref:      ref,
		IDColumn: idColumn,
		Rows:     make([]domain.Row, 0, len(records)),
	}
	seenCol := make(map[string]struct{})
	seenID := make(map[string]int, len(records))

	for i, rec := range records {
		id := strings.TrimSpace(rec[idColumn])
		if id == "" {
			return nil, domain.ConfigErrorf("row %d has an empty %q", i+1, idColumn)
		}
		if prev, dup := seenID[id]; dup {
			return nil, domain.ConfigErrorf("rows %d and %d share %s %q", prev+1, i+1, idColumn, id)
		}
		seenID[id] = i

		text := make(map[string]string, len(rec))
		for col, val := range rec {
			if col == idColumn {
				continue
			}
			text[col] = val
		}
		ds.Rows = append(ds.Rows, domain.Row{ID: id, Text: text})
	}

	if header == nil {
		for _, rec := range records {
			for col := range rec {
				header = append(header, col)
			}
		}
		sort.Strings(header)
	}
	for _, col := range header {
		if col == idColumn {
			continue
		}
		if _, ok := seenCol[col]; !ok {
			seenCol[col] = struct{}{}
			ds.Columns = append(ds.Columns, col)
		}
	}
	return ds, nil
}

// HasColumn reports whether column exists in the dataset.
func (d *Dataset) HasColumn(column string) bool {
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// ValidateSelection checks a column selection against the dataset.
// Returns an error wrapping domain.ErrConfiguration for an empty selection, a
// repeated column, the id column or an unknown column.
func (d *Dataset) ValidateSelection(columns []string) error {
	if len(columns) == 0 {
		return domain.ConfigErrorf("no columns selected")
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c == d.IDColumn {
			return domain.ConfigErrorf("ID column %q cannot be classified", c)
		}
		if !d.HasColumn(c) {
			return domain.ConfigErrorf("unknown column %q", c)
		}
		if _, dup := seen[c]; dup {
			return domain.ConfigErrorf("column %q selected twice", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
