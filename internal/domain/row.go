package domain

import "strings"

// Row is a single dataset record: a stable identifier plus the free text of every
// column that may be classified. Rows are immutable once ingested.
type Row struct {
	ID   string            `json:"id"`
	Text map[string]string `json:"text"`
}

// ColumnText returns the row's text for column, trimmed of surrounding whitespace.
func (r Row) ColumnText(column string) string {
	return strings.TrimSpace(r.Text[column])
}

// Batch is an ordered group of rows of one column submitted in a single
// classification call. Sequence is the batch's position within its column.
type Batch struct {
	Column   string `json:"column"`
	Sequence int    `json:"sequence"`
	Rows     []Row  `json:"rows"`
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Rows)
}
