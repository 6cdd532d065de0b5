package service

import (
	"sync"
	"time"

	"github.com/timmy/themescope/internal/domain"
)

// Ledger is the append-only record of rows that fell back to the processing-error
// result. It is shared by every worker of a run.
type Ledger struct {
	mu    sync.Mutex
	runID string
	rows  []domain.FailedRow
}

// NewLedger creates an empty ledger for a run.
func NewLedger(runID string) *Ledger {
	return &Ledger{runID: runID}
}

// Record appends an entry for a failed row.
func (l *Ledger) Record(rowID, column string, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	l.mu.Lock()
	l.rows = append(l.rows, domain.FailedRow{
		RunID:     l.runID,
		RowID:     rowID,
		Column:    column,
		Error:     msg,
		CreatedAt: time.Now(),
	})
	l.mu.Unlock()
}

// Restore appends entries carried over from an earlier session of the same run.
func (l *Ledger) Restore(rows []domain.FailedRow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rows {
		r.ID = 0
		r.RunID = l.runID
		l.rows = append(l.rows, r)
	}
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Entries returns a copy of every entry in append order.
func (l *Ledger) Entries() []domain.FailedRow {
	return l.Since(0)
}

// Since returns a copy of the entries appended after the first n.
func (l *Ledger) Since(n int) []domain.FailedRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.rows) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([]domain.FailedRow, len(l.rows)-n)
	copy(out, l.rows[n:])
	return out
}
