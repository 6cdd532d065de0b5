// Package batcher splits a column's rows into token-budget-bounded batches.
//
// Sizing is adaptive: the first few rows of the column are sampled to estimate
// the average request cost of a row, and the batch size is the largest count
// that keeps a request under the token budget, clamped to [1, BaseSize].
// Batching is deterministic, so identical inputs always produce identical
// batch boundaries.
package batcher

import (
	"unicode/utf8"

	"github.com/timmy/themescope/internal/domain"
)

const (
	// SampleSize is the number of leading rows used to estimate row cost.
	SampleSize = 10

	// CharsPerToken is the rough character-to-token ratio used for estimates.
	CharsPerToken = 4

	DefaultBaseSize             = 10
	DefaultTokenBudget          = 12000
	DefaultPromptOverheadTokens = 1500
	DefaultRowOverheadTokens    = 20
)

// Config controls batch sizing.
type Config struct {
	BaseSize             int // upper bound on rows per batch (B)
	TokenBudget          int // estimated upper bound on request tokens (T)
	PromptOverheadTokens int // tokens consumed by the system prompt and framing
	RowOverheadTokens    int // fixed per-row cost (id, JSON framing)
}

// DefaultConfig returns the default sizing parameters.
func DefaultConfig() Config {
	return Config{
		BaseSize:             DefaultBaseSize,
		TokenBudget:          DefaultTokenBudget,
		PromptOverheadTokens: DefaultPromptOverheadTokens,
		RowOverheadTokens:    DefaultRowOverheadTokens,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseSize <= 0 {
		c.BaseSize = DefaultBaseSize
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.PromptOverheadTokens < 0 {
		c.PromptOverheadTokens = 0
	}
	if c.RowOverheadTokens < 0 {
		c.RowOverheadTokens = 0
	}
	return c
}

// EstimateTokens approximates the request cost of one row's text.
func EstimateTokens(text string, rowOverhead int) int {
	return utf8.RuneCountInString(text)/CharsPerToken + rowOverhead
}

// AdaptiveSize computes the number of rows per batch for column.
// The result always satisfies 1 <= size <= cfg.BaseSize.
func AdaptiveSize(rows []domain.Row, column string, cfg Config) int {
	cfg = cfg.withDefaults()

	n := min(SampleSize, len(rows))
	if n == 0 {
		return cfg.BaseSize
	}

	total := 0
	for _, row := range rows[:n] {
		total += EstimateTokens(row.ColumnText(column), cfg.RowOverheadTokens)
	}
	avg := total / n
	if avg <= 0 {
		return cfg.BaseSize
	}

	available := cfg.TokenBudget - cfg.PromptOverheadTokens
	size := available / avg

	return max(1, min(cfg.BaseSize, size))
}

// Split partitions rows into ordered batches for column. The final batch may be
// shorter than the others. A single row that exceeds the budget by itself still
// forms a batch of one; the executor's split logic deals with it.
func Split(rows []domain.Row, column string, cfg Config) []domain.Batch {
	if len(rows) == 0 {
		return nil
	}

	size := AdaptiveSize(rows, column, cfg)
	chunks := chunk(rows, size)

	batches := make([]domain.Batch, 0, len(chunks))
	for i, c := range chunks {
		batches = append(batches, domain.Batch{
			Column:   column,
			Sequence: i,
			Rows:     c,
		})
	}
	return batches
}

// Sizes returns the row count of each batch, mainly for logging.
func Sizes(batches []domain.Batch) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = b.Len()
	}
	return sizes
}

// chunk splits a slice into sub-slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}

	numChunks := (len(items) + size - 1) / size
	result := make([][]T, 0, numChunks)

	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		result = append(result, items[i:end])
	}

	return result
}
