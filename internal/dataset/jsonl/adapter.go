package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/logger"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 8 * 1024 * 1024

// Adapter implements dataset.Provider for a JSON Lines file: one JSON object per
// line, keys are column names, scalar values become the cell text.
type Adapter struct {
	path     string
	idColumn string
}

// NewAdapter creates a new JSONL adapter.
// Parameters:
//   - path: path to the .jsonl file.
//   - idColumn: key holding the row identifier.
//
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(path, idColumn string) *Adapter {
	return &Adapter{
		path:     filepath.Clean(path),
		idColumn: idColumn,
	}
}

// Ref returns the dataset reference with a "jsonl:" prefix.
func (a *Adapter) Ref() string {
	return "jsonl:" + a.path
}

// Load reads the file and builds the dataset.
// Parameters:
//   - ctx: context for cancellation; checked between lines.
//
// Returns:
//   - *dataset.Dataset: rows in file order.
//   - error: non-nil if the file cannot be read or ids are invalid.
func (a *Adapter) Load(ctx context.Context) (*dataset.Dataset, error) {
	file, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	header, records, err := a.read(ctx, file)
	if err != nil {
		return nil, err
	}
	return dataset.NewDataset(a.Ref(), a.idColumn, header, records)
}

func (a *Adapter) read(ctx context.Context, r io.Reader) ([]string, []dataset.Record, error) {
	var (
		header  []string
		seen    = make(map[string]struct{})
		records []dataset.Record
		skipped int
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		keys, rec, err := decodeRecord(line)
		if err != nil {
			// Skip malformed lines
			skipped++
			logger.CtxWarn(ctx, "Skipping malformed line %d of %s: %v", lineNo, a.path, err)
			continue
		}
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("error reading dataset: %w", err)
	}

	if skipped > 0 {
		logger.With(logger.Fields{logger.FieldCount: skipped}).Warn(ctx, "Skipped malformed lines in %s", a.path)
	}
	return header, records, nil
}

// decodeRecord decodes one JSON object, returning its keys in document order.
func decodeRecord(line []byte) ([]string, dataset.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected a JSON object")
	}

	var keys []string
	rec := make(dataset.Record)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		val, err := cellText(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", key, err)
		}
		if _, dup := rec[key]; !dup {
			keys = append(keys, key)
		}
		rec[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, rec, nil
}

// cellText converts a scalar JSON value to cell text. null is empty.
func cellText(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "null":
		return "", nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case trimmed == "true" || trimmed == "false":
		return trimmed, nil
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return "", fmt.Errorf("nested values are not supported")
	default:
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return "", fmt.Errorf("invalid number %s", trimmed)
		}
		return trimmed, nil
	}
}
