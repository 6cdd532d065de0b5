package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/themescope/internal/classifier"
	"github.com/timmy/themescope/internal/dataset"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/prompts"
)

type fakeCall struct {
	Key    string
	Prompt string
	IDs    []string
}

// fakeClassifier records every call. Without a handler it answers every entry
// deterministically from its text.
type fakeClassifier struct {
	mu      sync.Mutex
	calls   []fakeCall
	handler func(n int, call fakeCall, req classifier.Request) (*classifier.Response, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, apiKey string, req classifier.Request) (*classifier.Response, error) {
	call := fakeCall{Key: apiKey, Prompt: req.SystemPrompt}
	for _, e := range req.Entries {
		call.IDs = append(call.IDs, e.ID)
	}
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, call)
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return echo(req), nil
	}
	return handler(n, call, req)
}

func (f *fakeClassifier) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

func echo(req classifier.Request) *classifier.Response {
	resp := &classifier.Response{}
	for _, e := range req.Entries {
		resp.Items = append(resp.Items, classifier.Item{
			EntryID: e.ID,
			Topics: []domain.Topic{{
				Category:  "cat:" + e.Text,
				Subtheme:  "sub",
				Sentiment: domain.SentimentPositive,
				Direction: domain.DirectionObservation,
			}},
			Actionable: len(e.Text)%2 == 0,
		})
	}
	return resp
}

func apiErr(kind error, status int) error {
	return &classifier.APIError{Kind: kind, StatusCode: status, Message: "fake"}
}

// sleepRecorder records requested delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func makeRows(n int, columns ...string) []domain.Row {
	rows := make([]domain.Row, n)
	for i := range rows {
		text := make(map[string]string, len(columns))
		for _, c := range columns {
			text[c] = fmt.Sprintf("%s answer %d", c, i)
		}
		rows[i] = domain.Row{ID: fmt.Sprintf("r%02d", i), Text: text}
	}
	return rows
}

func makeDataset(n int, columns ...string) *dataset.Dataset {
	return &dataset.Dataset{
		Ref:      "jsonl:survey.jsonl",
		IDColumn: "id",
		Columns:  columns,
		Rows:     makeRows(n, columns...),
	}
}

func batchOf(column string, rows []domain.Row) domain.Batch {
	return domain.Batch{Column: column, Sequence: 0, Rows: rows}
}

const testTemplate = prompts.DefaultClassificationPrompt
