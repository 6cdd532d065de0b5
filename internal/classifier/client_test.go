package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timmy/themescope/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&Config{Model: "test-model", BaseURL: srv.URL, MaxTextChars: 10})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func chatBody(content, finish string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"content": content},
			"finish_reason": finish,
		}},
	}
}

func TestClassify_Success(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		content := `{"items":[{"entryId":"1","topics":[{"mainCategory":"Speed","subTheme":"Login","sentiment":"negative","direction":"Complaint"}],"actionable":true},{"entryId":2,"topics":[],"actionable":false}]}`
		writeJSON(w, http.StatusOK, chatBody(content, "stop"))
	})

	resp, err := client.Classify(context.Background(), "sk-test", Request{
		SystemPrompt: "classify",
		Entries:      []Entry{{ID: "1", Text: "login takes forever to finish"}, {ID: "2", Text: "fine"}},
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "test-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	require.Equal(t, "classify", gotBody.Messages[0].Content)
	// Text is capped at MaxTextChars.
	require.Contains(t, gotBody.Messages[1].Content, `"login take"`)

	byID := resp.ByID()
	require.Len(t, byID, 2)
	require.True(t, byID["1"].Actionable)
	require.Equal(t, []domain.Topic{{
		Category:  "Speed",
		Subtheme:  "Login",
		Sentiment: domain.SentimentNegative,
		Direction: domain.DirectionComplaint,
	}}, byID["1"].Topics)
	require.Empty(t, byID["2"].Topics)
}

func TestClassify_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{
			name:   "429",
			status: http.StatusTooManyRequests,
			body:   map[string]any{"error": map[string]any{"message": "slow down"}},
			want:   ErrRateLimited,
		},
		{
			name:   "quota message",
			status: http.StatusForbidden,
			body:   map[string]any{"error": map[string]any{"message": "You exceeded your current quota"}},
			want:   ErrRateLimited,
		},
		{
			name:   "context length",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": map[string]any{"message": "This model's maximum context length is 8192 tokens", "code": "context_length_exceeded"}},
			want:   ErrTokenLimit,
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   map[string]any{"error": map[string]any{"message": "upstream"}},
			want:   ErrTransient,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   map[string]any{"error": map[string]any{"message": "invalid api key"}},
			want:   ErrRequest,
		},
		{
			name:   "unparsable content",
			status: http.StatusOK,
			body:   chatBody("I could not do that", "stop"),
			want:   ErrMalformedResponse,
		},
		{
			name:   "truncated output",
			status: http.StatusOK,
			body:   chatBody(`{"items":[`, "length"),
			want:   ErrTokenLimit,
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   map[string]any{"choices": []any{}},
			want:   ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := client.Classify(context.Background(), "k", Request{Entries: []Entry{{ID: "1", Text: "x"}}})
			require.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestClassify_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, chatBody(`{"items":[]}`, "stop"))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Classify(ctx, "k", Request{Entries: []Entry{{ID: "1", Text: "x"}}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseItems(t *testing.T) {
	content := "```json\n" + `[{"entryId":"a","topics":[
		{"mainCategory":"A","sentiment":"Constructive Criticism","direction":"request"},
		{"mainCategory":"B","sentiment":"weird","direction":"weird"},
		{"mainCategory":"C"},
		{"mainCategory":"D"}
	],"actionable":true},{"entryId":"","topics":[]}]` + "\n```"

	items, err := ParseItems(content)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, items[0].Topics, domain.MaxTopicsPerRow)
	require.Equal(t, domain.SentimentConstructiveCriticism, items[0].Topics[0].Sentiment)
	require.Equal(t, domain.DirectionRequest, items[0].Topics[0].Direction)
	require.Equal(t, domain.SentimentNeutral, items[0].Topics[1].Sentiment)
	require.Equal(t, domain.DirectionObservation, items[0].Topics[1].Direction)

	_, err = ParseItems("   ")
	require.Error(t, err)
}

func TestAPIError_UnwrapsKind(t *testing.T) {
	err := fmt.Errorf("batch 3: %w", &APIError{Kind: ErrTokenLimit, StatusCode: 413, Message: "too long"})
	require.ErrorIs(t, err, ErrTokenLimit)
	require.False(t, errors.Is(err, ErrTransient))
	require.Contains(t, err.Error(), "HTTP 413")
}
