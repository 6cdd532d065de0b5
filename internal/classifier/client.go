package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/themescope/internal/domain"
)

// Client calls an OpenAI-compatible chat completions endpoint to classify
// batches of free-text entries. The API key is supplied per call so that one
// client can serve every credential in a pool.
type Client struct {
	client       *resty.Client
	model        string
	endpoint     string
	maxTokens    int
	temperature  float32
	maxTextChars int
}

// Config holds configuration for the classification client.
type Config struct {
	Model        string
	BaseURL      string
	Timeout      time.Duration
	MaxTokens    int
	Temperature  float32
	MaxTextChars int
}

// NewClient creates a new classification client.
// Parameters:
//   - cfg: client configuration including model and endpoint.
//
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	// Default to OpenAI compatible endpoint if not specified
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Client{
		client:       client,
		model:        cfg.Model,
		endpoint:     baseURL + "/chat/completions",
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		maxTextChars: cfg.MaxTextChars,
	}
}

// GetModel returns the model name being used.
func (c *Client) GetModel() string {
	return c.model
}

// Entry is one row sent for classification.
type Entry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Request is a single classification call.
type Request struct {
	SystemPrompt string
	Entries      []Entry
}

// Item is the classification of one entry.
type Item struct {
	EntryID    string
	Topics     []domain.Topic
	Actionable bool
}

// Response holds the parsed items of a classification call, in response order.
type Response struct {
	Items []Item
}

// ByID indexes the response items by entry id. The first item wins on duplicates.
func (r *Response) ByID() map[string]Item {
	out := make(map[string]Item, len(r.Items))
	for _, it := range r.Items {
		if _, ok := out[it.EntryID]; !ok {
			out[it.EntryID] = it
		}
	}
	return out
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Classify sends one batch of entries and parses the returned items.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - apiKey: credential used for this call.
//   - req: rendered system prompt and the entries to classify.
//
// Returns:
//   - *Response: parsed items; entries may be missing and must be checked by the caller.
//   - error: an *APIError whose Kind is one of the package's failure kinds, or ctx's error.
func (c *Client) Classify(ctx context.Context, apiKey string, req Request) (*Response, error) {
	entries := make([]Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = Entry{ID: e.ID, Text: truncateRunes(e.Text, c.maxTextChars)}
	}
	payload, err := json.Marshal(map[string]any{"rows": entries})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: string(payload)},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var resp chatResponse
	var apiErr chatError
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetBody(body).
		SetResult(&resp).
		SetError(&apiErr).
		Post(c.endpoint)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &APIError{Kind: ErrTransient, Message: err.Error()}
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := string(httpResp.Body())
		if apiErr.Error != nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
			if code := fmt.Sprint(apiErr.Error.Code); apiErr.Error.Code != nil && code != "" {
				msg = code + ": " + msg
			}
		}
		return nil, &APIError{
			Kind:       kindForStatus(httpResp.StatusCode(), msg),
			StatusCode: httpResp.StatusCode(),
			Message:    msg,
		}
	}

	if len(resp.Choices) == 0 {
		return nil, &APIError{
			Kind:       ErrMalformedResponse,
			StatusCode: httpResp.StatusCode(),
			Message:    "no choices in response",
		}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return nil, &APIError{
			Kind:       ErrTokenLimit,
			StatusCode: httpResp.StatusCode(),
			Message:    "response truncated at max_tokens",
		}
	}

	items, err := ParseItems(choice.Message.Content)
	if err != nil {
		return nil, &APIError{
			Kind:       ErrMalformedResponse,
			StatusCode: httpResp.StatusCode(),
			Message:    err.Error(),
		}
	}
	return &Response{Items: items}, nil
}

// kindForStatus maps an HTTP failure onto a failure kind.
func kindForStatus(status int, message string) error {
	lower := strings.ToLower(message)
	switch {
	case status == 429,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "rate_limit"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "resource_exhausted"):
		return ErrRateLimited
	case status == 413,
		strings.Contains(lower, "context_length_exceeded"),
		strings.Contains(lower, "maximum context length"),
		strings.Contains(lower, "too many tokens"),
		strings.Contains(lower, "token limit"):
		return ErrTokenLimit
	case status == 408, status >= 500:
		return ErrTransient
	default:
		return ErrRequest
	}
}

// wire types of the classifier's JSON document
type rawTopic struct {
	MainCategory string `json:"mainCategory"`
	SubTheme     string `json:"subTheme"`
	Sentiment    string `json:"sentiment"`
	Direction    string `json:"direction"`
}

type rawItem struct {
	EntryID    flexibleID `json:"entryId"`
	Topics     []rawTopic `json:"topics"`
	Actionable bool       `json:"actionable"`
}

type rawDocument struct {
	Items []rawItem `json:"items"`
}

// flexibleID accepts entry ids returned either as strings or as numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("entryId is neither string nor number: %s", string(b))
	}
	*f = flexibleID(n.String())
	return nil
}

// ParseItems decodes the classifier's message content. Markdown code fences are
// tolerated, as is a bare array of items. Topics are normalized and capped.
func ParseItems(content string) ([]Item, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, fmt.Errorf("empty message content")
	}

	var doc rawDocument
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &doc.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
	} else {
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
	}

	items := make([]Item, 0, len(doc.Items))
	for _, raw := range doc.Items {
		id := strings.TrimSpace(string(raw.EntryID))
		if id == "" {
			continue
		}
		item := Item{EntryID: id, Actionable: raw.Actionable}
		for _, t := range raw.Topics {
			if len(item.Topics) == domain.MaxTopicsPerRow {
				break
			}
			category := strings.TrimSpace(t.MainCategory)
			if category == "" {
				continue
			}
			item.Topics = append(item.Topics, domain.Topic{
				Category:  category,
				Subtheme:  strings.TrimSpace(t.SubTheme),
				Sentiment: domain.ParseSentiment(t.Sentiment),
				Direction: domain.ParseDirection(t.Direction),
			})
		}
		items = append(items, item)
	}
	return items, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
