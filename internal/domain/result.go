package domain

import "strings"

// Sentiment is the tone the classifier assigns to a topic.
type Sentiment string

const (
	SentimentPositive              Sentiment = "Positive"
	SentimentNegative              Sentiment = "Negative"
	SentimentNeutral               Sentiment = "Neutral"
	SentimentConstructiveCriticism Sentiment = "ConstructiveCriticism"
)

// Direction describes what the respondent is doing with a topic.
type Direction string

const (
	DirectionRequest      Direction = "Request"
	DirectionComplaint    Direction = "Complaint"
	DirectionSatisfaction Direction = "Satisfaction"
	DirectionObservation  Direction = "Observation"
)

const (
	// MaxTopicsPerRow caps how many topics are kept for a row.
	MaxTopicsPerRow = 3

	// ProcessingErrorCategory is the sentinel category of a fallback row.
	ProcessingErrorCategory = "Processing Error"

	// NoContentCategory is assigned to rows whose text is blank; they are never sent.
	NoContentCategory = "No Content"
)

// ParseSentiment maps a classifier value onto a known sentiment, case-insensitively.
// Unknown values become Neutral.
func ParseSentiment(s string) Sentiment {
	normalized := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	switch normalized {
	case "positive":
		return SentimentPositive
	case "negative":
		return SentimentNegative
	case "constructivecriticism", "constructive":
		return SentimentConstructiveCriticism
	default:
		return SentimentNeutral
	}
}

// ParseDirection maps a classifier value onto a known direction, case-insensitively.
// Unknown values become Observation.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "request":
		return DirectionRequest
	case "complaint":
		return DirectionComplaint
	case "satisfaction":
		return DirectionSatisfaction
	default:
		return DirectionObservation
	}
}

// Topic is one classified aspect of a row's text.
type Topic struct {
	Category  string    `json:"category"`
	Subtheme  string    `json:"subtheme"`
	Sentiment Sentiment `json:"sentiment"`
	Direction Direction `json:"direction"`
}

// RowResult is the classification of one row. Every input row yields exactly one,
// including rows whose batch failed (Failed is then true).
type RowResult struct {
	RowID      string  `json:"row_id"`
	Topics     []Topic `json:"topics"`
	Actionable bool    `json:"actionable"`
	Failed     bool    `json:"failed,omitempty"`
}

// FallbackResult builds the sentinel result recorded for a row that could not be classified.
func FallbackResult(rowID string) RowResult {
	return RowResult{
		RowID: rowID,
		Topics: []Topic{{
			Category:  ProcessingErrorCategory,
			Subtheme:  ProcessingErrorCategory,
			Sentiment: SentimentNeutral,
			Direction: DirectionObservation,
		}},
		Actionable: false,
		Failed:     true,
	}
}

// NoContentResult builds the result for a row with blank text.
func NoContentResult(rowID string) RowResult {
	return RowResult{
		RowID: rowID,
		Topics: []Topic{{
			Category:  NoContentCategory,
			Subtheme:  NoContentCategory,
			Sentiment: SentimentNeutral,
			Direction: DirectionObservation,
		}},
	}
}

// ColumnResult holds the row results of one column in original row order.
// Completed is set only once every batch of the column has been merged.
type ColumnResult struct {
	Column    string      `json:"column"`
	Rows      []RowResult `json:"rows"`
	Completed bool        `json:"completed"`
}

// FailedCount returns how many rows of the column fell back to the sentinel result.
func (c ColumnResult) FailedCount() int {
	n := 0
	for _, r := range c.Rows {
		if r.Failed {
			n++
		}
	}
	return n
}
