package classifier

import (
	"errors"
	"fmt"
)

// Failure kinds returned by Classify. Callers decide retry behaviour with errors.Is.
var (
	// ErrTransient covers network failures and 5xx responses; retry on the same credential.
	ErrTransient = errors.New("transient classification failure")
	// ErrRateLimited covers 429 and quota responses; rotate credentials, then back off.
	ErrRateLimited = errors.New("classification rate limited")
	// ErrTokenLimit means the request or response exceeded the model's size limit; split the batch.
	ErrTokenLimit = errors.New("classification token limit exceeded")
	// ErrMalformedResponse means the response could not be parsed; terminal for the batch.
	ErrMalformedResponse = errors.New("malformed classification response")
	// ErrRequest covers any other rejected request; terminal for the batch.
	ErrRequest = errors.New("classification request rejected")
)

// APIError carries the HTTP details of a failed call.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v: HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap exposes the failure kind to errors.Is.
func (e *APIError) Unwrap() error {
	return e.Kind
}
