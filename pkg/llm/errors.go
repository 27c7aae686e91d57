package llm

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a provider has no credentials.
var ErrNotConfigured = errors.New("LLM not configured")

// ErrNoResponse is returned when the backend answered without any choices.
var ErrNoResponse = errors.New("No response from model")

// TransportError wraps network-level failures talking to the backend.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-success response from the backend. Message carries the
// backend's own error message when it could be extracted.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (status %d)", e.StatusCode)
	}
	return e.Message
}
