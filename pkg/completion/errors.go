package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when the service returns no choices.
	ErrEmptyResponse = errors.New("completion: empty response")

	// ErrNoPersona is returned when Complete is called without a persona.
	ErrNoPersona = errors.New("completion: persona required")
)

// APIError is a failed call to the completion service.
type APIError struct {
	// StatusCode is the HTTP status code, zero for transport failures.
	StatusCode int

	// Code and Type are the service's error code and category, if any.
	Code string
	Type string

	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion: API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion: request failed: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller could reasonably retry. The client
// itself never retries.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
