package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fetcher.
var (
	// ErrInvalidPayload is returned when an upstream answers 2xx with a body
	// that is not valid JSON.
	ErrInvalidPayload = errors.New("upstream returned invalid JSON payload")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("request failed with status %s", e.Status)
	}
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// UpstreamError is returned once every attempt against an upstream URL failed.
// Its message is the message of the last underlying error.
type UpstreamError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream request to %s failed", e.URL)
	}
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StatusCode returns the upstream HTTP status of the last attempt, or 0 when
// the last attempt never got a response.
func (e *UpstreamError) StatusCode() int {
	var statusErr *StatusError
	if errors.As(e.Err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// failureReason classifies an attempt failure for metrics labels.
func failureReason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= http.StatusInternalServerError {
			return "server"
		}
		return "client"
	case errors.Is(err, ErrInvalidPayload):
		return "payload"
	case isTimeout(err):
		return "timeout"
	default:
		return "network"
	}
}
