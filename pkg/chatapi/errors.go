package chatapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by any *APIError carrying status 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// StreamError reports a reply stream that ended in failure. Received counts
// the frames delivered before the failure.
type StreamError struct {
	Received int
	Err      error
}

func (e *StreamError) Error() string {
	if e.Received > 0 {
		return fmt.Sprintf("stream error (after %d frames): %v", e.Received, e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
