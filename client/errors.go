package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout indicates the request did not complete within the
	// configured window. The in-flight call is aborted.
	ErrTimeout = errors.New("request timed out - check your connection and try again")

	// ErrNetwork indicates a DNS or connection failure before any HTTP
	// response was received.
	ErrNetwork = errors.New("network unavailable - check your connection and ensure the backend server is running")

	// ErrNoReachableEndpoint indicates every candidate endpoint failed its
	// probe. Callers still receive a best-effort URL alongside this error.
	ErrNoReachableEndpoint = errors.New("no reachable endpoint among candidates")
)

// APIError is a non-transport failure reported by the backend. The message is
// the server-provided one when the error body could be parsed, otherwise a
// generic status-based message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a transient condition
// (server error or rate limiting).
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// errorBody is the JSON shape of backend error responses. Endpoints are
// inconsistent about the key they use.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// newAPIError builds an APIError from a response body, falling back to a
// generic message when the body is not a recognizable JSON error.
func newAPIError(statusCode int, body []byte) *APIError {
	msg := ""
	if len(body) > 0 {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil {
			switch {
			case eb.Message != "":
				msg = eb.Message
			case eb.Error != "":
				msg = eb.Error
			case eb.Detail != "":
				msg = eb.Detail
			}
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("server error: %d", statusCode)
	}
	return &APIError{StatusCode: statusCode, Message: msg}
}
