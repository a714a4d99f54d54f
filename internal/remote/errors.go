// Package remote is the HTTP client for the REST authority that owns the
// canonical copy of every record. It adds bearer authentication, retries
// throttled and server-side failures, and classifies rejected requests.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRejected matches every request the server answered with a non-2xx
// status. The finer sentinels below match specific statuses.
var ErrRejected = errors.New("remote: request rejected")

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
)

// Error is a rejected request: the status, the request id the server
// reported, and the response body.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	RequestID  string
	Message    string
	Err        error // status sentinel, nil for unclassified statuses
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: %s %s: HTTP %d (request-id: %s): %s",
			e.Method, e.Path, e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match both ErrRejected and the status sentinel.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRejected}
	}

	return []error{ErrRejected, e.Err}
}

// classifyStatus maps a non-2xx status to a sentinel. Unlisted 4xx codes
// return nil.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a status is worth retrying within one call.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
