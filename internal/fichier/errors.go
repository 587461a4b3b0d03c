// Package fichier provides a session-bound HTTP client for the 1fichier
// web console: login/logout, directory and file listings scraped from the
// console's HTML fragments, one-time download link resolution, and the
// mkdir/move/remove operations. Requests are paced, retried with backoff,
// and classified into sentinel errors.
package fichier

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for response classification.
// Use errors.Is(err, fichier.ErrAuthFailed) to check.
var (
	ErrAuthFailed         = errors.New("fichier: login did not establish a session")
	ErrBadRequest         = errors.New("fichier: bad request")
	ErrForbidden          = errors.New("fichier: forbidden")
	ErrNotFound           = errors.New("fichier: not found")
	ErrThrottled          = errors.New("fichier: throttled")
	ErrServerError        = errors.New("fichier: server error")
	ErrUnexpectedResponse = errors.New("fichier: unexpected response")
)

// RemoteError wraps a sentinel error with the HTTP status code, the console
// path that produced it, and the response body for debugging.
type RemoteError struct {
	StatusCode int
	Path       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("fichier: HTTP %d on %s: %s", e.StatusCode, e.Path, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpectedResponse
	}
}

// statusBandwidthExceeded is the non-standard 509 the service returns when a
// download quota is exhausted.
const statusBandwidthExceeded = 509

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		statusBandwidthExceeded:
		return true
	default:
		return false
	}
}
