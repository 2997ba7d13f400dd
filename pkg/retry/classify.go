package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ClassifyHTTPStatus maps an HTTP status code to the appropriate typed
// error, wrapping the underlying error for context. Callers that talk to a
// remote model API over HTTP use this so every provider adapter classifies
// consistently. retryAfterSeconds, when non-nil, becomes RateLimitError's
// RetryAfter.
func ClassifyHTTPStatus(status int, err error, retryAfterSeconds *int) error {
	switch {
	case status == http.StatusTooManyRequests:
		var retryAfter *time.Duration
		if retryAfterSeconds != nil {
			d := time.Duration(*retryAfterSeconds) * time.Second
			retryAfter = &d
		}
		return &RateLimitError{Err: err, RetryAfter: retryAfter}
	case status >= 500:
		return &TransientError{Err: err}
	case status >= 400:
		return &PermanentError{Err: err}
	default:
		return err
	}
}

// ClassifyTransportError inspects a transport-level (non-HTTP-status) error
// — connection resets, timeouts, EOF — and returns a TransientError when the
// failure looks recoverable, or the original error otherwise (callers should
// treat an unrecognised error as permanent, since retrying an unrecognised
// failure mode is not safe to assume).
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &PermanentError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	if isConnectionError(err) {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
