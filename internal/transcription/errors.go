package transcription

import (
	"errors"
	"fmt"
)

// TransientError is a backend response worth retrying: rate limiting or a
// 5xx server failure.
type TransientError struct {
	Status int
	Body   string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: HTTP %d: %s", e.Status, truncate(e.Body, 200))
}

// PermanentError is a backend rejection that will not improve on retry,
// like invalid auth or a malformed request.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent backend error: HTTP %d: %s", e.Status, truncate(e.Body, 200))
}

// TransportError is a network-level failure where no HTTP status was
// received. Timeouts, connection refusals, and resets land here.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the worker should attempt the call again
func IsRetryable(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var transport *TransportError
	return errors.As(err, &transport)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
