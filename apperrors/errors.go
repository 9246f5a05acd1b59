// Package apperrors defines the closed error taxonomy used at the boundary
// where results from the history API and the event channel are first
// consumed, so downstream code never inspects untyped error shapes.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindServer     Kind = "server"
)

// ConnCause normalizes channel connection failures.
type ConnCause string

const (
	CauseTimeout    ConnCause = "timeout"
	CauseAuthFailed ConnCause = "auth-failed"
	CauseUnknown    ConnCause = "unknown"
)

// ErrMutationConflict marks an edit/delete referencing a message not present
// in the currently loaded window. Benign: logged, never surfaced.
var ErrMutationConflict = errors.New("message not in loaded window")

// ConnectionError is reported through the connection's error surface, never
// returned into caller code.
type ConnectionError struct {
	Cause ConnCause
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel connection failed (%s): %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("channel connection failed (%s)", e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError covers failed reads from the history API.
type FetchError struct {
	Kind   Kind
	Status int // HTTP-like status, 0 when the request never reached the server
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("history fetch failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("history fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError covers failed mutations (send/edit/delete/mark-read). Validation
// errors are not retried automatically.
type SendError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("send failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may reasonably offer a retry
// affordance. Validation failures are final.
func IsRetryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind != KindValidation
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return true
	}
	return false
}
