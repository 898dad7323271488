package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a gateway failure.
type ErrorKind string

const (
	// KindTransient covers timeouts, network failures and 5xx responses.
	// The outbox entry stays put and is retried on the next cycle.
	KindTransient ErrorKind = "TRANSIENT"

	// KindRejected means the remote refused the request (validation,
	// conflict, permission). Retrying the same payload will keep failing.
	KindRejected ErrorKind = "REJECTED"
)

// Error is a classified gateway failure.
type Error struct {
	Kind ErrorKind

	// Status is the HTTP-equivalent status code, 0 when no response was
	// received.
	Status int

	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient creates a transient error.
func Transient(status int, msg string) *Error {
	return &Error{Kind: KindTransient, Status: status, Message: msg}
}

// Rejected creates a rejected error.
func Rejected(status int, msg string) *Error {
	return &Error{Kind: KindRejected, Status: status, Message: msg}
}

// StatusError classifies an HTTP status code: 408, 429 and 5xx are
// transient, every other non-2xx status is a rejection.
func StatusError(status int, msg string) *Error {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return Transient(status, msg)
	}
	return Rejected(status, msg)
}

// IsTransient returns true if err should be retried on a later cycle.
// Unclassified errors and context deadlines count as transient: the entry
// stays in the outbox either way.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	return errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, context.Canceled)
}

// IsRejected returns true if the remote refused the request.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindRejected
	}
	return false
}
