package engine

import (
	"errors"
	"fmt"
)

// ErrOwnerChanged is returned when the active owner changed while a cycle
// was running. The cycle stops before writing anything else and its results
// are discarded.
var ErrOwnerChanged = errors.New("active owner changed during sync cycle")

// StoreError reports a local store failure that aborted a cycle.
//
// Store errors are never retried within a cycle. State is exactly as of the
// last committed transaction.
type StoreError struct {
	// Op names the store operation that failed.
	Op string

	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("local store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError returns true if the error is a local store failure.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
