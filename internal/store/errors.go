package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned by Open when another process holds the store lock.
	ErrLocked = errors.New("store is locked by another process")

	// ErrClosed is returned when using a store after Close.
	ErrClosed = errors.New("store is closed")
)

// MigrationError reports a schema migration that could not be applied.
// A store that fails migration is never returned to callers.
type MigrationError struct {
	// From is the schema version found in the database.
	From int
	// To is the version the failing step was migrating to.
	To int
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate schema v%d -> v%d: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// IsMigrationError reports whether err is, or wraps, a MigrationError.
func IsMigrationError(err error) bool {
	var me *MigrationError
	return errors.As(err, &me)
}
