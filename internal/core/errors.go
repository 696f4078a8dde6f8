package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references a record that does not exist locally.
	ErrNotFound = errors.New("not found")
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrOffline is returned by operations that need the remote store.
	ErrOffline = errors.New("offline")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrSnapshotExists = errors.New("snapshot already exists")
	ErrNoExpenses     = errors.New("no expenses for month")
	ErrUnknownAction  = errors.New("unknown queue action")
)

// ValidationError reports malformed input. It is returned before any store mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps a failure of the durable local store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TransportError wraps a failed remote call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
