package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store.
var (
	// ErrPoisoned means an earlier operation panicked while holding the
	// store lock. The store refuses further work until it is reopened.
	ErrPoisoned = errors.New("library store lock poisoned")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("library store closed")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidMatch is returned when a match record violates the status
	// invariants (success needs a release and confidence, ambiguous must
	// have neither, error carries no candidates).
	ErrInvalidMatch = errors.New("invalid match record")
)

// Kind classifies a store failure.
type Kind string

// Failure kinds.
const (
	KindDatabase      Kind = "database"
	KindSerialization Kind = "serialization"
	KindIO            Kind = "io"
)

// Error wraps a failure with the operation that produced it.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) || errors.Is(err, ErrInvalidMatch) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Kind: KindDatabase, Err: err}
}

func serializationError(op string, err error) error {
	return &Error{Op: op, Kind: KindSerialization, Err: err}
}
