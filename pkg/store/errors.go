package store

import (
	"errors"
	"fmt"
)

// Sentinel errors adapters wrap so callers can classify failures with
// errors.Is regardless of backend.
var (
	// ErrNotFound marks lookups for records that do not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey marks writes that violate a uniqueness constraint.
	// The runtime downgrades these to a debug log on entity creation.
	ErrDuplicateKey = errors.New("duplicate key")
)

// IOError wraps a backend failure with the operation that produced it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError wraps err as an IOError for operation op. Returns nil when
// err is nil so call sites can wrap unconditionally.
func NewIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
