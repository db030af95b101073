// Package errs defines the failure taxonomy shared by every pipeline stage.
//
// Per-record kinds (MalformedRecord, MalformedGeometry) are counted and skipped by the
// caller. Per-run kinds (SourceUnavailable, StorageFailure, InvariantViolation) abort the
// current run and leave previously committed state intact.
package errs

import (
	"errors"
	"fmt"
)

// Kinds
var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrMalformedGeometry  = errors.New("malformed geometry")
	ErrStorageFailure     = errors.New("storage failure")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Error attaches a kind and the failing operation to an underlying error.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error. A nil err with a nil kind returns nil.
func E(kind error, op string, err error) error {
	if kind == nil && err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Source(op string, err error) error { return E(ErrSourceUnavailable, op, err) }
func Record(op string, err error) error { return E(ErrMalformedRecord, op, err) }
func Geometry(op string, err error) error { return E(ErrMalformedGeometry, op, err) }
func Storage(op string, err error) error { return E(ErrStorageFailure, op, err) }
func Invariant(op string, err error) error { return E(ErrInvariantViolation, op, err) }

// IsPerRecord reports whether err is a skip-and-continue failure.
func IsPerRecord(err error) bool {
	return errors.Is(err, ErrMalformedRecord) || errors.Is(err, ErrMalformedGeometry)
}
