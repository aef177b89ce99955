// Package apperrors classifies pipeline failures so callers can decide between
// skipping a unit of work and aborting a run.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind represents the blast radius of an error
type Kind string

const (
	// KindRow is one record failing to parse or persist. The record is skipped.
	KindRow Kind = "ROW"

	// KindCall is one outbound call (fetch, geocode) failing. Data is degraded.
	KindCall Kind = "CALL"

	// KindFatal aborts the whole run: the page could not be fetched or the store
	// could not be reached.
	KindFatal Kind = "FATAL"
)

// Error carries a Kind, the operation that failed and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

// Unwrap implements the unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Row wraps err as a record-level failure.
func Row(op string, err error) *Error {
	return &Error{Kind: KindRow, Op: op, Err: err}
}

// Call wraps err as an outbound-call failure.
func Call(op string, err error) *Error {
	return &Error{Kind: KindCall, Op: op, Err: err}
}

// Fatal wraps err as a run-aborting failure.
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Unclassified errors are
// treated as fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsFatal reports whether err should abort the run.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
