package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed identifiers, out of range indices and
	// stale membership lists.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a referenced board, column or task that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied marks a caller that does not own the target board.
	ErrAccessDenied = errors.New("access denied")
	// ErrTransaction marks a failed atomic commit. Nothing was written.
	ErrTransaction = errors.New("transaction failed")
	// ErrConcurrencyConflict indicates that the underlying storage rejected a
	// commit because a newer version of the board is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ErrorKind is the failure classification reported to callers.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindInvalidInput  ErrorKind = "invalid-input"
	KindNotFound      ErrorKind = "not-found"
	KindAccessDenied  ErrorKind = "access-denied"
	KindInternalError ErrorKind = "internal-error"
)

// KindOf classifies err. Anything that is not one of the client-facing
// kinds, including transaction failures, is an internal error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	default:
		return KindInternalError
	}
}

// InvalidInputf wraps ErrInvalidInput with detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
