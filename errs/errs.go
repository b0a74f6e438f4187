// Package errs defines the typed error set surfaced across the engine.
//
// Every expected failure mode described by the table engine is represented as
// an *Error carrying one of the Code values below. Lower layers (the log
// codec, the snapshot builder, the deletion-vector decoder) raise these
// directly; the table core wraps them with operation context (Op, Path,
// Version) without changing the Code, so callers can always recover the
// original classification with Is.
package errs

import "fmt"

// Code enumerates the kinds of errors the engine can surface.
type Code int

const (
	// Internal indicates a violated internal invariant. Should not occur
	// in normal operation; if it does, it is a bug in this engine.
	Internal Code = iota

	// Validation indicates a caller-supplied argument violated a
	// documented precondition. Raised synchronously, before any I/O.
	Validation

	// MalformedData indicates on-disk data violates the Delta protocol or
	// this engine's invariants.
	MalformedData

	// NotFound indicates a path expected to exist is missing.
	NotFound

	// ConcurrencyConflict indicates a conditional commit lost the race.
	ConcurrencyConflict

	// SchemaIncompatible indicates a write introduced a field whose type
	// conflicts with the table's current schema.
	SchemaIncompatible

	// RetentionViolation indicates a maintenance operation requested a
	// retention window narrower than the engine's minimum.
	RetentionViolation

	// IntegrityFailure indicates a post-write integrity check (e.g.
	// compaction row-count verification) failed.
	IntegrityFailure

	// Store indicates a transport-level error from the object store.
	Store
)

func (c Code) String() string {
	switch c {
	case Internal:
		return "internal"
	case Validation:
		return "validation"
	case MalformedData:
		return "malformed_data"
	case NotFound:
		return "not_found"
	case ConcurrencyConflict:
		return "concurrency_conflict"
	case SchemaIncompatible:
		return "schema_incompatible"
	case RetentionViolation:
		return "retention_violation"
	case IntegrityFailure:
		return "integrity_failure"
	case Store:
		return "store"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the error type returned by every package in this module.
type Error struct {
	Code    Code
	Message string

	// Op, Path, and Version are optional context attached by the table
	// core as an error propagates up through an operation; lower layers
	// leave these zero.
	Op      string
	Path    string
	Version int64

	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path: %s)", e.Path)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Code, so errors.Is(err,
// &Error{Code: NotFound}) works without matching Message/Op/Path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithOp returns a copy of err with operation context attached. If err is
// not an *Error it is wrapped as an Internal error first.
func WithOp(err error, op string, path string, version int64) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		e = &Error{Code: Internal, Message: err.Error(), Cause: err}
	}
	cp := *e
	if cp.Op == "" {
		cp.Op = op
	}
	if cp.Path == "" {
		cp.Path = path
	}
	if cp.Version == 0 {
		cp.Version = version
	}
	return &cp
}

// New constructs an *Error with the given code and formatted message.
func New(code Code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Wrap constructs an *Error with the given code, message, and underlying
// cause.
func Wrap(code Code, cause error, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...), Cause: cause}
}

func codeOf(err error) (Code, bool) {
	e, ok := err.(*Error)
	if !ok {
		return 0, false
	}
	return e.Code, true
}

// IsNotFound returns true if err is a NotFound error.
func IsNotFound(err error) bool { c, ok := codeOf(err); return ok && c == NotFound }

// IsValidation returns true if err is a Validation error.
func IsValidation(err error) bool { c, ok := codeOf(err); return ok && c == Validation }

// IsConcurrencyConflict returns true if err is a ConcurrencyConflict error.
func IsConcurrencyConflict(err error) bool {
	c, ok := codeOf(err)
	return ok && c == ConcurrencyConflict
}

// IsMalformedData returns true if err is a MalformedData error.
func IsMalformedData(err error) bool { c, ok := codeOf(err); return ok && c == MalformedData }

// IsSchemaIncompatible returns true if err is a SchemaIncompatible error.
func IsSchemaIncompatible(err error) bool {
	c, ok := codeOf(err)
	return ok && c == SchemaIncompatible
}

// IsRetentionViolation returns true if err is a RetentionViolation error.
func IsRetentionViolation(err error) bool {
	c, ok := codeOf(err)
	return ok && c == RetentionViolation
}

// IsIntegrityFailure returns true if err is an IntegrityFailure error.
func IsIntegrityFailure(err error) bool {
	c, ok := codeOf(err)
	return ok && c == IntegrityFailure
}

// IsStore returns true if err is a Store (transport) error.
func IsStore(err error) bool { c, ok := codeOf(err); return ok && c == Store }

// ConcurrencyConflictDetail carries the expected/actual versions for a
// ConcurrencyConflict error so callers can decide how to retry.
type ConcurrencyConflictDetail struct {
	Expected int64
	Actual   int64
}

// NewConcurrencyConflict builds the standard conflict error for a failed
// conditional commit.
func NewConcurrencyConflict(expected, actual int64) *Error {
	return &Error{
		Code:    ConcurrencyConflict,
		Message: fmt.Sprintf("expected version %d, actual %d", expected, actual),
		Version: actual,
	}
}
