package errs

import (
	"errors"
	"testing"
)

func TestIsHelpers(t *testing.T) {
	err := New(NotFound, "missing %s", "foo")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if IsValidation(err) {
		t.Fatalf("did not expect Validation")
	}
}

func TestWithOpPreservesCode(t *testing.T) {
	base := NewConcurrencyConflict(3, 4)
	wrapped := WithOp(base, "Write", "t/", 3)
	if !IsConcurrencyConflict(wrapped) {
		t.Fatalf("expected ConcurrencyConflict after WithOp, got %v", wrapped)
	}
	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatalf("expected errors.As to unwrap to *Error")
	}
	if e.Op != "Write" || e.Path != "t/" {
		t.Fatalf("unexpected context: %+v", e)
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := WithOp(New(SchemaIncompatible, "field n: type conflict"), "Write", "t/", 5)
	if !errors.Is(err, &Error{Code: SchemaIncompatible}) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if errors.Is(err, &Error{Code: NotFound}) {
		t.Fatalf("did not expect match against a different code")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Store, cause, "write failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to reach cause")
	}
}
