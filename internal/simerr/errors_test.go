package simerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		name string
	}{
		{Configuration("register", "iss", "altitude %v must be positive", -1), ErrConfiguration, "configuration"},
		{InvalidParameter("analyze", "sample count %d below 2", 1), ErrInvalidParameter, "invalid_parameter"},
		{NotFound("get", "x"), ErrNotFound, "not_found"},
		{DuplicateID("register", "x"), ErrDuplicateID, "duplicate_id"},
		{Cancelled("analyze", "superseded"), ErrCancelled, "cancelled"},
		{Timeout("analyze", "exceeded %s", "30s"), ErrTimeout, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.kind)
			}
			if got := KindName(wrapped); got != tt.name {
				t.Errorf("KindName = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("update", "sat-1")
	want := `update sat-1: no body with id "sat-1"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var se *Error
	if !errors.As(fmt.Errorf("wrap: %w", err), &se) || se.ID != "sat-1" {
		t.Errorf("errors.As did not recover body id")
	}

	if KindName(errors.New("boom")) != "internal" {
		t.Error("foreign errors should map to internal")
	}
}
