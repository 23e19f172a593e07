package domain

import (
	"errors"
	"testing"
)

func TestValidationErrorUnwrapsAndSortsFields(t *testing.T) {
	err := NewValidationError(map[string]string{"token": "required", "delay": "must be >= 0"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got, want := err.Error(), "validation failed: delay: must be >= 0, token: required"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrorEmptyFields(t *testing.T) {
	err := &ValidationError{}
	if err.Error() != "validation failed" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
