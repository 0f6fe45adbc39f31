package consolidation

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports a missing or malformed required field. Never
// retried; surfaced to the caller as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// NotFoundError reports a referenced entity that does not exist. Never
// retried; surfaced to the caller as-is.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
