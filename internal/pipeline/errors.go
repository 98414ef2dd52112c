package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound covers missing opportunities, leads and owners.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is a role or ownership violation.
	ErrForbidden = errors.New("forbidden")
	// ErrStageConflict means a concurrent transition committed first; the
	// caller should re-read and retry.
	ErrStageConflict = errors.New("opportunity stage changed concurrently")
)

// ValidationError carries the itemized hard failures of a rejected request.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Messages, "; "))
}

func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}
