package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for submissions that fail validation.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrTaskNotFound is returned when a task does not exist or belongs to
	// another session.
	ErrTaskNotFound = errors.New("task not found")

	// ErrQuotaExceeded is returned when the ledger has no room for the task.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrBusy is returned when the job queue cannot take another run.
	ErrBusy = errors.New("generation queue is full")
)

// Error wraps a failed orchestrator operation.
type Error struct {
	Op      string
	TaskID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("orchestrator %s %s: %s: %v", e.Op, e.TaskID, e.Message, e.Err)
	}
	return fmt.Sprintf("orchestrator %s: %s: %v", e.Op, e.Message, e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}
