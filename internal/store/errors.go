package store

import (
	"errors"
	"fmt"
)

// Common store errors shared by every store implementation.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an insert would violate a uniqueness rule.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being written. The wrapped error carries the details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update matched nothing or violated
	// a constraint.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a transaction cannot commit.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrGenerationRecordNotFound indicates no durable record exists for a task.
	ErrGenerationRecordNotFound = fmt.Errorf("%w: generation record", ErrNotFound)

	// ErrReservationNotFound indicates the quota ledger has no entry for a task.
	ErrReservationNotFound = fmt.Errorf("%w: quota reservation", ErrNotFound)

	// ErrQuotaAccountNotFound indicates the configured quota account is missing.
	ErrQuotaAccountNotFound = fmt.Errorf("%w: quota account", ErrNotFound)

	// ErrRecordExists indicates a record was already persisted for the task.
	ErrRecordExists = fmt.Errorf("%w: generation record", ErrDuplicate)
)

// IsNotFoundError reports whether err is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError reports whether err is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError adds entity and operation context to a store failure.
type StoreError struct {
	Entity    string // e.g. "generation_record"
	Operation string // e.g. "insert", "lookup"
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap supports errors.Is and errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
