package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyTaskID is returned when a task or record has no task identifier.
	ErrEmptyTaskID = errors.New("task ID cannot be empty")

	// ErrInvalidTaskType is returned for a generation category the system does not price.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidSlotStatus is returned when a slot status is not valid.
	ErrInvalidSlotStatus = errors.New("invalid slot status")

	// ErrInvalidSlotCount is returned when a task is created with no slots
	// or with a slot list that does not match its expected count.
	ErrInvalidSlotCount = errors.New("invalid slot count")

	// ErrInvalidTransition is returned when a slot would move backwards.
	ErrInvalidTransition = errors.New("invalid slot transition")

	// ErrEmptyOutputs is returned when a generation record holds no images.
	ErrEmptyOutputs = errors.New("generation record has no outputs")
)
