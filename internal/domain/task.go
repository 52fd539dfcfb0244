package domain

import (
	"fmt"
	"maps"
	"time"
)

// TaskStatus represents the task-level state of a generation run. It is set
// by the orchestrator and may run ahead of the slots, for example when the
// first image is revealed while siblings are still generating.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsValid reports whether s is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusGenerating, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskType is the generation category. It drives pricing and backend routing.
type TaskType string

// Supported generation categories
const (
	TaskTypeProduct   TaskType = "product"
	TaskTypeOutfit    TaskType = "outfit"
	TaskTypeGroup     TaskType = "group"
	TaskTypeReference TaskType = "reference"
	TaskTypeLifestyle TaskType = "lifestyle"
	TaskTypeStudio    TaskType = "studio"
)

// IsValid reports whether t is a supported generation category.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeProduct, TaskTypeOutfit, TaskTypeGroup, TaskTypeReference,
		TaskTypeLifestyle, TaskTypeStudio:
		return true
	default:
		return false
	}
}

// Params holds opaque generation parameters such as style, lighting or
// aspect ratio. The orchestrator never interprets them.
type Params map[string]any

// String returns the parameter value for key when it is a string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Task groups the slots of one generation run sharing one quota reservation.
type Task struct {
	ID                string     `json:"id"`
	Type              TaskType   `json:"type"`
	InputImageURL     string     `json:"input_image_url"`
	Params            Params     `json:"params,omitempty"`
	ExpectedSlotCount int        `json:"expected_slot_count"`
	Slots             []Slot     `json:"slots"`
	Status            TaskStatus `json:"status"`
	OutputURLs        []string   `json:"output_urls,omitempty"`
	Error             string     `json:"error,omitempty"`
	RecordID          string     `json:"record_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrEmptyTaskID
	}

	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}

	if t.ExpectedSlotCount <= 0 || len(t.Slots) != t.ExpectedSlotCount {
		return fmt.Errorf("%w: expected %d slots, have %d",
			ErrInvalidSlotCount, t.ExpectedSlotCount, len(t.Slots))
	}

	for i, slot := range t.Slots {
		if slot.Index != i {
			return fmt.Errorf("%w: slot at position %d has index %d", ErrValidation, i, slot.Index)
		}
		if err := slot.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() Task {
	c := *t
	c.Slots = append([]Slot(nil), t.Slots...)
	if t.OutputURLs != nil {
		c.OutputURLs = append([]string(nil), t.OutputURLs...)
	}
	if t.Params != nil {
		c.Params = maps.Clone(t.Params)
	}
	return c
}

// SuccessCount returns the number of completed slots.
func (t *Task) SuccessCount() int {
	n := 0
	for _, s := range t.Slots {
		if s.Status == SlotStatusCompleted {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed slots.
func (t *Task) FailedCount() int {
	n := 0
	for _, s := range t.Slots {
		if s.Status == SlotStatusFailed {
			n++
		}
	}
	return n
}

// AllSlotsTerminal reports whether every slot has completed or failed.
func (t *Task) AllSlotsTerminal() bool {
	for _, s := range t.Slots {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// CompletedURLs returns the image URLs of completed slots in index order.
func (t *Task) CompletedURLs() []string {
	urls := make([]string, 0, len(t.Slots))
	for _, s := range t.Slots {
		if s.Status == SlotStatusCompleted {
			urls = append(urls, s.ImageURL)
		}
	}
	return urls
}

// FirstError returns the error of the lowest-indexed failed slot.
func (t *Task) FirstError() string {
	for _, s := range t.Slots {
		if s.Status == SlotStatusFailed {
			return s.Error
		}
	}
	return ""
}
