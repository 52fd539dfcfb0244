package domain

import "fmt"

// SlotStatus represents the lifecycle state of a single requested image.
type SlotStatus string

// Possible slot status values. A slot only ever moves forward through
// pending -> generating -> completed|failed.
const (
	SlotStatusPending    SlotStatus = "pending"
	SlotStatusGenerating SlotStatus = "generating"
	SlotStatusCompleted  SlotStatus = "completed"
	SlotStatusFailed     SlotStatus = "failed"
)

// Model variants reported by generators.
const (
	ModelVariantPrimary  = "primary"
	ModelVariantFallback = "fallback"
)

// Generation modes reported by generators.
const (
	GenModeSimple   = "simple"
	GenModeExtended = "extended"
)

// IsValid reports whether s is a known slot status.
func (s SlotStatus) IsValid() bool {
	switch s {
	case SlotStatusPending, SlotStatusGenerating, SlotStatusCompleted, SlotStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s SlotStatus) IsTerminal() bool {
	return s == SlotStatusCompleted || s == SlotStatusFailed
}

func (s SlotStatus) rank() int {
	switch s {
	case SlotStatusPending:
		return 0
	case SlotStatusGenerating:
		return 1
	case SlotStatusCompleted, SlotStatusFailed:
		return 2
	default:
		return -1
	}
}

// StepsTo returns the statuses a slot passes through when moving from s to
// next, in order and excluding s itself. A jump from pending straight to a
// terminal status goes through generating so observers always see a
// monotonic sequence. ok is false for regressions, sideways moves between
// terminal states, and unknown statuses.
func (s SlotStatus) StepsTo(next SlotStatus) (steps []SlotStatus, ok bool) {
	if !s.IsValid() || !next.IsValid() || s.IsTerminal() {
		return nil, false
	}
	if next.rank() < s.rank() {
		return nil, false
	}
	if next == s {
		return nil, true
	}
	if s == SlotStatusPending && next.IsTerminal() {
		return []SlotStatus{SlotStatusGenerating, next}, true
	}
	return []SlotStatus{next}, true
}

// Slot is one requested output image within a Task.
type Slot struct {
	Index        int        `json:"index"`
	Status       SlotStatus `json:"status"`
	ImageURL     string     `json:"image_url,omitempty"`
	Error        string     `json:"error,omitempty"`
	ModelVariant string     `json:"model_variant,omitempty"`
	GenMode      string     `json:"gen_mode,omitempty"`
}

// NewPendingSlots returns count slots in the pending state indexed 0..count-1.
func NewPendingSlots(count int) []Slot {
	slots := make([]Slot, count)
	for i := range slots {
		slots[i] = Slot{Index: i, Status: SlotStatusPending}
	}
	return slots
}

// SlotUpdate is a partial update applied to one slot. Empty fields are left
// untouched.
type SlotUpdate struct {
	Status       SlotStatus
	ImageURL     string
	Error        string
	ModelVariant string
	GenMode      string
}

// Apply moves the slot forward according to u and returns the statuses the
// slot passed through. It returns ErrInvalidTransition, leaving the slot
// unchanged, when u would regress or rewrite a terminal slot.
func (s *Slot) Apply(u SlotUpdate) ([]SlotStatus, error) {
	next := u.Status
	if next == "" {
		next = s.Status
	}

	steps, ok := s.Status.StepsTo(next)
	if !ok {
		return nil, fmt.Errorf("%w: slot %d %s -> %s", ErrInvalidTransition, s.Index, s.Status, next)
	}

	s.Status = next
	switch next {
	case SlotStatusCompleted:
		s.ImageURL = u.ImageURL
		s.Error = ""
		s.ModelVariant = u.ModelVariant
		s.GenMode = u.GenMode
	case SlotStatusFailed:
		s.Error = u.Error
		if s.Error == "" {
			s.Error = "generation failed"
		}
		s.ImageURL = ""
	}

	return steps, nil
}

// Validate checks the field invariants tied to the slot status.
func (s Slot) Validate() error {
	if !s.Status.IsValid() {
		return ErrInvalidSlotStatus
	}
	if (s.ImageURL != "") != (s.Status == SlotStatusCompleted) {
		return fmt.Errorf("%w: slot %d image url present only when completed", ErrValidation, s.Index)
	}
	if (s.Error != "") != (s.Status == SlotStatusFailed) {
		return fmt.Errorf("%w: slot %d error present only when failed", ErrValidation, s.Index)
	}
	return nil
}
