// Package recovery rebuilds generation state after a reload from a durable
// per-session hint and, when the in-memory registry has lost the task, from
// the persisted generation record.
package recovery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the view a session should show.
type Mode string

// Session modes.
const (
	ModeIdle       Mode = "idle"
	ModeProcessing Mode = "processing"
	ModeResults    Mode = "results"
)

// ErrInvalidMode is returned by ParseMode for an unknown flag.
var ErrInvalidMode = errors.New("unknown recovery mode")

// ParseMode parses a mode flag. An empty flag is idle.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeIdle:
		return ModeIdle, nil
	case ModeProcessing, ModeResults:
		return m, nil
	default:
		return ModeIdle, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Hint records which task a session had in flight.
type Hint struct {
	TaskID string    `json:"task_id"`
	Mode   Mode      `json:"mode"`
	SetAt  time.Time `json:"set_at"`
}
