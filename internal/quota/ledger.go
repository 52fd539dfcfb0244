package quota

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
)

// Common quota errors
var (
	// ErrAlreadyReserved is returned when a task reserves twice.
	ErrAlreadyReserved = errors.New("quota already reserved for task")

	// ErrUnknownReservation is returned when a partial refund references a
	// task this process never reserved for.
	ErrUnknownReservation = errors.New("unknown quota reservation")

	// ErrInsufficientQuota is returned by ledgers when the account cannot
	// cover the requested units.
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrInvalidUnits is returned for non-positive unit counts.
	ErrInvalidUnits = errors.New("unit count must be positive")
)

// Balance is the quota state shown to the user.
type Balance struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at,omitempty"`
}

// Ledger is the remote quota ledger. Implementations must make Cancel and
// Release safe to call on resolved or missing reservations: they return the
// units actually returned, zero when there was nothing to return.
type Ledger interface {
	// Reserve debits units for taskID before any work starts.
	Reserve(ctx context.Context, taskID string, units int, taskType domain.TaskType) error

	// Cancel voids the whole reservation of taskID.
	Cancel(ctx context.Context, taskID string) (int, error)

	// Release returns units of the reservation of taskID and resolves it.
	Release(ctx context.Context, taskID string, units int) (int, error)

	// Read returns the current balance.
	Read(ctx context.Context) (Balance, error)
}
