package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/shotstudio/internal/domain"
)

type memoryEntry struct {
	units    int
	refunded int
	open     bool
}

// MemoryLedger is an in-process Ledger used in development and tests. It
// enforces a fixed limit and keeps per-task reservations for inspection.
type MemoryLedger struct {
	mu      sync.Mutex
	limit   int
	used    int
	entries map[string]*memoryEntry

	// ReserveErr, CancelErr and ReadErr inject failures when non-nil.
	ReserveErr error
	CancelErr  error
	ReadErr    error

	cancelCalls  int
	releaseCalls int
}

// NewMemoryLedger creates a ledger allowing limit units.
func NewMemoryLedger(limit int) *MemoryLedger {
	return &MemoryLedger{
		limit:   limit,
		entries: make(map[string]*memoryEntry),
	}
}

// Reserve implements Ledger.
func (l *MemoryLedger) Reserve(_ context.Context, taskID string, units int, _ domain.TaskType) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ReserveErr != nil {
		return l.ReserveErr
	}
	if units <= 0 {
		return ErrInvalidUnits
	}
	if _, exists := l.entries[taskID]; exists {
		return ErrAlreadyReserved
	}
	if l.used+units > l.limit {
		return fmt.Errorf("%w: %d requested, %d remaining", ErrInsufficientQuota, units, l.limit-l.used)
	}

	l.used += units
	l.entries[taskID] = &memoryEntry{units: units, open: true}
	return nil
}

// Cancel implements Ledger.
func (l *MemoryLedger) Cancel(_ context.Context, taskID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelCalls++
	if l.CancelErr != nil {
		return 0, l.CancelErr
	}

	e, ok := l.entries[taskID]
	if !ok || !e.open {
		return 0, nil
	}
	returned := e.units - e.refunded
	e.refunded = e.units
	e.open = false
	l.used -= returned
	return returned, nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, taskID string, units int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.releaseCalls++
	if l.CancelErr != nil {
		return 0, l.CancelErr
	}

	e, ok := l.entries[taskID]
	if !ok || !e.open || units <= 0 {
		return 0, nil
	}
	if units > e.units-e.refunded {
		units = e.units - e.refunded
	}
	e.refunded += units
	e.open = false
	l.used -= units
	return units, nil
}

// Read implements Ledger.
func (l *MemoryLedger) Read(_ context.Context) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ReadErr != nil {
		return Balance{}, l.ReadErr
	}
	return Balance{Limit: l.limit, Used: l.used, Remaining: l.limit - l.used}, nil
}

// Refunded returns the units returned for taskID so far.
func (l *MemoryLedger) Refunded(taskID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[taskID]; ok {
		return e.refunded
	}
	return 0
}

// Calls returns how many Cancel and Release calls reached the ledger.
func (l *MemoryLedger) Calls() (cancels, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelCalls, l.releaseCalls
}

var _ Ledger = (*MemoryLedger)(nil)
