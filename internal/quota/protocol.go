// Package quota implements the reserve/confirm/refund protocol that keeps
// billed-but-undelivered images from being charged.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/shotstudio/internal/domain"
)

// State is the lifecycle position of one reservation.
type State string

// Reservation states. Every state other than reserved is terminal.
const (
	StateReserved          State = "reserved"
	StateConfirmed         State = "confirmed"
	StateRefunded          State = "refunded"
	StatePartiallyRefunded State = "partially_refunded"
)

// Reservation is the local view of one task's reservation.
type Reservation struct {
	TaskID   string          `json:"task_id"`
	TaskType domain.TaskType `json:"task_type"`
	Reserved int             `json:"reserved"`
	Refunded int             `json:"refunded"`
	State    State           `json:"state"`
	// Insured is false when the ledger rejected or never saw the reserve
	// call and the generation proceeded anyway.
	Insured bool `json:"insured"`

	resolving bool
}

// Resolved reports whether the reservation reached a terminal state.
func (r Reservation) Resolved() bool {
	return r.State != StateReserved
}

// BalanceListener receives the balance read after each resolution.
type BalanceListener func(Balance)

// Protocol tracks reservations keyed by task ID and drives the ledger. It is
// safe for concurrent use; duplicate or racing resolutions of the same task
// resolve it once.
type Protocol struct {
	ledger       Ledger
	logger       *slog.Logger
	mu           sync.Mutex
	reservations map[string]*Reservation
	listeners    []BalanceListener
	hooks        []func(Result)
}

// NewProtocol creates a Protocol over ledger.
func NewProtocol(ledger Ledger, logger *slog.Logger) *Protocol {
	return &Protocol{
		ledger:       ledger,
		logger:       logger.With("component", "quota_protocol"),
		reservations: make(map[string]*Reservation),
	}
}

// OnBalance registers a listener for refreshed balances.
func (p *Protocol) OnBalance(l BalanceListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// OnResult registers a hook called with every Result the protocol returns.
func (p *Protocol) OnResult(h func(Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, h)
}

// Reserve debits imageCount units for taskID. A second reserve for the same
// task is rejected without reaching the ledger. When the ledger call fails
// the reservation is still recorded as uninsured so the later resolution
// keeps the accounting consistent.
func (p *Protocol) Reserve(ctx context.Context, taskID string, imageCount int, taskType domain.TaskType) Result {
	if imageCount <= 0 {
		return p.emit(failed(OpReserve, taskID, fmt.Errorf("%w: %d", ErrInvalidUnits, imageCount)))
	}

	p.mu.Lock()
	if _, exists := p.reservations[taskID]; exists {
		p.mu.Unlock()
		return p.emit(failed(OpReserve, taskID, ErrAlreadyReserved))
	}
	res := &Reservation{
		TaskID:    taskID,
		TaskType:  taskType,
		Reserved:  imageCount,
		State:     StateReserved,
		resolving: true,
	}
	p.reservations[taskID] = res
	p.mu.Unlock()

	err := p.ledger.Reserve(ctx, taskID, imageCount, taskType)

	p.mu.Lock()
	res.resolving = false
	res.Insured = err == nil
	p.mu.Unlock()

	if err != nil {
		return p.emit(failed(OpReserve, taskID, fmt.Errorf("reserve %d units: %w", imageCount, err)))
	}
	return p.emit(ok(OpReserve, taskID, imageCount))
}

// Confirm resolves the reservation as fully consumed. The charge was taken
// at reserve time, so confirm only refreshes the displayed balance.
func (p *Protocol) Confirm(ctx context.Context, taskID string) Result {
	p.mu.Lock()
	res, exists := p.reservations[taskID]
	if exists {
		if res.Resolved() || res.resolving {
			p.mu.Unlock()
			return p.emit(skipped(OpConfirm, taskID))
		}
		res.State = StateConfirmed
	}
	p.mu.Unlock()

	if err := p.refresh(ctx); err != nil {
		return p.emit(failed(OpConfirm, taskID, err))
	}
	return p.emit(ok(OpConfirm, taskID, 0))
}

// Refund voids the whole reservation. Calling it again, or after any other
// resolution, returns without touching the ledger.
func (p *Protocol) Refund(ctx context.Context, taskID string) Result {
	res, proceed := p.begin(taskID)
	if !proceed {
		return p.emit(skipped(OpRefund, taskID))
	}

	returned, err := p.ledger.Cancel(ctx, taskID)
	if err != nil {
		p.abort(res)
		return p.emit(failed(OpRefund, taskID, fmt.Errorf("cancel reservation: %w", err)))
	}

	units := returned
	if res != nil {
		units = res.Reserved - res.Refunded
		p.finish(res, StateRefunded, units)
		if returned != units {
			p.logger.DebugContext(ctx, "ledger refund differs from local reservation",
				"task_id", taskID,
				"ledger_units", returned,
				"local_units", units,
				"insured", res.Insured)
		}
	}

	p.refreshQuietly(ctx)
	return p.emit(ok(OpRefund, taskID, units))
}

// PartialRefund returns reserved-successCount units. It degrades to Confirm
// when every reserved unit succeeded and to Refund when none did.
func (p *Protocol) PartialRefund(ctx context.Context, taskID string, successCount int) Result {
	p.mu.Lock()
	res, exists := p.reservations[taskID]
	var reserved int
	if exists {
		reserved = res.Reserved
	}
	p.mu.Unlock()

	if !exists {
		return p.emit(failed(OpPartialRefund, taskID, ErrUnknownReservation))
	}
	if successCount >= reserved {
		return p.Confirm(ctx, taskID)
	}
	if successCount <= 0 {
		return p.Refund(ctx, taskID)
	}

	res, proceed := p.begin(taskID)
	if !proceed {
		return p.emit(skipped(OpPartialRefund, taskID))
	}

	units := res.Reserved - successCount
	if _, err := p.ledger.Release(ctx, taskID, units); err != nil {
		p.abort(res)
		return p.emit(failed(OpPartialRefund, taskID, fmt.Errorf("release %d units: %w", units, err)))
	}
	p.finish(res, StatePartiallyRefunded, units)

	p.refreshQuietly(ctx)
	return p.emit(ok(OpPartialRefund, taskID, units))
}

// Settle resolves the reservation from the number of delivered images:
// confirm on full success, partial refund on partial success, refund on
// total failure.
func (p *Protocol) Settle(ctx context.Context, taskID string, successCount int) Result {
	p.mu.Lock()
	_, exists := p.reservations[taskID]
	p.mu.Unlock()

	if !exists {
		if successCount <= 0 {
			return p.Refund(ctx, taskID)
		}
		return p.emit(failed(OpPartialRefund, taskID, ErrUnknownReservation))
	}
	return p.PartialRefund(ctx, taskID, successCount)
}

// Snapshot returns a copy of the reservation of taskID.
func (p *Protocol) Snapshot(taskID string) (Reservation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.reservations[taskID]
	if !ok {
		return Reservation{}, false
	}
	return *res, true
}

// Forget drops the local record of a resolved reservation.
func (p *Protocol) Forget(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res, ok := p.reservations[taskID]; ok && res.Resolved() {
		delete(p.reservations, taskID)
	}
}

// Balance reads the ledger balance.
func (p *Protocol) Balance(ctx context.Context) (Balance, error) {
	return p.ledger.Read(ctx)
}

// begin claims the right to resolve taskID. A task without a local
// reservation may still be refunded; the ledger tolerates unknown ids.
func (p *Protocol) begin(taskID string) (*Reservation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, exists := p.reservations[taskID]
	if !exists {
		return nil, true
	}
	if res.Resolved() || res.resolving {
		return res, false
	}
	res.resolving = true
	return res, true
}

func (p *Protocol) abort(res *Reservation) {
	if res == nil {
		return
	}
	p.mu.Lock()
	res.resolving = false
	p.mu.Unlock()
}

func (p *Protocol) finish(res *Reservation, state State, refunded int) {
	p.mu.Lock()
	res.State = state
	res.Refunded += refunded
	res.resolving = false
	p.mu.Unlock()
}

func (p *Protocol) refresh(ctx context.Context) error {
	bal, err := p.ledger.Read(ctx)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	p.mu.Lock()
	listeners := append([]BalanceListener(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l(bal)
	}
	return nil
}

func (p *Protocol) refreshQuietly(ctx context.Context) {
	if err := p.refresh(ctx); err != nil {
		p.logger.WarnContext(ctx, "failed to refresh quota balance", "error", err)
	}
}

func (p *Protocol) emit(r Result) Result {
	p.mu.Lock()
	hooks := append([]func(Result){}, p.hooks...)
	p.mu.Unlock()

	for _, h := range hooks {
		h(r)
	}
	return r
}
