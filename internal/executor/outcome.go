package executor

import (
	"sync"

	"github.com/phrazzld/shotstudio/internal/domain"
)

// Outcome is the executor's own account of how each slot ended. It is kept
// independently of the registry so quota settlement stays correct even if
// the task is removed while jobs are still running.
type Outcome struct {
	TaskID string
	// Interrupted is set when a stream dropped before finishing.
	Interrupted bool
	// Err is the task-wide failure, if any: the stream could not be opened or
	// was interrupted.
	Err error

	mu       sync.Mutex
	statuses []domain.SlotStatus
}

func newOutcome(taskID string, slots int) *Outcome {
	statuses := make([]domain.SlotStatus, slots)
	for i := range statuses {
		statuses[i] = domain.SlotStatusPending
	}
	return &Outcome{TaskID: taskID, statuses: statuses}
}

// record moves slot index forward. Stale transitions are ignored.
func (o *Outcome) record(index int, status domain.SlotStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if index < 0 || index >= len(o.statuses) {
		return false
	}
	if _, ok := o.statuses[index].StepsTo(status); !ok {
		return false
	}
	o.statuses[index] = status
	return true
}

// Statuses returns the final status of every slot.
func (o *Outcome) Statuses() []domain.SlotStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.SlotStatus(nil), o.statuses...)
}

// Succeeded returns the number of completed slots.
func (o *Outcome) Succeeded() int {
	return o.count(domain.SlotStatusCompleted)
}

// Failed returns the number of failed slots.
func (o *Outcome) Failed() int {
	return o.count(domain.SlotStatusFailed)
}

// Unresolved returns the indexes of slots that are neither completed nor failed.
func (o *Outcome) Unresolved() []int {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []int
	for i, s := range o.statuses {
		if !s.IsTerminal() {
			out = append(out, i)
		}
	}
	return out
}

func (o *Outcome) count(status domain.SlotStatus) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, s := range o.statuses {
		if s == status {
			n++
		}
	}
	return n
}

// FailUnresolved is the explicit close of a task: every slot still pending
// or generating is marked failed with reason, in the sink and in the outcome.
// It returns the number of slots it failed.
func (o *Outcome) FailUnresolved(sink SlotSink, reason string) int {
	n := 0
	for _, i := range o.Unresolved() {
		if o.record(i, domain.SlotStatusFailed) {
			sink.UpdateSlot(o.TaskID, i, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: reason})
			n++
		}
	}
	return n
}
