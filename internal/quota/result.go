package quota

import (
	"context"
	"log/slog"
)

// Op names a quota protocol operation.
type Op string

// Protocol operations
const (
	OpReserve       Op = "reserve"
	OpConfirm       Op = "confirm"
	OpRefund        Op = "refund"
	OpPartialRefund Op = "partial_refund"
)

// Result is the outcome of one protocol call. Quota bookkeeping never aborts
// a generation, so operations return a Result instead of an error; callers
// log it and carry on.
type Result struct {
	Op     Op
	TaskID string
	// Units is the number of units reserved (reserve) or returned (refunds).
	Units int
	// Skipped is set when the call resolved nothing because the reservation
	// was already resolved.
	Skipped bool
	Err     error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Log writes the result at debug level on success and warn level on failure.
func (r Result) Log(ctx context.Context, logger *slog.Logger) {
	attrs := []any{
		"op", r.Op,
		"task_id", r.TaskID,
		"units", r.Units,
	}
	if r.Skipped {
		attrs = append(attrs, "skipped", true)
	}
	if r.Err != nil {
		logger.WarnContext(ctx, "quota operation failed", append(attrs, "error", r.Err)...)
		return
	}
	logger.DebugContext(ctx, "quota operation succeeded", attrs...)
}

func ok(op Op, taskID string, units int) Result {
	return Result{Op: op, TaskID: taskID, Units: units}
}

func skipped(op Op, taskID string) Result {
	return Result{Op: op, TaskID: taskID, Skipped: true}
}

func failed(op Op, taskID string, err error) Result {
	return Result{Op: op, TaskID: taskID, Err: err}
}
