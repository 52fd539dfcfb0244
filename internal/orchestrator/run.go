package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/events"
	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/recovery"
	"github.com/phrazzld/shotstudio/internal/store"
	"github.com/sourcegraph/conc/panics"
)

const (
	msgAllFailed   = "all images failed to generate"
	msgInterrupted = "generation stream interrupted"
	msgInternal    = "internal error"
)

// run executes one task on a job worker. It always finalizes, whatever the
// strategy returns.
func (o *Orchestrator) run(ctx context.Context, session, taskID string) {
	log := o.logger.With("task_id", taskID, "session", session)

	task, ok := o.tasks.Get(taskID)
	if !ok {
		// reset between submit and start
		log.InfoContext(ctx, "task removed before start, refunding")
		o.quota.Refund(ctx, taskID).Log(ctx, log)
		o.quota.Forget(taskID)
		return
	}

	o.tasks.UpdateTaskStatus(taskID, domain.TaskStatusGenerating, nil, "")
	started := o.now()
	latch := executor.NewRevealLatch(func() {
		o.reveal(ctx, session, task, started)
	})

	var out *executor.Outcome
	var pc panics.Catcher
	pc.Try(func() {
		out = o.strategy.Run(ctx, task, latch)
	})

	succeeded := 0
	switch {
	case pc.Recovered() != nil:
		log.ErrorContext(ctx, "executor panicked", "error", pc.Recovered().AsError())
		succeeded = o.failOpenSlots(taskID, msgInternal)
	case out == nil:
		succeeded = o.failOpenSlots(taskID, msgInternal)
	default:
		if out.Interrupted {
			reason := msgInterrupted
			if out.Err != nil {
				reason = out.Err.Error()
			}
			n := out.FailUnresolved(o.tasks, reason)
			log.WarnContext(ctx, "stream interrupted, closing unresolved slots",
				"closed", n,
				"error", out.Err)
		}
		succeeded = out.Succeeded()
	}

	o.finalize(ctx, session, task, succeeded, started)
}

// failOpenSlots fails every slot of the registry task that is not terminal
// and returns the number of completed slots.
func (o *Orchestrator) failOpenSlots(taskID, reason string) int {
	task, ok := o.tasks.Get(taskID)
	if !ok {
		return 0
	}
	for _, s := range task.Slots {
		if !s.Status.IsTerminal() {
			o.tasks.UpdateSlot(taskID, s.Index, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: reason})
		}
	}
	return task.SuccessCount()
}

// reveal runs once per task, on the first completed slot.
func (o *Orchestrator) reveal(ctx context.Context, session string, task domain.Task, started time.Time) {
	latency := o.now().Sub(started)

	o.tasks.UpdateTaskStatus(task.ID, domain.TaskStatusCompleted, nil, "")
	if o.owns(session, task.ID) {
		if err := o.recovery.Advance(ctx, session, task.ID, recovery.ModeResults); err != nil {
			o.logger.WarnContext(ctx, "failed to advance recovery hint",
				"session", session,
				"task_id", task.ID,
				"error", err)
		}
	}

	o.emit(ctx, events.TypeRevealed, task.ID, session, events.RevealedPayload{
		TaskType:  string(task.Type),
		LatencyMs: latency.Milliseconds(),
	})
}

// finalize reconciles quota with the number of delivered images, sets the
// task-level status and persists the result set.
func (o *Orchestrator) finalize(ctx context.Context, session string, task domain.Task, succeeded int, started time.Time) {
	log := o.logger.With("task_id", task.ID, "session", session)
	defer o.quota.Forget(task.ID)

	payload := events.FinalizedPayload{
		TaskType:  string(task.Type),
		Succeeded: succeeded,
		Failed:    task.ExpectedSlotCount - succeeded,
	}

	if succeeded == 0 {
		res := o.quota.Refund(ctx, task.ID)
		res.Log(ctx, log)

		msg := msgAllFailed
		if current, ok := o.tasks.Get(task.ID); ok {
			if first := current.FirstError(); first != "" {
				msg = msgAllFailed + ": " + first
			}
		}
		o.tasks.UpdateTaskStatus(task.ID, domain.TaskStatusFailed, nil, msg)
		if err := o.recovery.ForgetTask(ctx, session, task.ID); err != nil {
			log.WarnContext(ctx, "failed to clear recovery hint", "error", err)
		}

		payload.Status = string(domain.TaskStatusFailed)
		payload.Refunded = o.refunded(task.ID)
		o.emit(ctx, events.TypeFinalized, task.ID, session, payload)

		log.WarnContext(ctx, "generation failed",
			"error", msg,
			"duration_ms", o.now().Sub(started).Milliseconds())
		return
	}

	res := o.quota.Settle(ctx, task.ID, succeeded)
	res.Log(ctx, log)
	payload.Status = string(domain.TaskStatusCompleted)
	payload.Refunded = o.refunded(task.ID)

	current, live := o.tasks.Get(task.ID)
	if live {
		o.tasks.UpdateTaskStatus(task.ID, domain.TaskStatusCompleted, current.CompletedURLs(), "")
		payload.RecordID = o.persist(ctx, &current)
	} else {
		log.InfoContext(ctx, "task removed during run, result not persisted")
	}

	o.emit(ctx, events.TypeFinalized, task.ID, session, payload)

	log.InfoContext(ctx, "generation finalized",
		"succeeded", succeeded,
		"failed", payload.Failed,
		"refunded", payload.Refunded,
		"quota_op", res.Op,
		"duration_ms", o.now().Sub(started).Milliseconds())
}

// persist writes the durable record of task and returns its ID, or "" when
// the write failed.
func (o *Orchestrator) persist(ctx context.Context, task *domain.Task) string {
	record, err := domain.NewGenerationRecord(task)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to build generation record", "task_id", task.ID, "error", err)
		return ""
	}

	if err := o.records.Persist(ctx, record); err != nil {
		if errors.Is(err, store.ErrRecordExists) {
			o.logger.DebugContext(ctx, "generation record already persisted", "task_id", task.ID)
			return ""
		}
		o.logger.ErrorContext(ctx, "failed to persist generation record",
			"task_id", task.ID,
			"outputs", len(record.Outputs),
			"error", err)
		return ""
	}

	recordID := record.ID.String()
	o.tasks.SetRecordID(task.ID, recordID)
	return recordID
}

func (o *Orchestrator) refunded(taskID string) int {
	if snap, ok := o.quota.Snapshot(taskID); ok {
		return snap.Refunded
	}
	return 0
}
