package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Default fan-out tuning.
const (
	DefaultStagger     = time.Second
	DefaultSlotTimeout = 150 * time.Second
)

// SlotDoneFunc is called once per slot when it reaches a terminal status.
type SlotDoneFunc func(taskType domain.TaskType, status domain.SlotStatus, elapsed time.Duration)

// FanOutConfig tunes a FanOut executor. Zero values select the defaults.
type FanOutConfig struct {
	// Stagger delays the call for slot i by i*Stagger.
	Stagger time.Duration
	// SlotTimeout bounds each individual generator call.
	SlotTimeout time.Duration
	// OnSlotDone is optional.
	OnSlotDone SlotDoneFunc
}

// FanOut issues one generator call per slot, staggered, each under its own
// timeout. Slots resolve independently; the first completion fires the
// reveal latch.
type FanOut struct {
	gen    Generator
	sink   SlotSink
	cfg    FanOutConfig
	logger *slog.Logger
}

// NewFanOut creates a FanOut executor.
func NewFanOut(gen Generator, sink SlotSink, cfg FanOutConfig, logger *slog.Logger) *FanOut {
	if cfg.Stagger < 0 {
		cfg.Stagger = 0
	}
	if cfg.SlotTimeout <= 0 {
		cfg.SlotTimeout = DefaultSlotTimeout
	}
	return &FanOut{
		gen:    gen,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "fanout_executor"),
	}
}

type genReply struct {
	result SlotResult
	err    error
}

// Run executes every slot of task and blocks until all of them are terminal.
// Slots still unresolved after their workers return, which only happens
// when a worker panicked, are failed.
func (f *FanOut) Run(ctx context.Context, task domain.Task, reveal *RevealLatch) *Outcome {
	out := newOutcome(task.ID, len(task.Slots))

	f.logger.InfoContext(ctx, "fan-out started",
		"task_id", task.ID,
		"task_type", task.Type,
		"slot_count", len(task.Slots))

	var wg conc.WaitGroup
	for i := range task.Slots {
		wg.Go(func() {
			f.runSlot(ctx, task, i, out, reveal)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		f.logger.ErrorContext(ctx, "slot worker panicked",
			"task_id", task.ID,
			"panic", r.Value,
			"stack", string(r.Stack))
	}

	if n := out.FailUnresolved(f.sink, "internal error"); n > 0 {
		f.logger.WarnContext(ctx, "failed slots left unresolved by their workers",
			"task_id", task.ID,
			"count", n)
	}

	f.logger.InfoContext(ctx, "fan-out finished",
		"task_id", task.ID,
		"succeeded", out.Succeeded(),
		"failed", out.Failed())
	return out
}

func (f *FanOut) runSlot(ctx context.Context, task domain.Task, index int, out *Outcome, reveal *RevealLatch) {
	if delay := time.Duration(index) * f.cfg.Stagger; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.resolve(ctx, task, index, out, reveal, SlotResult{}, ctx.Err(), 0)
			return
		case <-timer.C:
		}
	}

	if out.record(index, domain.SlotStatusGenerating) {
		f.sink.UpdateSlot(task.ID, index, domain.SlotUpdate{Status: domain.SlotStatusGenerating})
	}

	start := time.Now()
	slotCtx, cancel := context.WithTimeout(ctx, f.cfg.SlotTimeout)
	defer cancel()

	replies := make(chan genReply, 1)
	go func() {
		var pc panics.Catcher
		var reply genReply
		pc.Try(func() {
			reply.result, reply.err = f.gen.Generate(slotCtx, SlotRequest{
				TaskID:        task.ID,
				TaskType:      task.Type,
				Index:         index,
				InputImageURL: task.InputImageURL,
				Params:        task.Params,
			})
		})
		if r := pc.Recovered(); r != nil {
			reply.err = r.AsError()
		}
		replies <- reply
	}()

	var reply genReply
	select {
	case reply = <-replies:
	case <-slotCtx.Done():
		select {
		case reply = <-replies:
		default:
			reply.err = slotCtx.Err()
		}
	}
	f.resolve(ctx, task, index, out, reveal, reply.result, reply.err, time.Since(start))
}

func (f *FanOut) resolve(
	ctx context.Context,
	task domain.Task,
	index int,
	out *Outcome,
	reveal *RevealLatch,
	result SlotResult,
	err error,
	elapsed time.Duration,
) {
	if err == nil && result.ImageURL == "" {
		err = ErrEmptyImage
	}

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("generation timed out after %s", f.cfg.SlotTimeout)
		}
		if !out.record(index, domain.SlotStatusFailed) {
			return
		}
		f.sink.UpdateSlot(task.ID, index, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: msg})
		f.logger.WarnContext(ctx, "slot failed",
			"task_id", task.ID,
			"slot_index", index,
			"error", err,
			"elapsed_ms", elapsed.Milliseconds())
		f.done(task.Type, domain.SlotStatusFailed, elapsed)
		return
	}

	if !out.record(index, domain.SlotStatusCompleted) {
		return
	}
	f.sink.UpdateSlot(task.ID, index, domain.SlotUpdate{
		Status:       domain.SlotStatusCompleted,
		ImageURL:     result.ImageURL,
		ModelVariant: result.ModelVariant,
		GenMode:      result.GenMode,
	})
	f.logger.DebugContext(ctx, "slot completed",
		"task_id", task.ID,
		"slot_index", index,
		"elapsed_ms", elapsed.Milliseconds())
	f.done(task.Type, domain.SlotStatusCompleted, elapsed)

	if reveal.Fire() {
		f.logger.InfoContext(ctx, "first result revealed",
			"task_id", task.ID,
			"slot_index", index)
	}
}

func (f *FanOut) done(taskType domain.TaskType, status domain.SlotStatus, elapsed time.Duration) {
	if f.cfg.OnSlotDone != nil {
		f.cfg.OnSlotDone(taskType, status, elapsed)
	}
}

var _ Strategy = (*FanOut)(nil)
