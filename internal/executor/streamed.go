package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
)

// DefaultStreamTimeout bounds a stream when StreamedConfig.Timeout is unset.
const DefaultStreamTimeout = 3 * time.Minute

// StreamedConfig configures a Streamed executor.
type StreamedConfig struct {
	// Timeout bounds the whole stream, from open to the last event. Slots
	// still unresolved at the deadline fail. Zero means DefaultStreamTimeout.
	Timeout time.Duration
	// OnSlotDone is optional.
	OnSlotDone SlotDoneFunc
}

// Streamed runs a task over a single event stream. Slots stay pending until
// their progress event arrives; image and error events resolve slots by
// index. A stream that ends normally or runs past its deadline fails
// whatever is still unresolved. A dropped stream leaves those slots as they
// were and reports Interrupted so the caller can close them explicitly.
type Streamed struct {
	source  StreamSource
	sink    SlotSink
	timeout time.Duration
	onDone  SlotDoneFunc
	logger  *slog.Logger
}

// NewStreamed creates a Streamed executor.
func NewStreamed(source StreamSource, sink SlotSink, cfg StreamedConfig, logger *slog.Logger) *Streamed {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	return &Streamed{
		source:  source,
		sink:    sink,
		timeout: timeout,
		onDone:  cfg.OnSlotDone,
		logger:  logger.With("component", "stream_executor"),
	}
}

// Run consumes the task's stream until every slot is terminal, the stream
// ends, the deadline passes, or the stream fails.
func (s *Streamed) Run(ctx context.Context, task domain.Task, reveal *RevealLatch) *Outcome {
	out := newOutcome(task.ID, len(task.Slots))
	start := time.Now()

	streamCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stream, err := s.source.Open(streamCtx, TaskRequest{
		TaskID:        task.ID,
		TaskType:      task.Type,
		InputImageURL: task.InputImageURL,
		Params:        task.Params,
		SlotCount:     len(task.Slots),
	})
	if err != nil {
		out.Interrupted = true
		out.Err = fmt.Errorf("open stream: %w", err)
		s.logger.ErrorContext(ctx, "failed to open generation stream",
			"task_id", task.ID,
			"error", err)
		return out
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			s.logger.DebugContext(ctx, "error closing stream", "task_id", task.ID, "error", cerr)
		}
	}()

	for len(out.Unresolved()) > 0 {
		ev, err := stream.Next(streamCtx)
		if errors.Is(err, io.EOF) {
			if n := out.FailUnresolved(s.sink, ErrStreamEnded.Error()); n > 0 {
				s.logger.WarnContext(ctx, "stream ended with unresolved slots",
					"task_id", task.ID,
					"count", n)
			}
			break
		}
		if err != nil && errors.Is(streamCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			unresolved := out.Unresolved()
			for _, i := range unresolved {
				s.fail(ctx, task, i, ErrStreamTimeout.Error(), out, time.Since(start))
			}
			s.logger.WarnContext(ctx, "generation stream timed out",
				"task_id", task.ID,
				"timeout", s.timeout.String(),
				"unresolved", len(unresolved))
			break
		}
		if err != nil {
			out.Interrupted = true
			out.Err = fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
			s.logger.WarnContext(ctx, "generation stream interrupted",
				"task_id", task.ID,
				"unresolved", len(out.Unresolved()),
				"error", err)
			return out
		}
		s.handle(ctx, task, ev, out, reveal, time.Since(start))
	}

	s.logger.InfoContext(ctx, "stream finished",
		"task_id", task.ID,
		"succeeded", out.Succeeded(),
		"failed", out.Failed())
	return out
}

func (s *Streamed) handle(
	ctx context.Context,
	task domain.Task,
	ev Event,
	out *Outcome,
	reveal *RevealLatch,
	elapsed time.Duration,
) {
	switch ev.Type {
	case EventProgress:
		s.markGenerating(task.ID, ev.Index, out)

	case EventImage:
		if ev.ImageURL == "" {
			s.fail(ctx, task, ev.Index, ErrEmptyImage.Error(), out, elapsed)
			return
		}
		if !out.record(ev.Index, domain.SlotStatusCompleted) {
			s.logger.DebugContext(ctx, "ignoring image event", "task_id", task.ID, "slot_index", ev.Index)
			return
		}
		s.sink.UpdateSlot(task.ID, ev.Index, domain.SlotUpdate{
			Status:       domain.SlotStatusCompleted,
			ImageURL:     ev.ImageURL,
			ModelVariant: ev.ModelVariant,
			GenMode:      ev.GenMode,
		})
		s.done(task.Type, domain.SlotStatusCompleted, elapsed)
		if reveal.Fire() {
			s.logger.InfoContext(ctx, "first result revealed", "task_id", task.ID, "slot_index", ev.Index)
		}

	case EventError:
		msg := ev.Message
		if msg == "" {
			msg = "generation failed"
		}
		if ev.Index < 0 {
			// task-wide error
			for _, i := range out.Unresolved() {
				s.fail(ctx, task, i, msg, out, elapsed)
			}
			return
		}
		s.fail(ctx, task, ev.Index, msg, out, elapsed)

	default:
		s.logger.DebugContext(ctx, "ignoring unknown stream event", "task_id", task.ID, "type", ev.Type)
	}
}

func (s *Streamed) markGenerating(taskID string, index int, out *Outcome) {
	if out.record(index, domain.SlotStatusGenerating) {
		s.sink.UpdateSlot(taskID, index, domain.SlotUpdate{Status: domain.SlotStatusGenerating})
	}
}

func (s *Streamed) fail(ctx context.Context, task domain.Task, index int, msg string, out *Outcome, elapsed time.Duration) {
	if !out.record(index, domain.SlotStatusFailed) {
		return
	}
	s.sink.UpdateSlot(task.ID, index, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: msg})
	s.logger.WarnContext(ctx, "slot failed", "task_id", task.ID, "slot_index", index, "error", msg)
	s.done(task.Type, domain.SlotStatusFailed, elapsed)
}

func (s *Streamed) done(taskType domain.TaskType, status domain.SlotStatus, elapsed time.Duration) {
	if s.onDone != nil {
		s.onDone(taskType, status, elapsed)
	}
}

var _ Strategy = (*Streamed)(nil)
