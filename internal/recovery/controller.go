package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/store"
)

// RecordLookup finds the durable record of a finished task.
type RecordLookup interface {
	LookupByTaskID(ctx context.Context, taskID string) (*domain.GenerationRecord, error)
}

// TaskSource is the part of the task registry recovery needs.
type TaskSource interface {
	Get(taskID string) (domain.Task, bool)
	Restore(task domain.Task)
}

// Decision is the outcome of a recovery check.
type Decision struct {
	Mode   Mode         `json:"mode"`
	TaskID string       `json:"task_id,omitempty"`
	Task   *domain.Task `json:"task,omitempty"`
	// Rehydrated is true when the task was rebuilt from its durable record.
	Rehydrated bool `json:"rehydrated"`
}

func idle() Decision {
	return Decision{Mode: ModeIdle}
}

// Controller decides what a session should show after a reload or a soft
// navigation. The registry is always checked before the datastore.
type Controller struct {
	hints   HintStore
	tasks   TaskSource
	records RecordLookup
	now     func() time.Time
	logger  *slog.Logger
}

// NewController creates a Controller.
func NewController(hints HintStore, tasks TaskSource, records RecordLookup, logger *slog.Logger) *Controller {
	return &Controller{
		hints:   hints,
		tasks:   tasks,
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "recovery_controller"),
	}
}

// Track stores the hint for a task that just started.
func (c *Controller) Track(ctx context.Context, session, taskID string, mode Mode) error {
	if err := c.hints.Set(ctx, session, Hint{TaskID: taskID, Mode: mode, SetAt: c.now()}); err != nil {
		return fmt.Errorf("set recovery hint: %w", err)
	}
	return nil
}

// Forget clears the session hint.
func (c *Controller) Forget(ctx context.Context, session string) error {
	if err := c.hints.Clear(ctx, session); err != nil {
		return fmt.Errorf("clear recovery hint: %w", err)
	}
	return nil
}

// Advance moves the hint of session to mode, but only while it still points
// at taskID. A newer submission from the same session is left alone.
func (c *Controller) Advance(ctx context.Context, session, taskID string, mode Mode) error {
	if err := c.hints.AdvanceIf(ctx, session, taskID, mode); err != nil {
		return fmt.Errorf("advance recovery hint: %w", err)
	}
	return nil
}

// ForgetTask clears the hint of session if it points at taskID.
func (c *Controller) ForgetTask(ctx context.Context, session, taskID string) error {
	if err := c.hints.ClearIf(ctx, session, taskID); err != nil {
		return fmt.Errorf("clear recovery hint: %w", err)
	}
	return nil
}

// Resume runs the reload check for session. modeFlag is the mode the client
// believes it was in; it only matters when the task is still live. An error
// is returned only when the hint itself cannot be read.
func (c *Controller) Resume(ctx context.Context, session string, modeFlag Mode) (Decision, error) {
	hint, ok, err := c.hints.Get(ctx, session)
	if err != nil {
		return idle(), fmt.Errorf("read recovery hint: %w", err)
	}
	if !ok || hint.TaskID == "" {
		return idle(), nil
	}

	if task, live := c.tasks.Get(hint.TaskID); live {
		return c.fromLive(ctx, session, hint, task, modeFlag), nil
	}
	return c.fromRecord(ctx, session, hint), nil
}

// Poll re-checks a live task without touching the datastore. A session whose
// task is no longer in the registry keeps its hint; the next Resume decides.
func (c *Controller) Poll(ctx context.Context, session string) (Decision, error) {
	hint, ok, err := c.hints.Get(ctx, session)
	if err != nil {
		return idle(), fmt.Errorf("read recovery hint: %w", err)
	}
	if !ok || hint.TaskID == "" {
		return idle(), nil
	}

	task, live := c.tasks.Get(hint.TaskID)
	if !live {
		return Decision{Mode: hint.Mode, TaskID: hint.TaskID}, nil
	}
	return c.fromLive(ctx, session, hint, task, hint.Mode), nil
}

func (c *Controller) fromLive(ctx context.Context, session string, hint Hint, task domain.Task, modeFlag Mode) Decision {
	switch task.Status {
	case domain.TaskStatusCompleted:
		if hint.Mode != ModeResults {
			c.setMode(ctx, session, hint, ModeResults)
		}
		return Decision{Mode: ModeResults, TaskID: task.ID, Task: &task}

	case domain.TaskStatusFailed:
		c.clear(ctx, session, hint.TaskID, "task failed")
		return Decision{Mode: ModeIdle, TaskID: task.ID, Task: &task}

	default:
		if modeFlag == ModeResults {
			c.logger.DebugContext(ctx, "results requested for a task still processing",
				"session", session,
				"task_id", task.ID)
		}
		return Decision{Mode: ModeProcessing, TaskID: task.ID, Task: &task}
	}
}

func (c *Controller) fromRecord(ctx context.Context, session string, hint Hint) Decision {
	record, err := c.records.LookupByTaskID(ctx, hint.TaskID)
	if err != nil {
		if !store.IsNotFoundError(err) {
			c.logger.WarnContext(ctx, "record lookup failed during recovery",
				"session", session,
				"task_id", hint.TaskID,
				"error", err)
		}
		c.clear(ctx, session, hint.TaskID, "no record")
		return idle()
	}
	if record == nil || len(record.Outputs) == 0 {
		c.clear(ctx, session, hint.TaskID, "record has no outputs")
		return idle()
	}

	task := record.RehydrateTask()
	c.tasks.Restore(task)
	if hint.Mode != ModeResults {
		c.setMode(ctx, session, hint, ModeResults)
	}

	c.logger.InfoContext(ctx, "task rehydrated from record",
		"session", session,
		"task_id", task.ID,
		"outputs", len(record.Outputs))

	return Decision{Mode: ModeResults, TaskID: task.ID, Task: &task, Rehydrated: true}
}

func (c *Controller) setMode(ctx context.Context, session string, hint Hint, mode Mode) {
	hint.Mode = mode
	if err := c.hints.Set(ctx, session, hint); err != nil {
		c.logger.WarnContext(ctx, "failed to update recovery hint",
			"session", session,
			"task_id", hint.TaskID,
			"error", err)
	}
}

func (c *Controller) clear(ctx context.Context, session, taskID, reason string) {
	if err := c.hints.Clear(ctx, session); err != nil {
		c.logger.WarnContext(ctx, "failed to clear recovery hint",
			"session", session,
			"task_id", taskID,
			"error", err)
		return
	}
	c.logger.InfoContext(ctx, "recovery hint cleared",
		"session", session,
		"task_id", taskID,
		"reason", reason)
}
