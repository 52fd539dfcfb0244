package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/events"
	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/jobs"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/recovery"
	"github.com/phrazzld/shotstudio/internal/registry"
)

// DefaultMaxSlots bounds the images of one task when Config leaves it unset.
const DefaultMaxSlots = 4

// JobRunner queues background work. *jobs.Runner satisfies it.
type JobRunner interface {
	Submit(job jobs.Job) error
}

// RecordPersister stores the durable record of a finalized task.
type RecordPersister interface {
	Persist(ctx context.Context, record *domain.GenerationRecord) error
}

// Request is one "generate N images" action.
type Request struct {
	TaskType      domain.TaskType `json:"task_type" validate:"required"`
	InputImageURL string          `json:"input_image_url" validate:"omitempty,url"`
	Params        domain.Params   `json:"params,omitempty"`
	SlotCount     int             `json:"slot_count" validate:"required,gte=1"`
}

// Config tunes an Orchestrator.
type Config struct {
	MaxSlots int
	// OnDecision is called with every recovery decision handed to a client.
	OnDecision func(recovery.Decision)
}

// Deps are the collaborators of an Orchestrator. All are required.
type Deps struct {
	Tasks    *registry.Registry
	Quota    *quota.Protocol
	Strategy executor.Strategy
	Runner   JobRunner
	Recovery *recovery.Controller
	Records  RecordPersister
	Events   events.EventEmitter
}

// Orchestrator owns the generation flow and the session to task mapping.
type Orchestrator struct {
	tasks    *registry.Registry
	quota    *quota.Protocol
	strategy executor.Strategy
	runner   JobRunner
	recovery *recovery.Controller
	records  RecordPersister
	events   events.EventEmitter

	cfg      Config
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string][]string
	owners   map[string]string
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Tasks == nil:
		return nil, errors.New("orchestrator: task registry is required")
	case deps.Quota == nil:
		return nil, errors.New("orchestrator: quota protocol is required")
	case deps.Strategy == nil:
		return nil, errors.New("orchestrator: executor strategy is required")
	case deps.Runner == nil:
		return nil, errors.New("orchestrator: job runner is required")
	case deps.Recovery == nil:
		return nil, errors.New("orchestrator: recovery controller is required")
	case deps.Records == nil:
		return nil, errors.New("orchestrator: record store is required")
	case deps.Events == nil:
		return nil, errors.New("orchestrator: event emitter is required")
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = DefaultMaxSlots
	}

	return &Orchestrator{
		tasks:    deps.Tasks,
		quota:    deps.Quota,
		strategy: deps.Strategy,
		runner:   deps.Runner,
		recovery: deps.Recovery,
		records:  deps.Records,
		events:   deps.Events,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger.With("component", "orchestrator"),
		sessions: make(map[string][]string),
		owners:   make(map[string]string),
	}, nil
}

// Submit starts a generation for session and returns the new task. The run
// continues in the background after Submit returns. Quota ledger outages do
// not block the submission; an exhausted quota does.
func (o *Orchestrator) Submit(ctx context.Context, session string, req Request) (domain.Task, error) {
	if err := o.checkRequest(req); err != nil {
		return domain.Task{}, err
	}
	log := logger.FromContextOrDefault(ctx, o.logger).With("session", session)

	taskID := o.tasks.CreateTask(req.TaskType, req.InputImageURL, req.Params, req.SlotCount)
	o.adopt(session, taskID)
	log = log.With("task_id", taskID)

	if err := o.recovery.Track(ctx, session, taskID, recovery.ModeProcessing); err != nil {
		log.WarnContext(ctx, "failed to record recovery hint", "error", err)
	}

	reserved := o.quota.Reserve(ctx, taskID, req.SlotCount, req.TaskType)
	reserved.Log(ctx, log)
	if errors.Is(reserved.Err, quota.ErrInsufficientQuota) {
		o.abort(ctx, session, taskID, "quota exceeded")
		return domain.Task{}, &Error{Op: "submit", TaskID: taskID, Message: "reserve quota", Err: ErrQuotaExceeded}
	}

	o.emit(ctx, events.TypeSubmitted, taskID, session, events.SubmittedPayload{
		TaskType:  string(req.TaskType),
		SlotCount: req.SlotCount,
		Insured:   reserved.OK(),
	})

	job := jobs.Func(taskID, "generation."+string(req.TaskType), func(ctx context.Context) error {
		o.run(ctx, session, taskID)
		return nil
	})
	if err := o.runner.Submit(job); err != nil {
		o.abort(ctx, session, taskID, "could not be submitted")
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrQueueClosed) {
			err = fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return domain.Task{}, &Error{Op: "submit", TaskID: taskID, Message: "queue run", Err: err}
	}

	log.InfoContext(ctx, "generation submitted",
		"task_type", req.TaskType,
		"slot_count", req.SlotCount,
		"insured", reserved.OK())

	task, _ := o.tasks.Get(taskID)
	return task, nil
}

func (o *Orchestrator) checkRequest(req Request) error {
	if err := o.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.TaskType.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, domain.ErrInvalidTaskType, req.TaskType)
	}
	if req.SlotCount > o.cfg.MaxSlots {
		return fmt.Errorf("%w: %w: %d exceeds the limit of %d",
			ErrInvalidRequest, domain.ErrInvalidSlotCount, req.SlotCount, o.cfg.MaxSlots)
	}
	return nil
}

// abort is the total failure of a task that never started: every slot
// fails, the reservation is refunded and the hint cleared.
func (o *Orchestrator) abort(ctx context.Context, session, taskID, reason string) {
	if task, ok := o.tasks.Get(taskID); ok {
		for _, s := range task.Slots {
			o.tasks.UpdateSlot(taskID, s.Index, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: reason})
		}
	}
	o.tasks.UpdateTaskStatus(taskID, domain.TaskStatusFailed, nil, "generation "+reason)

	o.quota.Refund(ctx, taskID).Log(ctx, o.logger)
	o.quota.Forget(taskID)

	if err := o.recovery.ForgetTask(ctx, session, taskID); err != nil {
		o.logger.WarnContext(ctx, "failed to clear recovery hint",
			"session", session,
			"task_id", taskID,
			"error", err)
	}
}

// Reset drops every task of session and its recovery hint. Runs still in
// flight keep going and settle their quota; their slot updates are ignored.
func (o *Orchestrator) Reset(ctx context.Context, session string) error {
	o.mu.Lock()
	ids := o.sessions[session]
	delete(o.sessions, session)
	for _, id := range ids {
		delete(o.owners, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.tasks.RemoveTask(id)
	}
	o.emit(ctx, events.TypeReset, "", session, nil)

	if err := o.recovery.Forget(ctx, session); err != nil {
		return &Error{Op: "reset", Message: "clear recovery hint", Err: err}
	}

	logger.FromContextOrDefault(ctx, o.logger).InfoContext(ctx, "session reset",
		"session", session,
		"removed_tasks", len(ids))
	return nil
}

// Tasks returns snapshots of the session's tasks in submission order.
func (o *Orchestrator) Tasks(session string) []domain.Task {
	o.mu.Lock()
	ids := append([]string(nil), o.sessions[session]...)
	o.mu.Unlock()

	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := o.tasks.Get(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// Task returns one task of session.
func (o *Orchestrator) Task(session, taskID string) (domain.Task, error) {
	if !o.owns(session, taskID) {
		return domain.Task{}, ErrTaskNotFound
	}
	t, ok := o.tasks.Get(taskID)
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	return t, nil
}

// Resume is the reconnect check: it decides whether session should show
// nothing, a task in progress, or results. A task rebuilt from its durable
// record is adopted by session.
func (o *Orchestrator) Resume(ctx context.Context, session string, modeFlag recovery.Mode) (recovery.Decision, error) {
	d, err := o.recovery.Resume(ctx, session, modeFlag)
	return o.decided(session, d, err)
}

// Poll re-checks the session's live task without reaching the datastore.
func (o *Orchestrator) Poll(ctx context.Context, session string) (recovery.Decision, error) {
	d, err := o.recovery.Poll(ctx, session)
	return o.decided(session, d, err)
}

func (o *Orchestrator) decided(session string, d recovery.Decision, err error) (recovery.Decision, error) {
	if err != nil {
		return d, &Error{Op: "recover", Message: "read recovery hint", Err: err}
	}
	if d.Rehydrated && d.Task != nil {
		o.adopt(session, d.Task.ID)
	}
	if o.cfg.OnDecision != nil {
		o.cfg.OnDecision(d)
	}
	return d, nil
}

// Balance reads the quota ledger.
func (o *Orchestrator) Balance(ctx context.Context) (quota.Balance, error) {
	return o.quota.Balance(ctx)
}

func (o *Orchestrator) adopt(session, taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if owner, ok := o.owners[taskID]; ok && owner == session {
		return
	}
	o.owners[taskID] = session
	o.sessions[session] = append(o.sessions[session], taskID)
}

func (o *Orchestrator) owns(session, taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owners[taskID] == session
}

func (o *Orchestrator) emit(ctx context.Context, eventType, taskID, session string, payload any) {
	event, err := events.NewGenerationEvent(eventType, taskID, session, payload)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to build event", "event_type", eventType, "error", err)
		return
	}
	if err := o.events.EmitEvent(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "event handlers failed", "event_type", eventType, "error", err)
	}
}
