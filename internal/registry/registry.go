// Package registry holds the in-memory task registry: the single mutation
// path for generation state and the source of truth for task snapshots.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/shotstudio/internal/domain"
)

// SlotObserver is notified after every applied slot status step. It runs
// under the registry lock and must not call back into the Registry.
type SlotObserver func(taskID string, index int, status domain.SlotStatus)

// Registry stores the tasks of the running process. All methods are safe for
// concurrent use and none of them fail: operations on unknown tasks or slots
// are silent no-ops.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*domain.Task
	order     []string
	observers []SlotObserver
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides task ID allocation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithObserver registers a slot observer.
func WithObserver(obs SlotObserver) Option {
	return func(r *Registry) { r.observers = append(r.observers, obs) }
}

// New creates an empty Registry.
func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		tasks:  make(map[string]*domain.Task),
		newID:  func() string { return uuid.NewString() },
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "task_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver registers obs after construction.
func (r *Registry) AddObserver(obs SlotObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// CreateTask stores a new pending task with expectedSlotCount pending slots
// and returns its freshly allocated ID.
func (r *Registry) CreateTask(
	taskType domain.TaskType,
	inputImageURL string,
	params domain.Params,
	expectedSlotCount int,
) string {
	if expectedSlotCount < 0 {
		expectedSlotCount = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for id == "" || r.exists(id) {
		id = uuid.NewString()
	}

	var p domain.Params
	if params != nil {
		p = make(domain.Params, len(params))
		for k, v := range params {
			p[k] = v
		}
	}

	now := r.now()
	r.tasks[id] = &domain.Task{
		ID:                id,
		Type:              taskType,
		InputImageURL:     inputImageURL,
		Params:            p,
		ExpectedSlotCount: expectedSlotCount,
		Slots:             domain.NewPendingSlots(expectedSlotCount),
		Status:            domain.TaskStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.order = append(r.order, id)

	r.logger.Debug("task created",
		"task_id", id,
		"task_type", taskType,
		"slot_count", expectedSlotCount)

	return id
}

// InitSlots replaces the slots of a task with count pending slots. It is used
// when the number of outputs is decided after the task was created.
func (r *Registry) InitSlots(taskID string, count int) {
	if count < 0 {
		count = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return
	}

	task.ExpectedSlotCount = count
	task.Slots = domain.NewPendingSlots(count)
	task.UpdatedAt = r.now()
}

// UpdateSlot applies a forward-only update to one slot and reports whether
// anything changed. Stale or regressive updates are discarded.
func (r *Registry) UpdateSlot(taskID string, index int, update domain.SlotUpdate) bool {
	r.mu.Lock()

	task, ok := r.tasks[taskID]
	if !ok || index < 0 || index >= len(task.Slots) {
		r.mu.Unlock()
		return false
	}

	steps, err := task.Slots[index].Apply(update)
	if err != nil {
		r.mu.Unlock()
		r.logger.Debug("discarding stale slot update",
			"task_id", taskID,
			"slot_index", index,
			"error", err)
		return false
	}
	if len(steps) > 0 {
		task.UpdatedAt = r.now()
	}
	for _, status := range steps {
		for _, obs := range r.observers {
			obs(taskID, index, status)
		}
	}
	r.mu.Unlock()

	return true
}

func (r *Registry) exists(id string) bool {
	_, ok := r.tasks[id]
	return ok
}

// UpdateTaskStatus sets the task-level status. Output URLs are attached only
// when the status is completed; errMsg is kept only when it is failed.
func (r *Registry) UpdateTaskStatus(taskID string, status domain.TaskStatus, outputURLs []string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return
	}

	task.Status = status
	switch status {
	case domain.TaskStatusCompleted:
		if outputURLs != nil {
			task.OutputURLs = append([]string(nil), outputURLs...)
		}
		task.Error = ""
	case domain.TaskStatusFailed:
		task.Error = errMsg
	}
	task.UpdatedAt = r.now()
}

// SetRecordID attaches the durable record ID assigned by the datastore.
func (r *Registry) SetRecordID(taskID, recordID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task, ok := r.tasks[taskID]; ok {
		task.RecordID = recordID
		task.UpdatedAt = r.now()
	}
}

// Restore inserts a fully formed task under its own ID, replacing any task
// with the same ID. It is used to rehydrate tasks from durable records.
func (r *Registry) Restore(task domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := task.Clone()
	if _, exists := r.tasks[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.tasks[c.ID] = &c
}

// RemoveTask deletes a task. It is never called implicitly on completion.
func (r *Registry) RemoveTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return
	}
	delete(r.tasks, taskID)

	for i, id := range r.order {
		if id == taskID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of one task.
func (r *Registry) Get(taskID string) (domain.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return domain.Task{}, false
	}
	return task.Clone(), true
}

// ListTasks returns copies of all tasks in insertion order.
func (r *Registry) ListTasks() []domain.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Clone())
	}
	return out
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
