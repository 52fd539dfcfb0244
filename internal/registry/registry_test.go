package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusRecorder captures the observed status sequence per slot.
type statusRecorder struct {
	mu  sync.Mutex
	seq map[string][]domain.SlotStatus
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{seq: make(map[string][]domain.SlotStatus)}
}

func (r *statusRecorder) observe(taskID string, index int, status domain.SlotStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s/%d", taskID, index)
	r.seq[key] = append(r.seq[key], status)
}

func (r *statusRecorder) sequence(taskID string, index int) []domain.SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq[fmt.Sprintf("%s/%d", taskID, index)]
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	t.Run("creates pending slots", func(t *testing.T) {
		reg := New(testLogger())

		id := reg.CreateTask(domain.TaskTypeProduct, "in.png", domain.Params{"style": "studio"}, 3)
		require.NotEmpty(t, id)

		task, ok := reg.Get(id)
		require.True(t, ok)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Equal(t, 3, task.ExpectedSlotCount)
		require.Len(t, task.Slots, 3)
		for i, s := range task.Slots {
			assert.Equal(t, i, s.Index)
			assert.Equal(t, domain.SlotStatusPending, s.Status)
		}
		assert.NoError(t, task.Validate())
	})

	t.Run("never reuses a live id", func(t *testing.T) {
		reg := New(testLogger(), WithIDGenerator(func() string { return "fixed" }))

		first := reg.CreateTask(domain.TaskTypeStudio, "", nil, 1)
		second := reg.CreateTask(domain.TaskTypeStudio, "", nil, 1)

		assert.Equal(t, "fixed", first)
		assert.NotEqual(t, first, second)
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("params are copied", func(t *testing.T) {
		reg := New(testLogger())
		params := domain.Params{"lighting": "soft"}

		id := reg.CreateTask(domain.TaskTypeOutfit, "", params, 1)
		params["lighting"] = "hard"

		task, _ := reg.Get(id)
		assert.Equal(t, "soft", task.Params.String("lighting"))
	})
}

func TestInitSlots(t *testing.T) {
	t.Parallel()

	reg := New(testLogger())
	id := reg.CreateTask(domain.TaskTypeGroup, "", nil, 4)
	reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusGenerating})

	reg.InitSlots(id, 2)

	task, _ := reg.Get(id)
	assert.Equal(t, 2, task.ExpectedSlotCount)
	require.Len(t, task.Slots, 2)
	assert.Equal(t, domain.SlotStatusPending, task.Slots[0].Status)

	assert.NotPanics(t, func() { reg.InitSlots("missing", 3) })
}

func TestUpdateSlot(t *testing.T) {
	t.Parallel()

	t.Run("forward transitions apply", func(t *testing.T) {
		rec := newStatusRecorder()
		reg := New(testLogger(), WithObserver(rec.observe))
		id := reg.CreateTask(domain.TaskTypeProduct, "", nil, 2)

		assert.True(t, reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusGenerating}))
		assert.True(t, reg.UpdateSlot(id, 0, domain.SlotUpdate{
			Status:       domain.SlotStatusCompleted,
			ImageURL:     "out-0.png",
			ModelVariant: domain.ModelVariantFallback,
			GenMode:      domain.GenModeExtended,
		}))

		task, _ := reg.Get(id)
		assert.Equal(t, domain.SlotStatusCompleted, task.Slots[0].Status)
		assert.Equal(t, "out-0.png", task.Slots[0].ImageURL)
		assert.Equal(t, domain.ModelVariantFallback, task.Slots[0].ModelVariant)
		assert.Equal(t, domain.SlotStatusPending, task.Slots[1].Status)

		assert.Equal(t,
			[]domain.SlotStatus{domain.SlotStatusGenerating, domain.SlotStatusCompleted},
			rec.sequence(id, 0))
	})

	t.Run("late completion after failure is discarded", func(t *testing.T) {
		rec := newStatusRecorder()
		reg := New(testLogger(), WithObserver(rec.observe))
		id := reg.CreateTask(domain.TaskTypeProduct, "", nil, 1)

		reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusGenerating})
		reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: "timeout"})
		applied := reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusCompleted, ImageURL: "late.png"})

		assert.False(t, applied)
		task, _ := reg.Get(id)
		assert.Equal(t, domain.SlotStatusFailed, task.Slots[0].Status)
		assert.Equal(t, "timeout", task.Slots[0].Error)
		assert.Equal(t,
			[]domain.SlotStatus{domain.SlotStatusGenerating, domain.SlotStatusFailed},
			rec.sequence(id, 0))
	})

	t.Run("regression to generating is discarded", func(t *testing.T) {
		reg := New(testLogger())
		id := reg.CreateTask(domain.TaskTypeProduct, "", nil, 1)

		reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusGenerating})
		reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusCompleted, ImageURL: "a.png"})

		assert.False(t, reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusGenerating}))
	})

	t.Run("removed task is a silent no-op", func(t *testing.T) {
		reg := New(testLogger())
		id := reg.CreateTask(domain.TaskTypeProduct, "", nil, 1)
		reg.RemoveTask(id)

		assert.NotPanics(t, func() {
			assert.False(t, reg.UpdateSlot(id, 0, domain.SlotUpdate{Status: domain.SlotStatusGenerating}))
			reg.UpdateTaskStatus(id, domain.TaskStatusCompleted, nil, "")
		})
		_, ok := reg.Get(id)
		assert.False(t, ok)
	})

	t.Run("out of range index", func(t *testing.T) {
		reg := New(testLogger())
		id := reg.CreateTask(domain.TaskTypeProduct, "", nil, 1)

		assert.False(t, reg.UpdateSlot(id, 5, domain.SlotUpdate{Status: domain.SlotStatusGenerating}))
		assert.False(t, reg.UpdateSlot(id, -1, domain.SlotUpdate{Status: domain.SlotStatusGenerating}))
	})

	t.Run("concurrent updates to different slots are all kept", func(t *testing.T) {
		const slots = 32
		reg := New(testLogger())
		id := reg.CreateTask(domain.TaskTypeProduct, "", nil, slots)

		var wg sync.WaitGroup
		for i := 0; i < slots; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				reg.UpdateSlot(id, i, domain.SlotUpdate{Status: domain.SlotStatusGenerating})
				if i%2 == 0 {
					reg.UpdateSlot(id, i, domain.SlotUpdate{
						Status:   domain.SlotStatusCompleted,
						ImageURL: fmt.Sprintf("out-%d.png", i),
					})
				} else {
					reg.UpdateSlot(id, i, domain.SlotUpdate{Status: domain.SlotStatusFailed, Error: "x"})
				}
			}(i)
		}
		wg.Wait()

		task, _ := reg.Get(id)
		assert.Equal(t, slots/2, task.SuccessCount())
		assert.Equal(t, slots/2, task.FailedCount())
		assert.True(t, task.AllSlotsTerminal())
	})
}

func TestUpdateTaskStatus(t *testing.T) {
	t.Parallel()

	reg := New(testLogger())
	id := reg.CreateTask(domain.TaskTypeLifestyle, "", nil, 2)

	reg.UpdateTaskStatus(id, domain.TaskStatusCompleted, []string{"a.png"}, "ignored")
	task, _ := reg.Get(id)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, []string{"a.png"}, task.OutputURLs)
	assert.Empty(t, task.Error)

	other := reg.CreateTask(domain.TaskTypeLifestyle, "", nil, 1)
	reg.UpdateTaskStatus(other, domain.TaskStatusFailed, nil, "all slots failed")
	task, _ = reg.Get(other)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, "all slots failed", task.Error)
}

func TestListTasksPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	reg := New(testLogger())
	a := reg.CreateTask(domain.TaskTypeProduct, "", nil, 1)
	b := reg.CreateTask(domain.TaskTypeOutfit, "", nil, 1)
	c := reg.CreateTask(domain.TaskTypeGroup, "", nil, 1)

	reg.RemoveTask(b)

	tasks := reg.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, a, tasks[0].ID)
	assert.Equal(t, c, tasks[1].ID)

	// snapshots are detached from registry state
	tasks[0].Slots[0].Status = domain.SlotStatusFailed
	fresh, _ := reg.Get(a)
	assert.Equal(t, domain.SlotStatusPending, fresh.Slots[0].Status)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	reg := New(testLogger())
	record := &domain.GenerationRecord{
		TaskID:   "t1",
		TaskType: domain.TaskTypeStudio,
		Outputs:  []domain.RecordOutput{{URL: "a.png"}, {URL: "b.png"}},
	}

	reg.Restore(record.RehydrateTask())
	reg.Restore(record.RehydrateTask())

	assert.Equal(t, 1, reg.Len())
	task, ok := reg.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 2, task.SuccessCount())
	assert.Len(t, reg.ListTasks(), 1)
}
