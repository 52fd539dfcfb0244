package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(statuses ...SlotStatus) *Task {
	slots := make([]Slot, len(statuses))
	for i, st := range statuses {
		slots[i] = Slot{Index: i, Status: st}
		switch st {
		case SlotStatusCompleted:
			slots[i].ImageURL = "https://cdn.example.com/" + string(rune('a'+i)) + ".png"
			slots[i].ModelVariant = ModelVariantPrimary
		case SlotStatusFailed:
			slots[i].Error = "boom"
		}
	}
	return &Task{
		ID:                "task-1",
		Type:              TaskTypeProduct,
		InputImageURL:     "https://cdn.example.com/input.png",
		Params:            Params{"style": "studio"},
		ExpectedSlotCount: len(statuses),
		Slots:             slots,
		Status:            TaskStatusGenerating,
	}
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid task", func(t *testing.T) {
		task := newTestTask(SlotStatusPending, SlotStatusCompleted)
		assert.NoError(t, task.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		task := newTestTask(SlotStatusPending)
		task.ID = ""
		assert.ErrorIs(t, task.Validate(), ErrEmptyTaskID)
	})

	t.Run("slot count mismatch", func(t *testing.T) {
		task := newTestTask(SlotStatusPending)
		task.ExpectedSlotCount = 2
		assert.ErrorIs(t, task.Validate(), ErrInvalidSlotCount)
	})

	t.Run("invalid status", func(t *testing.T) {
		task := newTestTask(SlotStatusPending)
		task.Status = "done"
		assert.ErrorIs(t, task.Validate(), ErrInvalidTaskStatus)
	})
}

func TestTaskCounters(t *testing.T) {
	t.Parallel()

	task := newTestTask(SlotStatusCompleted, SlotStatusFailed, SlotStatusCompleted, SlotStatusGenerating)

	assert.Equal(t, 2, task.SuccessCount())
	assert.Equal(t, 1, task.FailedCount())
	assert.False(t, task.AllSlotsTerminal())
	assert.Equal(t, []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/c.png",
	}, task.CompletedURLs())
	assert.Equal(t, "boom", task.FirstError())
}

func TestTaskClone(t *testing.T) {
	t.Parallel()

	task := newTestTask(SlotStatusPending)
	clone := task.Clone()

	clone.Slots[0].Status = SlotStatusFailed
	clone.Params["style"] = "outdoor"

	assert.Equal(t, SlotStatusPending, task.Slots[0].Status)
	assert.Equal(t, "studio", task.Params.String("style"))
}

func TestGenerationRecordRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("record keeps completed slots only", func(t *testing.T) {
		task := newTestTask(SlotStatusCompleted, SlotStatusFailed, SlotStatusCompleted)

		record, err := NewGenerationRecord(task)
		require.NoError(t, err)
		require.Len(t, record.Outputs, 2)
		assert.Equal(t, task.ID, record.TaskID)
		assert.Equal(t, TaskTypeProduct, record.TaskType)

		record.ID = uuid.New()
		rebuilt := record.RehydrateTask()

		assert.Equal(t, task.ID, rebuilt.ID)
		assert.Equal(t, TaskStatusCompleted, rebuilt.Status)
		assert.Equal(t, 2, rebuilt.SuccessCount())
		assert.Equal(t, record.ID.String(), rebuilt.RecordID)
		assert.NoError(t, rebuilt.Validate())
	})

	t.Run("no completed slots", func(t *testing.T) {
		task := newTestTask(SlotStatusFailed, SlotStatusFailed)

		_, err := NewGenerationRecord(task)
		assert.ErrorIs(t, err, ErrEmptyOutputs)
	})
}

func TestTaskTypeIsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskTypeStudio.IsValid())
	assert.True(t, TaskTypeLifestyle.IsValid())
	assert.False(t, TaskType("portrait").IsValid())
}
