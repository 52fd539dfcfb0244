package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordOutput is one persisted image of a generation record.
type RecordOutput struct {
	URL          string `json:"url"`
	ModelVariant string `json:"model_variant,omitempty"`
	GenMode      string `json:"gen_mode,omitempty"`
}

// GenerationRecord is the durable result of a finalized task. Its ID is
// assigned by the datastore and differs from the client-side task ID.
type GenerationRecord struct {
	ID            uuid.UUID      `json:"id"`
	TaskID        string         `json:"task_id"`
	TaskType      TaskType       `json:"task_type"`
	InputImageURL string         `json:"input_image_url"`
	Params        Params         `json:"params,omitempty"`
	Outputs       []RecordOutput `json:"outputs"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewGenerationRecord builds a record from the completed slots of t.
// Returns ErrEmptyOutputs when no slot completed.
func NewGenerationRecord(t *Task) (*GenerationRecord, error) {
	if t.ID == "" {
		return nil, ErrEmptyTaskID
	}

	outputs := make([]RecordOutput, 0, len(t.Slots))
	for _, s := range t.Slots {
		if s.Status != SlotStatusCompleted {
			continue
		}
		outputs = append(outputs, RecordOutput{
			URL:          s.ImageURL,
			ModelVariant: s.ModelVariant,
			GenMode:      s.GenMode,
		})
	}
	if len(outputs) == 0 {
		return nil, ErrEmptyOutputs
	}

	return &GenerationRecord{
		TaskID:        t.ID,
		TaskType:      t.Type,
		InputImageURL: t.InputImageURL,
		Params:        t.Params,
		Outputs:       outputs,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// RehydrateTask rebuilds a completed task with one completed slot per output.
// It is used when the in-memory task is gone but the record survived.
func (r *GenerationRecord) RehydrateTask() Task {
	slots := make([]Slot, len(r.Outputs))
	urls := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		slots[i] = Slot{
			Index:        i,
			Status:       SlotStatusCompleted,
			ImageURL:     o.URL,
			ModelVariant: o.ModelVariant,
			GenMode:      o.GenMode,
		}
		urls[i] = o.URL
	}

	t := Task{
		ID:                r.TaskID,
		Type:              r.TaskType,
		InputImageURL:     r.InputImageURL,
		Params:            r.Params,
		ExpectedSlotCount: len(r.Outputs),
		Slots:             slots,
		Status:            TaskStatusCompleted,
		OutputURLs:        urls,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.CreatedAt,
	}
	if r.ID != uuid.Nil {
		t.RecordID = r.ID.String()
	}
	return t
}
