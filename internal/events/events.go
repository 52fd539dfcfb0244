package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the orchestrator.
const (
	TypeSubmitted = "generation.submitted"
	TypeRevealed  = "generation.revealed"
	TypeFinalized = "generation.finalized"
	TypeReset     = "generation.reset"
)

// GenerationEvent describes one step in the life of a generation task.
type GenerationEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	TaskID    string          `json:"task_id"`
	Session   string          `json:"session,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnmarshalPayload decodes the payload into v.
func (e *GenerationEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewGenerationEvent creates an event with a JSON-encoded payload. A nil
// payload leaves Payload empty.
func NewGenerationEvent(eventType, taskID, session string, payload any) (*GenerationEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &GenerationEvent{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Session:   session,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SubmittedPayload is the payload of TypeSubmitted events.
type SubmittedPayload struct {
	TaskType  string `json:"task_type"`
	SlotCount int    `json:"slot_count"`
	Insured   bool   `json:"insured"`
}

// FinalizedPayload is the payload of TypeFinalized events.
type FinalizedPayload struct {
	TaskType  string `json:"task_type"`
	Status    string `json:"status"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Refunded  int    `json:"refunded"`
	RecordID  string `json:"record_id,omitempty"`
}

// RevealedPayload is the payload of TypeRevealed events.
type RevealedPayload struct {
	TaskType  string `json:"task_type"`
	LatencyMs int64  `json:"latency_ms"`
}

// EventHandler processes events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *GenerationEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *GenerationEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *GenerationEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes events to registered handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *GenerationEvent) error
}
