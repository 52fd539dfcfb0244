// Package executor submits generation work to a remote generator and maps
// its results onto task slots. Two strategies are provided: FanOut issues
// one call per slot in parallel, Streamed consumes one incremental event
// stream per task.
package executor

import (
	"context"
	"errors"

	"github.com/phrazzld/shotstudio/internal/domain"
)

// Common executor errors
var (
	// ErrEmptyImage is returned when a generator reports success without an image.
	ErrEmptyImage = errors.New("generator returned no image")

	// ErrStreamEnded marks slots left unresolved when a stream finished normally.
	ErrStreamEnded = errors.New("stream ended before result")

	// ErrStreamTimeout marks slots left unresolved when a stream ran past its deadline.
	ErrStreamTimeout = errors.New("stream timed out before result")

	// ErrStreamInterrupted marks slots left unresolved by a dropped stream.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// SlotRequest is one unit of fan-out work.
type SlotRequest struct {
	TaskID        string          `json:"task_id"`
	TaskType      domain.TaskType `json:"task_type"`
	Index         int             `json:"index"`
	InputImageURL string          `json:"input_image_url"`
	Params        domain.Params   `json:"params,omitempty"`
}

// SlotResult is the image produced for one slot.
type SlotResult struct {
	ImageURL     string `json:"image_url"`
	ModelVariant string `json:"model_variant,omitempty"`
	GenMode      string `json:"gen_mode,omitempty"`
}

// Generator produces one image per call. Implementations must tolerate
// concurrent calls for the same task.
type Generator interface {
	Generate(ctx context.Context, req SlotRequest) (SlotResult, error)
}

// TaskRequest asks a streaming backend for every slot of a task at once.
type TaskRequest struct {
	TaskID        string          `json:"task_id"`
	TaskType      domain.TaskType `json:"task_type"`
	InputImageURL string          `json:"input_image_url"`
	Params        domain.Params   `json:"params,omitempty"`
	SlotCount     int             `json:"slot_count"`
}

// EventType classifies stream events.
type EventType string

// Stream event types
const (
	EventProgress EventType = "progress"
	EventImage    EventType = "image"
	EventError    EventType = "error"
)

// Event is one incremental update from a streaming backend.
type Event struct {
	Type         EventType `json:"type"`
	Index        int       `json:"index"`
	ImageURL     string    `json:"image_url,omitempty"`
	ModelVariant string    `json:"model_variant,omitempty"`
	GenMode      string    `json:"gen_mode,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// EventStream is a pull iterator over stream events. Next returns io.EOF
// when the stream ended normally; any other error means the connection was
// lost.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// StreamSource opens one event stream per task.
type StreamSource interface {
	Open(ctx context.Context, req TaskRequest) (EventStream, error)
}

// SlotSink receives slot updates. *registry.Registry satisfies it.
type SlotSink interface {
	UpdateSlot(taskID string, index int, update domain.SlotUpdate) bool
}

// Strategy runs every slot of a task to completion or until the stream stops.
type Strategy interface {
	Run(ctx context.Context, task domain.Task, reveal *RevealLatch) *Outcome
}
