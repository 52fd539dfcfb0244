package api

import (
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/orchestrator"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/recovery"
)

// SessionResponse is returned when a session token is issued or renewed.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateGenerationRequest defines the payload for starting a generation.
type CreateGenerationRequest struct {
	TaskType      string         `json:"task_type"       validate:"required"`
	InputImageURL string         `json:"input_image_url" validate:"omitempty,url"`
	Params        map[string]any `json:"params,omitempty"`
	ImageCount    int            `json:"image_count"     validate:"required,gte=1"`
}

func (r CreateGenerationRequest) toOrchestrator() orchestrator.Request {
	return orchestrator.Request{
		TaskType:      domain.TaskType(r.TaskType),
		InputImageURL: r.InputImageURL,
		Params:        domain.Params(r.Params),
		SlotCount:     r.ImageCount,
	}
}

// SlotResponse is one image position of a generation.
type SlotResponse struct {
	Index        int    `json:"index"`
	Status       string `json:"status"`
	ImageURL     string `json:"image_url,omitempty"`
	Error        string `json:"error,omitempty"`
	ModelVariant string `json:"model_variant,omitempty"`
	GenMode      string `json:"gen_mode,omitempty"`
}

// ProgressResponse summarizes slot states.
type ProgressResponse struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// GenerationResponse represents a generation task.
type GenerationResponse struct {
	ID            string           `json:"id"`
	TaskType      string           `json:"task_type"`
	Status        string           `json:"status"`
	InputImageURL string           `json:"input_image_url,omitempty"`
	Params        map[string]any   `json:"params,omitempty"`
	Slots         []SlotResponse   `json:"slots"`
	OutputURLs    []string         `json:"output_urls"`
	Progress      ProgressResponse `json:"progress"`
	Error         string           `json:"error,omitempty"`
	RecordID      string           `json:"record_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// GenerationListResponse lists a session's generations in submission order.
type GenerationListResponse struct {
	Generations []GenerationResponse `json:"generations"`
}

// RecoveryResponse tells a reconnecting client what to show.
type RecoveryResponse struct {
	Mode       string              `json:"mode"`
	TaskID     string              `json:"task_id,omitempty"`
	Generation *GenerationResponse `json:"generation,omitempty"`
	Rehydrated bool                `json:"rehydrated"`
}

// QuotaResponse is the image quota of the account.
type QuotaResponse struct {
	Limit     int        `json:"limit"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	ResetsAt  *time.Time `json:"resets_at,omitempty"`
}

func generationToResponse(t domain.Task) GenerationResponse {
	slots := make([]SlotResponse, len(t.Slots))
	progress := ProgressResponse{Total: len(t.Slots)}
	for i, s := range t.Slots {
		slots[i] = SlotResponse{
			Index:        s.Index,
			Status:       string(s.Status),
			ImageURL:     s.ImageURL,
			Error:        s.Error,
			ModelVariant: s.ModelVariant,
			GenMode:      s.GenMode,
		}
		switch s.Status {
		case domain.SlotStatusCompleted:
			progress.Completed++
		case domain.SlotStatusFailed:
			progress.Failed++
		default:
			progress.Pending++
		}
	}

	outputs := t.OutputURLs
	if outputs == nil {
		outputs = t.CompletedURLs()
	}

	return GenerationResponse{
		ID:            t.ID,
		TaskType:      string(t.Type),
		Status:        string(t.Status),
		InputImageURL: t.InputImageURL,
		Params:        t.Params,
		Slots:         slots,
		OutputURLs:    outputs,
		Progress:      progress,
		Error:         t.Error,
		RecordID:      t.RecordID,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func decisionToResponse(d recovery.Decision) RecoveryResponse {
	resp := RecoveryResponse{
		Mode:       string(d.Mode),
		TaskID:     d.TaskID,
		Rehydrated: d.Rehydrated,
	}
	if d.Task != nil {
		g := generationToResponse(*d.Task)
		resp.Generation = &g
	}
	return resp
}

func balanceToResponse(b quota.Balance) QuotaResponse {
	resp := QuotaResponse{Limit: b.Limit, Used: b.Used, Remaining: b.Remaining}
	if !b.ResetsAt.IsZero() {
		resets := b.ResetsAt
		resp.ResetsAt = &resets
	}
	return resp
}
