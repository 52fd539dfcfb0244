package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/shotstudio/internal/api/shared"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/orchestrator"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/recovery"
)

// Generations is the orchestration surface the HTTP layer drives.
// *orchestrator.Orchestrator satisfies it.
type Generations interface {
	Submit(ctx context.Context, session string, req orchestrator.Request) (domain.Task, error)
	Reset(ctx context.Context, session string) error
	Tasks(session string) []domain.Task
	Task(session, taskID string) (domain.Task, error)
	Resume(ctx context.Context, session string, mode recovery.Mode) (recovery.Decision, error)
	Poll(ctx context.Context, session string) (recovery.Decision, error)
	Balance(ctx context.Context) (quota.Balance, error)
}

// GenerationHandler handles generation requests.
type GenerationHandler struct {
	generations Generations
	logger      *slog.Logger
}

// NewGenerationHandler creates a new GenerationHandler.
func NewGenerationHandler(generations Generations, logger *slog.Logger) *GenerationHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for GenerationHandler")
	}
	return &GenerationHandler{
		generations: generations,
		logger:      logger.With(slog.String("component", "generation_handler")),
	}
}

// Create handles POST /generations. The run continues in the background;
// the response carries the task with its pending slots.
func (h *GenerationHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	session, ok := requireSession(w, r, log)
	if !ok {
		return
	}

	var req CreateGenerationRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.generations.Submit(r.Context(), session, req.toOrchestrator())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start generation")
		return
	}

	log.Debug("generation accepted",
		slog.String("task_id", task.ID),
		slog.Int("image_count", req.ImageCount))
	shared.RespondWithJSON(w, r, http.StatusAccepted, generationToResponse(task))
}

// List handles GET /generations.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	tasks := h.generations.Tasks(session)
	resp := GenerationListResponse{Generations: make([]GenerationResponse, len(tasks))}
	for i, t := range tasks {
		resp.Generations[i] = generationToResponse(t)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Get handles GET /generations/{id}.
func (h *GenerationHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.generations.Task(session, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get generation")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, generationToResponse(task))
}

// Reset handles DELETE /generations. It clears the session's tasks and its
// recovery hint.
func (h *GenerationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.generations.Reset(r.Context(), session); err != nil {
		HandleAPIError(w, r, err, "Failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles GET /recovery?mode=. The mode is the view the client was
// showing before it reloaded.
func (h *GenerationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	mode, err := recovery.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	d, err := h.generations.Resume(r.Context(), session, mode)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to recover session")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, decisionToResponse(d))
}

// Poll handles GET /recovery/poll. It only consults in-memory state.
func (h *GenerationHandler) Poll(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r, h.logger)
	if !ok {
		return
	}

	d, err := h.generations.Poll(r.Context(), session)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to recover session")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, decisionToResponse(d))
}

// Quota handles GET /quota.
func (h *GenerationHandler) Quota(w http.ResponseWriter, r *http.Request) {
	b, err := h.generations.Balance(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read quota")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, balanceToResponse(b))
}
