package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
	"github.com/phrazzld/shotstudio/internal/storage"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

// paramMode selects the generation mode; "extended" asks for a detailed render.
const paramMode = "mode"

const extendedSuffix = "\nRender at the highest level of detail, with refined textures and accurate reflections."

// ContentGenerator is the part of the genai client the generator uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// ImageSaver stores generated image bytes and returns their public URL.
type ImageSaver interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}

// Generator produces one image per call.
type Generator struct {
	models        ContentGenerator
	images        ImageSaver
	fetcher       InputFetcher
	primaryModel  string
	fallbackModel string
	maxRetries    uint64
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewClient creates the genai client for cfg.
func NewClient(ctx context.Context, cfg config.GeminiConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrInvalidConfig, err)
	}
	return client, nil
}

// NewGenerator wires a Generator. fetcher may be nil, in which case input
// photos are downloaded over HTTP.
func NewGenerator(
	models ContentGenerator,
	images ImageSaver,
	fetcher InputFetcher,
	cfg config.GeminiConfig,
	logger *slog.Logger,
) (*Generator, error) {
	if models == nil || images == nil {
		return nil, fmt.Errorf("%w: client and image saver are required", ErrInvalidConfig)
	}
	if cfg.PrimaryModel == "" {
		return nil, fmt.Errorf("%w: primary model cannot be empty", ErrInvalidConfig)
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(&http.Client{Timeout: 30 * time.Second})
	}

	delay := time.Duration(cfg.RetryDelayMillis) * time.Millisecond
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Generator{
		models:        models,
		images:        images,
		fetcher:       fetcher,
		primaryModel:  cfg.PrimaryModel,
		fallbackModel: cfg.FallbackModel,
		maxRetries:    uint64(retries),
		retryDelay:    delay,
		logger:        logger.With("component", "gemini_generator"),
	}, nil
}

// Generate implements executor.Generator.
func (g *Generator) Generate(ctx context.Context, req executor.SlotRequest) (executor.SlotResult, error) {
	log := logger.FromContextOrDefault(ctx, g.logger).With(
		"task_id", req.TaskID,
		"slot_index", req.Index)

	mode := domain.GenModeSimple
	if strings.EqualFold(req.Params.String(paramMode), domain.GenModeExtended) {
		mode = domain.GenModeExtended
	}

	contents, err := g.buildContents(ctx, req, mode)
	if err != nil {
		return executor.SlotResult{}, err
	}

	variant := domain.ModelVariantPrimary
	blob, err := g.generateWithRetry(ctx, g.primaryModel, contents)
	if err != nil && g.fallbackModel != "" && ctx.Err() == nil && !errors.Is(err, ErrContentBlocked) {
		log.WarnContext(ctx, "primary model failed, trying fallback",
			"model", g.primaryModel,
			"fallback_model", g.fallbackModel,
			"error", err)
		variant = domain.ModelVariantFallback
		blob, err = g.generateWithRetry(ctx, g.fallbackModel, contents)
	}
	if err != nil {
		return executor.SlotResult{}, err
	}

	key := storage.ImageKey(req.TaskID, req.Index, blob.MIMEType)
	url, err := g.images.Save(ctx, key, blob.Data)
	if err != nil {
		return executor.SlotResult{}, fmt.Errorf("store image: %w", err)
	}

	log.DebugContext(ctx, "image generated",
		"model_variant", variant,
		"gen_mode", mode,
		"bytes", len(blob.Data))

	return executor.SlotResult{
		ImageURL:     url,
		ModelVariant: variant,
		GenMode:      mode,
	}, nil
}

func (g *Generator) buildContents(ctx context.Context, req executor.SlotRequest, mode string) ([]*genai.Content, error) {
	hasInput := req.InputImageURL != ""
	prompt, err := buildPrompt(req.TaskType, req.Params, hasInput, req.Index)
	if err != nil {
		return nil, err
	}
	if mode == domain.GenModeExtended {
		prompt += extendedSuffix
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if hasInput {
		data, mimeType, err := g.fetcher.Fetch(ctx, req.InputImageURL)
		if err != nil {
			return nil, fmt.Errorf("fetch input image: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

func (g *Generator) generateWithRetry(ctx context.Context, model string, contents []*genai.Content) (*genai.Blob, error) {
	backoff := retry.WithMaxRetries(g.maxRetries,
		retry.WithJitterPercent(25, retry.NewExponential(g.retryDelay)))

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	attempt := 0
	var blob *genai.Blob
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := g.models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			if isTransient(err) {
				g.logger.DebugContext(ctx, "transient gemini error",
					"model", model,
					"attempt", attempt,
					"error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		blob, err = extractImage(resp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("model %s after %d attempts: %w", model, attempt, err)
	}
	return blob, nil
}

func extractImage(resp *genai.GenerateContentResponse) (*genai.Blob, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrNoImage)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked (%s)", ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrNoImage)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content", ErrNoImage)
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData, nil
		}
	}
	return nil, ErrNoImage
}

// isTransient reports whether err is worth another attempt: rate limits,
// server errors and transport failures. Other API errors are permanent.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Code >= 500
	}
	return true
}

var _ executor.Generator = (*Generator)(nil)
