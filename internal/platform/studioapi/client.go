// Package studioapi talks to a remote studio generation service over HTTP.
// It provides both executor backends: a per-slot Generator and a per-task
// StreamSource reading server-sent events.
package studioapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

// ErrMissingBaseURL is returned by New without a base URL.
var ErrMissingBaseURL = errors.New("studioapi: base url is required")

// StatusError is a non-2xx response from the remote service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("studioapi: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("studioapi: status %d: %s", e.Code, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the remote generation endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. Per-call deadlines come from the caller's context,
// so the default HTTP client has no overall timeout.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		}}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    base,
		apiKey:     opts.APIKey,
		httpClient: hc,
		logger:     log.With("component", "studioapi_client"),
	}, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// Generate implements executor.Generator with POST {base}/generations.
func (c *Client) Generate(ctx context.Context, req executor.SlotRequest) (executor.SlotResult, error) {
	resp, err := c.post(ctx, "/generations", req, "application/json")
	if err != nil {
		return executor.SlotResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out executor.SlotResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return executor.SlotResult{}, fmt.Errorf("studioapi: decode response: %w", err)
	}
	return out, nil
}

// Open implements executor.StreamSource with POST {base}/generations/stream.
// The returned stream owns the response body.
func (c *Client) Open(ctx context.Context, req executor.TaskRequest) (executor.EventStream, error) {
	resp, err := c.post(ctx, "/generations/stream", req, "text/event-stream")
	if err != nil {
		return nil, err
	}

	logger.FromContextOrDefault(ctx, c.logger).DebugContext(ctx, "generation stream opened",
		"task_id", req.TaskID,
		"slot_count", req.SlotCount)
	return executor.NewSSEStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("studioapi: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("studioapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("studioapi: %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, readStatusError(resp)
	}
	return resp, nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var eb errorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

var (
	_ executor.Generator    = (*Client)(nil)
	_ executor.StreamSource = (*Client)(nil)
)
