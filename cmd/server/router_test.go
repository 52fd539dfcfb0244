package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/shotstudio/internal/api"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/events"
	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/jobs"
	"github.com/phrazzld/shotstudio/internal/orchestrator"
	"github.com/phrazzld/shotstudio/internal/platform/metrics"
	platformredis "github.com/phrazzld/shotstudio/internal/platform/redis"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/recovery"
	"github.com/phrazzld/shotstudio/internal/registry"
	"github.com/phrazzld/shotstudio/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type generatorFunc func(ctx context.Context, req executor.SlotRequest) (executor.SlotResult, error)

func (f generatorFunc) Generate(ctx context.Context, req executor.SlotRequest) (executor.SlotResult, error) {
	return f(ctx, req)
}

// memoryRecords keeps generation records in memory.
type memoryRecords struct {
	mu      sync.Mutex
	records map[string]*domain.GenerationRecord
}

func (m *memoryRecords) Persist(_ context.Context, record *domain.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.TaskID]; ok {
		return store.ErrRecordExists
	}
	record.ID = uuid.New()
	m.records[record.TaskID] = record
	return nil
}

func (m *memoryRecords) LookupByTaskID(_ context.Context, taskID string) (*domain.GenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[taskID]; ok {
		return r, nil
	}
	return nil, store.ErrGenerationRecordNotFound
}

type testApp struct {
	app    *application
	router http.Handler
	ledger *quota.MemoryLedger
	redis  *miniredis.Miniredis
}

// newTestApp wires the real orchestration stack behind the router, with an
// in-memory ledger, miniredis and a generator that succeeds instantly.
func newTestApp(t *testing.T, rateLimit int) *testApp {
	t.Helper()
	logger := testLogger()

	srv := miniredis.RunT(t)
	rdb := platformredis.NewClient(srv.Addr(), "", 0)
	t.Cleanup(func() { _ = rdb.Close() })

	sessions, err := auth.NewSessionTokens(config.AuthConfig{
		JWTSecret:              "router-test-secret-that-is-long-enough",
		SessionLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	ledger := quota.NewMemoryLedger(10)
	protocol := quota.NewProtocol(ledger, logger)
	protocol.OnResult(m.QuotaResult)

	tasks := registry.New(logger, registry.WithObserver(m.ObserveSlot))
	gen := generatorFunc(func(_ context.Context, req executor.SlotRequest) (executor.SlotResult, error) {
		return executor.SlotResult{ImageURL: fmt.Sprintf("https://img.example.com/%s/%d.png", req.TaskID, req.Index)}, nil
	})
	strategy := executor.NewFanOut(gen, tasks, executor.FanOutConfig{
		Stagger:     time.Millisecond,
		SlotTimeout: time.Second,
		OnSlotDone:  m.SlotDone,
	}, logger)

	runner := jobs.NewRunner(jobs.Config{WorkerCount: 2, QueueSize: 8}, logger)
	require.NoError(t, runner.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Stop(ctx)
	})

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(m)

	records := &memoryRecords{records: make(map[string]*domain.GenerationRecord)}
	controller := recovery.NewController(platformredis.NewHintStore(rdb, time.Hour), tasks, records, logger)

	orch, err := orchestrator.New(orchestrator.Deps{
		Tasks:    tasks,
		Quota:    protocol,
		Strategy: strategy,
		Runner:   runner,
		Recovery: controller,
		Records:  records,
		Events:   emitter,
	}, orchestrator.Config{MaxSlots: 4, OnDecision: m.RecoveryDecision}, logger)
	require.NoError(t, err)

	app := &application{
		config:      &config.Config{},
		logger:      logger,
		redis:       rdb,
		generations: orch,
		jobRunner:   runner,
		sessions:    sessions,
		metrics:     m,
		checks: []healthCheck{
			{name: "redis", check: func(ctx context.Context) error { return platformredis.Ping(ctx, rdb) }},
		},
	}
	if rateLimit > 0 {
		app.limiter = platformredis.NewRateLimiter(rdb, rateLimit, time.Minute)
	}

	return &testApp{app: app, router: app.setupRouter(), ledger: ledger, redis: srv}
}

func (ta *testApp) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ta.router.ServeHTTP(rr, req)
	return rr
}

func (ta *testApp) startSession(t *testing.T) api.SessionResponse {
	t.Helper()
	rr := ta.do(t, http.MethodPost, "/api/sessions", "", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var s api.SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&s))
	return s
}

func TestGenerationLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, 0)
	session := ta.startSession(t)

	rr := ta.do(t, http.MethodPost, "/api/generations", session.Token,
		`{"task_type":"product","input_image_url":"https://cdn.example.com/bag.png","image_count":2}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var created api.GenerationResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	var finished api.GenerationResponse
	require.Eventually(t, func() bool {
		rr := ta.do(t, http.MethodGet, "/api/generations/"+created.ID, session.Token, "")
		if rr.Code != http.StatusOK {
			return false
		}
		finished = api.GenerationResponse{}
		if err := json.NewDecoder(rr.Body).Decode(&finished); err != nil {
			return false
		}
		return finished.Progress.Completed == 2 && finished.RecordID != ""
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "completed", finished.Status)
	assert.Len(t, finished.OutputURLs, 2)

	rr = ta.do(t, http.MethodGet, "/api/quota", session.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"limit":10,"used":2,"remaining":8}`, rr.Body.String())

	rr = ta.do(t, http.MethodGet, "/api/recovery?mode=processing", session.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var decision api.RecoveryResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&decision))
	assert.Equal(t, "results", decision.Mode)
	assert.Equal(t, created.ID, decision.TaskID)

	t.Run("other sessions cannot see the task", func(t *testing.T) {
		other := ta.startSession(t)
		rr := ta.do(t, http.MethodGet, "/api/generations/"+created.ID, other.Token, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("reset clears the session", func(t *testing.T) {
		rr := ta.do(t, http.MethodDelete, "/api/generations", session.Token, "")
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = ta.do(t, http.MethodGet, "/api/generations", session.Token, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"generations":[]}`, rr.Body.String())

		rr = ta.do(t, http.MethodGet, "/api/recovery/poll", session.Token, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"mode":"idle"`)
	})
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, 0)
	for _, route := range []struct{ method, target string }{
		{http.MethodPost, "/api/generations"},
		{http.MethodGet, "/api/generations"},
		{http.MethodGet, "/api/recovery"},
		{http.MethodGet, "/api/quota"},
		{http.MethodPost, "/api/sessions/refresh"},
	} {
		rr := ta.do(t, route.method, route.target, "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, route.target)
		assert.NotEmpty(t, rr.Header().Get("X-Trace-ID"), route.target)
	}
}

func TestSessionRefreshOverHTTP(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, 0)
	session := ta.startSession(t)

	rr := ta.do(t, http.MethodPost, "/api/sessions/refresh", session.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var renewed api.SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&renewed))
	assert.Equal(t, session.SessionID, renewed.SessionID)
}

func TestSubmissionRateLimit(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, 1)
	session := ta.startSession(t)
	body := `{"task_type":"studio","image_count":1}`

	rr := ta.do(t, http.MethodPost, "/api/generations", session.Token, body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	rr = ta.do(t, http.MethodPost, "/api/generations", session.Token, body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))

	// reads are not limited
	rr = ta.do(t, http.MethodGet, "/api/generations", session.Token, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ta.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "shotstudio_api_rate_limited_total 1")
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, 0)

	rr := ta.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"ok"}}`, rr.Body.String())

	ta.app.checks = append(ta.app.checks, healthCheck{
		name:  "database",
		check: func(context.Context) error { return errors.New("connection refused") },
	})
	rr = ta.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"ok","database":"unavailable"}}`, rr.Body.String())
}
