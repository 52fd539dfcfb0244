package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/shotstudio/internal/api"
	apiMiddleware "github.com/phrazzld/shotstudio/internal/api/middleware"
	"github.com/phrazzld/shotstudio/internal/auth"
	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/events"
	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/jobs"
	"github.com/phrazzld/shotstudio/internal/orchestrator"
	"github.com/phrazzld/shotstudio/internal/platform/gemini"
	"github.com/phrazzld/shotstudio/internal/platform/metrics"
	"github.com/phrazzld/shotstudio/internal/platform/postgres"
	platformredis "github.com/phrazzld/shotstudio/internal/platform/redis"
	"github.com/phrazzld/shotstudio/internal/platform/studioapi"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/recovery"
	"github.com/phrazzld/shotstudio/internal/registry"
	"github.com/phrazzld/shotstudio/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// healthCheck reports whether one backing service is reachable.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	// Orchestration
	generations api.Generations
	jobRunner   *jobs.Runner

	// HTTP collaborators
	sessions *auth.SessionTokens
	limiter  apiMiddleware.Limiter
	metrics  *metrics.Metrics
	images   http.Handler
	checks   []healthCheck
}

// newApplication creates a new application instance with all dependencies initialized.
// It accepts core dependencies like configuration, logger, and database connection that
// must be established before application initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
	rdb *redis.Client,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
		redis:  rdb,
	}

	var err error
	app.sessions, err = auth.NewSessionTokens(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session tokens: %w", err)
	}
	logger.Info("session token service initialized",
		"session_lifetime_minutes", cfg.Auth.SessionLifetimeMinutes)

	app.metrics = metrics.New(prometheus.NewRegistry())

	if cfg.Server.RateLimitPerMinute > 0 {
		app.limiter = platformredis.NewRateLimiter(rdb, cfg.Server.RateLimitPerMinute, time.Minute)
	}

	files, err := storage.NewFileStore(cfg.Storage.Dir, cfg.Storage.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image storage: %w", err)
	}
	app.images = http.FileServer(http.Dir(files.Root()))

	// Ledger and records
	ledger := postgres.NewQuotaLedger(db, cfg.Quota.Account, logger)
	if err := ledger.EnsureAccount(ctx, cfg.Quota.DailyLimit); err != nil {
		return nil, fmt.Errorf("failed to prepare quota account: %w", err)
	}
	protocol := quota.NewProtocol(ledger, logger)
	protocol.OnResult(app.metrics.QuotaResult)
	records := postgres.NewGenerationStore(db, logger)

	tasks := registry.New(logger, registry.WithObserver(app.metrics.ObserveSlot))

	strategy, err := buildStrategy(ctx, cfg, tasks, files, app.metrics.SlotDone, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	logger.Info("executor initialized",
		"strategy", cfg.Executor.Strategy,
		"generator", cfg.Executor.Generator)

	app.jobRunner, err = setupJobRunner(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup job runner: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(app.metrics)

	hints := platformredis.NewHintStore(rdb, cfg.Redis.HintTTL())
	controller := recovery.NewController(hints, tasks, records, logger)

	app.generations, err = orchestrator.New(orchestrator.Deps{
		Tasks:    tasks,
		Quota:    protocol,
		Strategy: strategy,
		Runner:   app.jobRunner,
		Recovery: controller,
		Records:  records,
		Events:   emitter,
	}, orchestrator.Config{
		MaxSlots:   cfg.Executor.MaxSlots,
		OnDecision: app.metrics.RecoveryDecision,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.checks = []healthCheck{
		{name: "database", check: db.PingContext},
		{name: "redis", check: func(ctx context.Context) error { return platformredis.Ping(ctx, rdb) }},
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// buildStrategy selects the executor strategy and generator backend.
func buildStrategy(
	ctx context.Context,
	cfg *config.Config,
	tasks *registry.Registry,
	files *storage.FileStore,
	onSlotDone executor.SlotDoneFunc,
	logger *slog.Logger,
) (executor.Strategy, error) {
	var remote *studioapi.Client
	if cfg.Executor.RemoteBaseURL != "" {
		var err error
		remote, err = studioapi.New(studioapi.Options{
			BaseURL: cfg.Executor.RemoteBaseURL,
			APIKey:  cfg.Executor.RemoteAPIKey,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Executor.Strategy == config.StrategyStream {
		if remote == nil {
			return nil, studioapi.ErrMissingBaseURL
		}
		return executor.NewStreamed(remote, tasks, executor.StreamedConfig{
			Timeout:    cfg.Executor.StreamTimeout(),
			OnSlotDone: onSlotDone,
		}, logger), nil
	}

	var gen executor.Generator
	switch cfg.Executor.Generator {
	case config.GeneratorRemote:
		if remote == nil {
			return nil, studioapi.ErrMissingBaseURL
		}
		gen = remote
	default:
		client, err := gemini.NewClient(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		gen, err = gemini.NewGenerator(client.Models, files, nil, cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
	}

	return executor.NewFanOut(gen, tasks, executor.FanOutConfig{
		Stagger:     cfg.Executor.Stagger(),
		SlotTimeout: cfg.Executor.SlotTimeout(),
		OnSlotDone:  onSlotDone,
	}, logger), nil
}

// setupJobRunner initializes and starts the background generation runner.
func setupJobRunner(cfg *config.Config, logger *slog.Logger) (*jobs.Runner, error) {
	jobCfg := jobs.DefaultConfig()
	jobCfg.WorkerCount = cfg.Jobs.WorkerCount
	jobCfg.QueueSize = cfg.Jobs.QueueSize
	jobCfg.RetainFinished = cfg.Jobs.RetainFinished
	// a run outlives its slowest slot by the stagger of the last slot at most
	budget := cfg.Executor.SlotTimeout() + time.Duration(cfg.Executor.MaxSlots)*cfg.Executor.Stagger()
	if cfg.Executor.Strategy == config.StrategyStream {
		budget = cfg.Executor.StreamTimeout()
	}
	jobCfg.StuckAge = budget + time.Minute

	runner := jobs.NewRunner(jobCfg, logger)
	runner.SetStuckHandler(func(jobID, kind string, age time.Duration) {
		logger.Warn("generation run exceeded its expected duration",
			"job_id", jobID,
			"job_kind", kind,
			"age", age)
	})
	if err := runner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start job runner: %w", err)
	}
	return runner, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup(ctx context.Context) {
	if app.jobRunner != nil {
		if err := app.jobRunner.Stop(ctx); err != nil {
			app.logger.Error("Error stopping job runner", "error", err)
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
