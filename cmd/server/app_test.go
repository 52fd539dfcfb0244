package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/executor"
	"github.com/phrazzld/shotstudio/internal/platform/gemini"
	"github.com/phrazzld/shotstudio/internal/platform/studioapi"
	"github.com/phrazzld/shotstudio/internal/registry"
	"github.com/phrazzld/shotstudio/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStrategy(t *testing.T) {
	t.Parallel()

	files, err := storage.NewFileStore(t.TempDir(), "https://img.example.com/images")
	require.NoError(t, err)

	base := func() *config.Config {
		return &config.Config{
			Executor: config.ExecutorConfig{
				Strategy:           config.StrategyFanOut,
				Generator:          config.GeneratorRemote,
				SlotTimeoutSeconds: 30,
				MaxSlots:           4,
				RemoteBaseURL:      "https://studio.example.com",
			},
			Gemini: config.GeminiConfig{PrimaryModel: "gemini-2.0-flash-exp"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		check   func(t *testing.T, s executor.Strategy)
		wantErr error
	}{
		{
			name:   "remote fan-out",
			mutate: func(*config.Config) {},
			check: func(t *testing.T, s executor.Strategy) {
				assert.IsType(t, &executor.FanOut{}, s)
			},
		},
		{
			name:   "streamed",
			mutate: func(c *config.Config) { c.Executor.Strategy = config.StrategyStream },
			check: func(t *testing.T, s executor.Strategy) {
				assert.IsType(t, &executor.Streamed{}, s)
			},
		},
		{
			name: "streamed without base url",
			mutate: func(c *config.Config) {
				c.Executor.Strategy = config.StrategyStream
				c.Executor.RemoteBaseURL = ""
			},
			wantErr: studioapi.ErrMissingBaseURL,
		},
		{
			name: "remote generator without base url",
			mutate: func(c *config.Config) {
				c.Executor.RemoteBaseURL = ""
			},
			wantErr: studioapi.ErrMissingBaseURL,
		},
		{
			name:    "gemini without api key",
			mutate:  func(c *config.Config) { c.Executor.Generator = config.GeneratorGemini },
			wantErr: gemini.ErrInvalidConfig,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)

			s, err := buildStrategy(context.Background(), cfg, registry.New(testLogger()), files, nil, testLogger())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, s)
		})
	}
}

func TestHandleMigrationsRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	err := handleMigrations(context.Background(), nil, "sideways", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration command")
}

func TestSetupJobRunner(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Jobs:     config.JobsConfig{WorkerCount: 2, QueueSize: 4},
		Executor: config.ExecutorConfig{SlotTimeoutSeconds: 10, StaggerMillis: 100, MaxSlots: 4},
	}
	runner, err := setupJobRunner(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, runner.Stop(ctx))
}

func TestSetupAppLoggerTagsEntries(t *testing.T) {
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: "info"},
		Executor: config.ExecutorConfig{Strategy: config.StrategyStream, Generator: config.GeneratorRemote},
	}
	l, err := setupAppLogger(cfg)
	require.NoError(t, err)
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.Same(t, l, slog.Default())
}
