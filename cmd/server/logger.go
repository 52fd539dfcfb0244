package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/shotstudio/internal/config"
	"github.com/phrazzld/shotstudio/internal/platform/logger"
)

// setupAppLogger builds the process logger and tags every entry with the
// service name and the generation strategy in use.
func setupAppLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	l = l.With(
		"service", "shotstudio",
		"strategy", cfg.Executor.Strategy,
		"generator", cfg.Executor.Generator,
	)
	slog.SetDefault(l)
	return l, nil
}
