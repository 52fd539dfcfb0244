package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/shotstudio/internal/config"
)

// loadAppConfig loads the application configuration from environment variables or config file.
// Returns the loaded config and any loading error.
func loadAppConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// logConfig logs the loaded configuration without secrets.
func logConfig(logger *slog.Logger, cfg *config.Config) {
	logger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"strategy", cfg.Executor.Strategy,
		"generator", cfg.Executor.Generator,
		"max_slots", cfg.Executor.MaxSlots)

	logger.Debug("Secret configuration",
		"database_url_present", cfg.Database.URL != "",
		"jwt_secret_present", cfg.Auth.JWTSecret != "",
		"gemini_api_key_present", cfg.Gemini.APIKey != "",
		"remote_api_key_present", cfg.Executor.RemoteAPIKey != "")
}
