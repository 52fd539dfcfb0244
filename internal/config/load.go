package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "SHOTSTUDIO"

// ErrValidation is returned when the loaded configuration is incomplete or invalid.
var ErrValidation = errors.New("validation failed")

// keys without defaults still need to be known to viper for Unmarshal to see env overrides
var boundKeys = []string{
	"database.url",
	"redis.password",
	"auth.jwt_secret",
	"gemini.api_key",
	"executor.remote_base_url",
	"executor.remote_api_key",
}

// Load configuration from an optional .env file, an optional config.yaml and
// environment variables. Environment variables take precedence over values
// from config files. Returns a populated Config or an error if
// loading/validation fails.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct tag validation plus the cross-section rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if cfg.Executor.Generator == GeneratorGemini && cfg.Gemini.APIKey == "" {
		return fmt.Errorf("%w: gemini.api_key is required for the gemini generator", ErrValidation)
	}

	needsRemote := cfg.Executor.Generator == GeneratorRemote || cfg.Executor.Strategy == StrategyStream
	if needsRemote && cfg.Executor.RemoteBaseURL == "" {
		return fmt.Errorf("%w: executor.remote_base_url is required for remote or streamed execution",
			ErrValidation)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.rate_limit_per_minute", 10)

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.hint_ttl_minutes", 24*60)

	v.SetDefault("auth.session_lifetime_minutes", 7*24*60)

	v.SetDefault("executor.strategy", StrategyFanOut)
	v.SetDefault("executor.generator", GeneratorGemini)
	v.SetDefault("executor.stagger_millis", 1000)
	v.SetDefault("executor.slot_timeout_seconds", 150)
	v.SetDefault("executor.stream_timeout_seconds", 180)
	v.SetDefault("executor.max_slots", 4)

	v.SetDefault("gemini.primary_model", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("gemini.fallback_model", "gemini-2.0-flash-exp")
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_millis", 500)

	v.SetDefault("storage.dir", "./data/images")
	v.SetDefault("storage.base_url", "http://localhost:8080/images")

	v.SetDefault("jobs.worker_count", 4)
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.retain_finished", 256)

	v.SetDefault("quota.account", "default")
	v.SetDefault("quota.daily_limit", 40)
}
