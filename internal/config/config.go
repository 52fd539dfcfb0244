package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Executor ExecutorConfig `mapstructure:"executor" validate:"required"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs" validate:"required"`
	Quota    QuotaConfig    `mapstructure:"quota" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	LogFormat              string `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gte=0"`
	// RateLimitPerMinute caps generation submissions per session. Zero disables it.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// RedisConfig holds the connection used for durable recovery hints.
type RedisConfig struct {
	Addr           string `mapstructure:"addr" validate:"required,hostname_port"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db" validate:"gte=0"`
	HintTTLMinutes int    `mapstructure:"hint_ttl_minutes" validate:"gt=0"`
}

// HintTTL returns the configured hint lifetime.
func (c RedisConfig) HintTTL() time.Duration {
	return time.Duration(c.HintTTLMinutes) * time.Minute
}

// AuthConfig contains session token settings.
type AuthConfig struct {
	JWTSecret              string `mapstructure:"jwt_secret" validate:"required,min=32"`
	SessionLifetimeMinutes int    `mapstructure:"session_lifetime_minutes" validate:"gt=0"`
}

// Executor strategies and generator backends
const (
	StrategyFanOut = "fanout"
	StrategyStream = "stream"

	GeneratorGemini = "gemini"
	GeneratorRemote = "remote"
)

// ExecutorConfig controls how generation jobs reach the remote generator.
type ExecutorConfig struct {
	Strategy           string `mapstructure:"strategy" validate:"required,oneof=fanout stream"`
	Generator          string `mapstructure:"generator" validate:"required,oneof=gemini remote"`
	StaggerMillis      int    `mapstructure:"stagger_millis" validate:"gte=0"`
	SlotTimeoutSeconds int    `mapstructure:"slot_timeout_seconds" validate:"gt=0"`
	// StreamTimeoutSeconds bounds a whole streamed task; 0 falls back to the slot timeout.
	StreamTimeoutSeconds int    `mapstructure:"stream_timeout_seconds" validate:"gte=0"`
	MaxSlots             int    `mapstructure:"max_slots" validate:"gt=0,lte=16"`
	RemoteBaseURL        string `mapstructure:"remote_base_url" validate:"omitempty,url"`
	RemoteAPIKey         string `mapstructure:"remote_api_key"`
}

// Stagger returns the delay between consecutive fan-out submissions.
func (c ExecutorConfig) Stagger() time.Duration {
	return time.Duration(c.StaggerMillis) * time.Millisecond
}

// SlotTimeout returns the per-call deadline.
func (c ExecutorConfig) SlotTimeout() time.Duration {
	return time.Duration(c.SlotTimeoutSeconds) * time.Second
}

// StreamTimeout returns the deadline of one streamed task.
func (c ExecutorConfig) StreamTimeout() time.Duration {
	if c.StreamTimeoutSeconds > 0 {
		return time.Duration(c.StreamTimeoutSeconds) * time.Second
	}
	return c.SlotTimeout()
}

// GeminiConfig contains the settings of the Gemini image generator.
type GeminiConfig struct {
	APIKey           string `mapstructure:"api_key"`
	PrimaryModel     string `mapstructure:"primary_model" validate:"required"`
	FallbackModel    string `mapstructure:"fallback_model"`
	MaxRetries       int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelayMillis int    `mapstructure:"retry_delay_millis" validate:"gte=0"`
}

// StorageConfig locates generated images on disk and on the web.
type StorageConfig struct {
	Dir     string `mapstructure:"dir" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// JobsConfig sizes the background job runner.
type JobsConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize   int `mapstructure:"queue_size" validate:"gt=0"`
	// RetainFinished bounds how many finished job statuses stay queryable.
	RetainFinished int `mapstructure:"retain_finished" validate:"gte=0"`
}

// QuotaConfig holds the ledger account settings.
type QuotaConfig struct {
	Account    string `mapstructure:"account" validate:"required"`
	DailyLimit int    `mapstructure:"daily_limit" validate:"gt=0"`
}
