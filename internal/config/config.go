package config

import "time"

// Supported values for DatabaseConfig.Driver
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Supported values for LLMConfig.Provider
const (
	ProviderStatic = "static"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Token    TokenConfig    `mapstructure:"token" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects and addresses the token store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite redis memory"`
	// URL is a postgres connection string or a sqlite DSN.
	URL string `mapstructure:"url"`
}

// RedisConfig is used when Database.Driver is "redis".
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
	// Enabled is derived from Database.Driver during Load.
	Enabled bool `mapstructure:"-"`
}

// AuthConfig contains authentication settings. An empty JWTSecret disables
// bearer authentication.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// LLMConfig contains the analysis backend settings.
type LLMConfig struct {
	Provider           string `mapstructure:"provider" validate:"required,oneof=static gemini openai"`
	GeminiAPIKey       string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey       string `mapstructure:"openai_api_key"`
	ModelName          string `mapstructure:"model_name"`
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
	ResultSchemaPath   string `mapstructure:"result_schema_path"`
	// BaseURL overrides the provider endpoint (proxies, tests).
	BaseURL           string `mapstructure:"base_url" validate:"omitempty,url"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" validate:"gte=0"`
}

// Timeout bounds a single analysis call. Zero means no bound.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TokenConfig contains the lifecycle manager settings.
type TokenConfig struct {
	MaxRetries             int   `mapstructure:"max_retries" validate:"gte=0"`
	TTLMinutes             int   `mapstructure:"ttl_minutes" validate:"gte=0"`
	CleanupIntervalSeconds int   `mapstructure:"cleanup_interval_seconds" validate:"gt=0"`
	CleanupBatchLimit      int   `mapstructure:"cleanup_batch_limit" validate:"gt=0"`
	CleanupMaxBatches      int   `mapstructure:"cleanup_max_batches" validate:"gt=0"`
	MaxConcurrent          int   `mapstructure:"max_concurrent" validate:"gt=0"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
	MaxUploadBytes         int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// TTL is the token lifetime.
func (c TokenConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// CleanupInterval is the period of the expiry sweep.
func (c TokenConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// ShutdownTimeout bounds how long shutdown waits for running executions.
func (c TokenConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
