package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ASSAY_SERVER_PORT.
const EnvPrefix = "ASSAY"

var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"database.driver": DriverPostgres,
	"database.url":    "",

	"redis.addr":       "localhost:6379",
	"redis.password":   "",
	"redis.db":         0,
	"redis.key_prefix": "assay",

	"auth.jwt_secret": "",

	"llm.provider":             ProviderStatic,
	"llm.gemini_api_key":       "",
	"llm.openai_api_key":       "",
	"llm.model_name":           "",
	"llm.prompt_template_path": "",
	"llm.result_schema_path":   "",
	"llm.base_url":             "",
	"llm.max_retries":          3,
	"llm.retry_delay_seconds":  2,
	"llm.timeout_seconds":      120,

	"token.max_retries":              3,
	"token.ttl_minutes":              10,
	"token.cleanup_interval_seconds": 300,
	"token.cleanup_batch_limit":      100,
	"token.cleanup_max_batches":      10,
	"token.max_concurrent":           8,
	"token.shutdown_timeout_seconds": 30,
	"token.max_upload_bytes":         10 << 20,
}

// Load configuration from a .env file, an optional config.yaml in the working
// directory and environment variables. Environment variables take precedence
// over values from config files.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return load(v)
}

// LoadFile is Load with an explicit YAML file instead of ./config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind each one explicitly.
	for key := range defaults {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Redis.Enabled = cfg.Database.Driver == DriverRedis

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			return fmt.Errorf("configuration validation failed: database.url is required for driver %q", c.Database.Driver)
		}
	}

	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return errors.New("configuration validation failed: llm.gemini_api_key is required for provider gemini")
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return errors.New("configuration validation failed: llm.openai_api_key is required for provider openai")
		}
	}
	return nil
}
