package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/platform/logger"
)

// loadAppConfig loads the application configuration from environment
// variables, .env and an optional config.yaml.
func loadAppConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// setupAppLogger configures the process logger from the server settings.
func setupAppLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return l, nil
}

// logAppConfig logs the loaded configuration without secrets.
func logAppConfig(log *slog.Logger, cfg *config.Config) {
	log.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("llm_provider", cfg.LLM.Provider))

	log.Debug("optional settings",
		slog.Bool("database_url_present", cfg.Database.URL != ""),
		slog.Bool("jwt_secret_present", cfg.Auth.JWTSecret != ""),
		slog.Bool("result_schema_present", cfg.LLM.ResultSchemaPath != ""),
		slog.Bool("prompt_template_present", cfg.LLM.PromptTemplatePath != ""))
}
