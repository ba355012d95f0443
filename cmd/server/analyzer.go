package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/platform/gemini"
	"github.com/phrazzld/assay-api/internal/platform/openai"
)

// setupAnalyzer builds the analysis backend selected by llm.provider and
// wraps it in result-schema validation when a schema is configured.
func setupAnalyzer(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (analysis.Analyzer, error) {
	var (
		a   analysis.Analyzer
		err error
	)
	switch cfg.Provider {
	case config.ProviderStatic:
		a = analysis.NewStaticAnalyzer(0)
	case config.ProviderGemini:
		a, err = gemini.NewAnalyzer(ctx, log.With(slog.String("component", "gemini_analyzer")), cfg)
	case config.ProviderOpenAI:
		a, err = openai.NewAnalyzer(log.With(slog.String("component", "openai_analyzer")), cfg)
	default:
		err = fmt.Errorf("%w: unknown provider %q", analysis.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	if cfg.ResultSchemaPath != "" {
		a, err = analysis.NewSchemaValidatorFromFile(a, cfg.ResultSchemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load result schema: %w", err)
		}
	}

	log.Info("analyzer initialized",
		slog.String("provider", cfg.Provider),
		slog.Bool("schema_validation", cfg.ResultSchemaPath != ""))
	return a, nil
}

// expectedAnalysisDuration feeds the remaining-time hint in progress updates.
func expectedAnalysisDuration(cfg config.LLMConfig) time.Duration {
	if cfg.Provider == config.ProviderStatic {
		return time.Second
	}
	return 30 * time.Second
}
