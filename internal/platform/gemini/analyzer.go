package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/domain"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// Analyzer implements analysis.Analyzer using the Gemini API.
type Analyzer struct {
	logger  *slog.Logger
	client  *genai.Client
	model   string
	prompt  *analysis.Prompt
	retry   analysis.RetryPolicy
	timeout time.Duration
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithRetryPolicy overrides the policy derived from configuration.
func WithRetryPolicy(p analysis.RetryPolicy) Option {
	return func(a *Analyzer) { a.retry = p }
}

// NewAnalyzer creates a Gemini-backed analyzer from the LLM configuration.
func NewAnalyzer(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig, opts ...Option) (*Analyzer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", analysis.ErrInvalidConfig)
	}

	prompt, err := analysis.LoadPrompt(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", analysis.ErrInvalidConfig, err)
	}

	model := cfg.ModelName
	if model == "" {
		model = DefaultModel
	}

	retry := analysis.DefaultRetryPolicy()
	retry.MaxRetries = cfg.MaxRetries
	if cfg.RetryDelaySeconds > 0 {
		retry.BaseDelay = time.Duration(cfg.RetryDelaySeconds) * time.Second
	}

	a := &Analyzer{
		logger:  logger.With(slog.String("component", "gemini"), slog.String("model", model)),
		client:  client,
		model:   model,
		prompt:  prompt,
		retry:   retry,
		timeout: cfg.Timeout(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze implements analysis.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, artifact domain.Artifact) (domain.Result, error) {
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", analysis.ErrAnalysisFailed, err)
	}

	prompt, err := a.prompt.Render(artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrAnalysisFailed, err)
	}
	a.logger.DebugContext(ctx, "prompt rendered",
		slog.Int("prompt_length", len(prompt)),
		slog.Int("artifact_size", artifact.Size()))

	return analysis.Retry(ctx, a.retry, a.logger, func(ctx context.Context) (domain.Result, error) {
		return a.generate(ctx, prompt)
	})
}

// generate performs a single GenerateContent call.
func (a *Analyzer) generate(ctx context.Context, prompt string) (domain.Result, error) {
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.client.Models.GenerateContent(callCtx, a.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		err = classifyError(ctx, callCtx, err)
		a.logger.ErrorContext(ctx, "gemini API call failed", slog.String("error", err.Error()))
		return nil, err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked (%s)", analysis.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", analysis.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", analysis.ErrContentBlocked)
	}

	result, err := analysis.ParseJSONResult(resp.Text())
	if err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "gemini API call successful", slog.Int("result_length", len(result)))
	return result, nil
}
