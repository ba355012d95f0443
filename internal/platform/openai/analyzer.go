package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/domain"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = "You analyze uploaded artifacts and always answer with a single JSON object."

// Analyzer implements analysis.Analyzer using chat completions in JSON mode.
type Analyzer struct {
	logger  *slog.Logger
	client  *goopenai.Client
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

// NewAnalyzer creates an OpenAI-backed analyzer from the LLM configuration.
func NewAnalyzer(logger *slog.Logger, cfg config.LLMConfig, opts ...Option) (*Analyzer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", analysis.ErrInvalidConfig)
	}

	prompt, err := analysis.LoadPrompt(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	clientConfig := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
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
		logger:  logger.With(slog.String("component", "openai"), slog.String("model", model)),
		client:  goopenai.NewClientWithConfig(clientConfig),
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

	return analysis.Retry(ctx, a.retry, a.logger, func(ctx context.Context) (domain.Result, error) {
		return a.complete(ctx, prompt)
	})
}

func (a *Analyzer) complete(ctx context.Context, prompt string) (domain.Result, error) {
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.client.CreateChatCompletion(callCtx, goopenai.ChatCompletionRequest{
		Model: a.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		err = classifyError(ctx, callCtx, err)
		a.logger.ErrorContext(ctx, "openai API call failed", slog.String("error", err.Error()))
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", analysis.ErrInvalidResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return nil, fmt.Errorf("%w: completion stopped by content filter", analysis.ErrContentBlocked)
	}

	result, err := analysis.ParseJSONResult(choice.Message.Content)
	if err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "openai API call successful",
		slog.Int("result_length", len(result)),
		slog.Int("total_tokens", resp.Usage.TotalTokens))
	return result, nil
}

// classifyError maps go-openai errors onto the analysis error taxonomy.
func classifyError(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if callCtx.Err() != nil {
		return fmt.Errorf("%w: openai call timed out: %v", analysis.ErrTransientFailure, err)
	}

	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("%w: %v", analysis.ErrTransientFailure, err)
	}

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: openai returned %d: %v", analysis.ErrTransientFailure, status, err)
	}
	return fmt.Errorf("%w: openai returned %d: %v", analysis.ErrAnalysisFailed, status, err)
}
