package gemini

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/assay-api/internal/analysis"
	"github.com/phrazzld/assay-api/internal/config"
	"github.com/phrazzld/assay-api/internal/domain"
)

var testArtifact = domain.Artifact{
	Filename:    "main.go",
	ContentType: "text/x-go",
	Data:        []byte("package main\n\nfunc main() {}\n"),
}

func candidateResponse(text, finishReason string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
			"finishReason": finishReason,
		}},
	})
	return string(body)
}

func apiErrorResponse(code int, status string) string {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": code, "message": "upstream says no", "status": status},
	})
	return string(body)
}

type reply struct {
	status int
	body   string
}

// newTestAnalyzer serves the replies in order, repeating the last one.
func newTestAnalyzer(t *testing.T, replies ...reply) (*Analyzer, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/test-model:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "application/json")
		assert.Contains(t, string(body), "main.go")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(replies[n].status)
		_, _ = io.WriteString(w, replies[n].body)
	}))
	t.Cleanup(srv.Close)

	a, err := NewAnalyzer(context.Background(), slog.New(slog.DiscardHandler), config.LLMConfig{
		Provider:     config.ProviderGemini,
		GeminiAPIKey: "test-key",
		ModelName:    "test-model",
		BaseURL:      srv.URL,
		MaxRetries:   2,
	}, WithRetryPolicy(analysis.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	return a, &calls
}

func TestAnalyzer_Success(t *testing.T) {
	t.Parallel()
	a, calls := newTestAnalyzer(t, reply{http.StatusOK, candidateResponse(`{"summary":"a go program"}`, "STOP")})

	out, err := a.Analyze(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"a go program"}`, string(out))
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnalyzer_RetriesTransientErrors(t *testing.T) {
	t.Parallel()
	a, calls := newTestAnalyzer(t,
		reply{http.StatusServiceUnavailable, apiErrorResponse(503, "UNAVAILABLE")},
		reply{http.StatusTooManyRequests, apiErrorResponse(429, "RESOURCE_EXHAUSTED")},
		reply{http.StatusOK, candidateResponse(`{"summary":"third time"}`, "STOP")},
	)

	out, err := a.Analyze(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"third time"}`, string(out))
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnalyzer_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	a, calls := newTestAnalyzer(t, reply{http.StatusInternalServerError, apiErrorResponse(500, "INTERNAL")})

	_, err := a.Analyze(context.Background(), testArtifact)
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrTransientFailure)
	assert.True(t, analysis.IsRetryable(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnalyzer_PermanentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   reply
		wantErr error
	}{
		{"bad request", reply{http.StatusBadRequest, apiErrorResponse(400, "INVALID_ARGUMENT")}, analysis.ErrAnalysisFailed},
		{"safety block", reply{http.StatusOK, candidateResponse("", "SAFETY")}, analysis.ErrContentBlocked},
		{"prompt blocked", reply{http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`}, analysis.ErrContentBlocked},
		{"no candidates", reply{http.StatusOK, `{"candidates":[]}`}, analysis.ErrInvalidResponse},
		{"malformed JSON", reply{http.StatusOK, candidateResponse("this is prose", "STOP")}, analysis.ErrInvalidResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, calls := newTestAnalyzer(t, tc.reply)
			_, err := a.Analyze(context.Background(), testArtifact)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.False(t, analysis.IsRetryable(err))
			assert.EqualValues(t, 1, calls.Load(), "permanent errors are not retried")
		})
	}
}

func TestAnalyzer_CancelledContext(t *testing.T) {
	t.Parallel()
	a, _ := newTestAnalyzer(t, reply{http.StatusOK, candidateResponse(`{"summary":"x"}`, "STOP")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Analyze(ctx, testArtifact)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzer_EmptyArtifact(t *testing.T) {
	t.Parallel()
	a, calls := newTestAnalyzer(t, reply{http.StatusOK, candidateResponse(`{}`, "STOP")})

	_, err := a.Analyze(context.Background(), domain.Artifact{})
	assert.ErrorIs(t, err, analysis.ErrAnalysisFailed)
	assert.Zero(t, calls.Load())
}

func TestNewAnalyzer_Validation(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.DiscardHandler)

	_, err := NewAnalyzer(context.Background(), nil, config.LLMConfig{GeminiAPIKey: "k"})
	assert.Error(t, err)

	_, err = NewAnalyzer(context.Background(), log, config.LLMConfig{})
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)

	_, err = NewAnalyzer(context.Background(), log, config.LLMConfig{GeminiAPIKey: "k", PromptTemplatePath: "/nonexistent/prompt.tmpl"})
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)

	a, err := NewAnalyzer(context.Background(), log, config.LLMConfig{GeminiAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, a.model)
}
