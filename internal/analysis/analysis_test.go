package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/assay-api/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestStaticAnalyzer(t *testing.T) {
	t.Parallel()

	t.Run("text artifact", func(t *testing.T) {
		t.Parallel()
		a := NewStaticAnalyzer(0)
		out, err := a.Analyze(context.Background(), domain.Artifact{
			Filename:    "notes.txt",
			ContentType: "text/plain",
			Data:        []byte("hello world\nsecond line"),
		})
		require.NoError(t, err)

		var report StaticReport
		require.NoError(t, json.Unmarshal(out, &report))
		assert.Equal(t, "notes.txt", report.Filename)
		assert.Equal(t, 23, report.SizeBytes)
		assert.True(t, report.IsText)
		assert.Equal(t, 2, report.LineCount)
		assert.Equal(t, 4, report.WordCount)
		assert.Len(t, report.SHA256, 64)
		assert.True(t, strings.HasPrefix(report.DetectedContentType, "text/plain"))
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a := NewStaticAnalyzer(0)
		art := domain.Artifact{Data: []byte("same bytes")}
		first, err := a.Analyze(context.Background(), art)
		require.NoError(t, err)
		second, err := a.Analyze(context.Background(), art)
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second))
	})

	t.Run("binary artifact", func(t *testing.T) {
		t.Parallel()
		report := Inspect(domain.Artifact{Data: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0xff, 0xfe}})
		assert.False(t, report.IsText)
		assert.Equal(t, "image/png", report.DetectedContentType)
		assert.Zero(t, report.LineCount)
	})

	t.Run("empty artifact", func(t *testing.T) {
		t.Parallel()
		_, err := NewStaticAnalyzer(0).Analyze(context.Background(), domain.Artifact{})
		assert.ErrorIs(t, err, ErrAnalysisFailed)
		assert.ErrorIs(t, err, domain.ErrEmptyArtifact)
	})

	t.Run("honours cancellation during delay", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewStaticAnalyzer(time.Hour).Analyze(ctx, domain.Artifact{Data: []byte("x")})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

const testSchema = `{
  "type": "object",
  "required": ["summary"],
  "properties": {"summary": {"type": "string"}}
}`

func TestSchemaValidator(t *testing.T) {
	t.Parallel()

	returning := func(result string, err error) Analyzer {
		return AnalyzerFunc(func(context.Context, domain.Artifact) (domain.Result, error) {
			return domain.Result(result), err
		})
	}
	art := domain.Artifact{Data: []byte("x")}

	t.Run("passes conforming results", func(t *testing.T) {
		t.Parallel()
		v, err := NewSchemaValidator(returning(`{"summary":"ok"}`, nil), []byte(testSchema))
		require.NoError(t, err)
		out, err := v.Analyze(context.Background(), art)
		require.NoError(t, err)
		assert.JSONEq(t, `{"summary":"ok"}`, string(out))
	})

	t.Run("rejects nonconforming results", func(t *testing.T) {
		t.Parallel()
		v, err := NewSchemaValidator(returning(`{"summary":42}`, nil), []byte(testSchema))
		require.NoError(t, err)
		_, err = v.Analyze(context.Background(), art)
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		t.Parallel()
		v, err := NewSchemaValidator(returning(`not json`, nil), []byte(testSchema))
		require.NoError(t, err)
		_, err = v.Analyze(context.Background(), art)
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})

	t.Run("propagates analyzer errors", func(t *testing.T) {
		t.Parallel()
		v, err := NewSchemaValidator(returning("", ErrContentBlocked), []byte(testSchema))
		require.NoError(t, err)
		_, err = v.Analyze(context.Background(), art)
		assert.ErrorIs(t, err, ErrContentBlocked)
	})

	t.Run("bad schema", func(t *testing.T) {
		t.Parallel()
		_, err := NewSchemaValidator(returning("", nil), []byte(`{"type": 12}`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("schema file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "schema.json")
		require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o600))
		_, err := NewSchemaValidatorFromFile(returning("", nil), path)
		require.NoError(t, err)

		_, err = NewSchemaValidatorFromFile(returning("", nil), filepath.Join(t.TempDir(), "missing.json"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestRetry(t *testing.T) {
	t.Parallel()
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		out, err := Retry(context.Background(), policy, discardLogger(), func(context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "", fmt.Errorf("%w: try again", ErrTransientFailure)
			}
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", out)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		_, err := Retry(context.Background(), policy, discardLogger(), func(context.Context) (string, error) {
			calls.Add(1)
			return "", ErrContentBlocked
		})
		assert.ErrorIs(t, err, ErrContentBlocked)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		_, err := Retry(context.Background(), policy, discardLogger(), func(context.Context) (string, error) {
			calls.Add(1)
			return "", ErrTransientFailure
		})
		assert.ErrorIs(t, err, ErrTransientFailure)
		assert.Contains(t, err.Error(), "exceeded maximum retry attempts")
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("stops waiting when context is cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}
		_, err := Retry(ctx, slow, discardLogger(), func(context.Context) (string, error) {
			cancel()
			return "", ErrTransientFailure
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond}
	for attempt := 0; attempt < 4; attempt++ {
		full := p.BaseDelay << attempt
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, full/2, "attempt %d", attempt)
		assert.Less(t, d, full, "attempt %d", attempt)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrTransientFailure)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(ErrContentBlocked))
	assert.False(t, IsRetryable(fmt.Errorf("%w: %w", ErrTransientFailure, ErrInvalidResponse)))
	assert.False(t, IsRetryable(errors.New("unknown")))
}

func TestPrompt(t *testing.T) {
	t.Parallel()

	t.Run("default template includes text content", func(t *testing.T) {
		t.Parallel()
		p, err := LoadPrompt("")
		require.NoError(t, err)
		out, err := p.Render(domain.Artifact{Filename: "a.go", ContentType: "text/x-go", Data: []byte("package main <b>")})
		require.NoError(t, err)
		assert.Contains(t, out, "Filename: a.go")
		assert.Contains(t, out, "package main <b>")
		assert.NotContains(t, out, "(truncated)")
	})

	t.Run("binary content is omitted", func(t *testing.T) {
		t.Parallel()
		p, err := LoadPrompt("")
		require.NoError(t, err)
		out, err := p.Render(domain.Artifact{Data: []byte{0xff, 0xfe, 0x00}})
		require.NoError(t, err)
		assert.Contains(t, out, "binary")
	})

	t.Run("large content is truncated", func(t *testing.T) {
		t.Parallel()
		d := NewPromptData(domain.Artifact{Data: []byte(strings.Repeat("é", maxPromptContentBytes))})
		assert.True(t, d.Truncated)
		assert.LessOrEqual(t, len(d.Content), maxPromptContentBytes)
		assert.True(t, strings.HasSuffix(d.Content, "é"))
	})

	t.Run("custom template file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "prompt.tmpl")
		require.NoError(t, os.WriteFile(path, []byte("Analyze {{.Filename}} ({{.Size}} bytes)"), 0o600))
		p, err := LoadPrompt(path)
		require.NoError(t, err)
		out, err := p.Render(domain.Artifact{Filename: "x.bin", Data: []byte("abc")})
		require.NoError(t, err)
		assert.Equal(t, "Analyze x.bin (3 bytes)", out)
	})

	t.Run("invalid templates", func(t *testing.T) {
		t.Parallel()
		_, err := ParsePrompt("{{.Filename")
		assert.ErrorIs(t, err, ErrInvalidConfig)
		_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.tmpl"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestParseJSONResult(t *testing.T) {
	t.Parallel()

	out, err := ParseJSONResult(`{"summary":"ok"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(out))

	out, err = ParseJSONResult("```json\n{\"summary\":\"fenced\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"fenced"}`, string(out))

	for _, bad := range []string{"", "   ", "not json", `["array"]`} {
		_, err := ParseJSONResult(bad)
		assert.ErrorIs(t, err, ErrInvalidResponse, "input %q", bad)
	}
}
