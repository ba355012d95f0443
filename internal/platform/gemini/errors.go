package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/phrazzld/assay-api/internal/analysis"
)

// classifyError maps a genai client error onto the analysis error taxonomy.
// callCtx is the per-attempt context; parent is the caller's context.
func classifyError(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if callCtx.Err() != nil {
		return fmt.Errorf("%w: gemini call timed out: %v", analysis.ErrTransientFailure, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: gemini returned %d: %s", analysis.ErrTransientFailure, apiErr.Code, apiErr.Message)
		default:
			return fmt.Errorf("%w: gemini returned %d: %s", analysis.ErrAnalysisFailed, apiErr.Code, apiErr.Message)
		}
	}

	// Anything else is a transport problem.
	return fmt.Errorf("%w: %v", analysis.ErrTransientFailure, err)
}
