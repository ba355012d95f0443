package analysis

import (
	"context"

	"github.com/phrazzld/assay-api/internal/domain"
)

// Analyzer performs the work behind a token. Implementations must honour ctx
// cancellation and must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, artifact domain.Artifact) (domain.Result, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, artifact domain.Artifact) (domain.Result, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, artifact domain.Artifact) (domain.Result, error) {
	return f(ctx, artifact)
}
