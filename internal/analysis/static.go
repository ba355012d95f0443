package analysis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/phrazzld/assay-api/internal/domain"
)

// StaticReport is the result produced by StaticAnalyzer.
type StaticReport struct {
	Filename            string `json:"filename,omitempty"`
	DeclaredContentType string `json:"declared_content_type,omitempty"`
	DetectedContentType string `json:"detected_content_type"`
	SizeBytes           int    `json:"size_bytes"`
	SHA256              string `json:"sha256"`
	IsText              bool   `json:"is_text"`
	LineCount           int    `json:"line_count,omitempty"`
	WordCount           int    `json:"word_count,omitempty"`
}

// StaticAnalyzer derives metadata from the artifact bytes without calling
// any external service. It is deterministic, which makes it the default for
// local development and tests.
type StaticAnalyzer struct {
	// Delay simulates backend latency. Zero means no delay.
	Delay time.Duration
}

// NewStaticAnalyzer returns a StaticAnalyzer with the given simulated delay.
func NewStaticAnalyzer(delay time.Duration) *StaticAnalyzer {
	return &StaticAnalyzer{Delay: delay}
}

// Analyze implements Analyzer.
func (s *StaticAnalyzer) Analyze(ctx context.Context, artifact domain.Artifact) (domain.Result, error) {
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := Inspect(artifact)
	out, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode report: %v", ErrAnalysisFailed, err)
	}
	return out, nil
}

// Inspect computes the StaticReport for an artifact.
func Inspect(artifact domain.Artifact) StaticReport {
	sum := sha256.Sum256(artifact.Data)
	report := StaticReport{
		Filename:            artifact.Filename,
		DeclaredContentType: artifact.ContentType,
		DetectedContentType: http.DetectContentType(artifact.Data),
		SizeBytes:           artifact.Size(),
		SHA256:              hex.EncodeToString(sum[:]),
		IsText:              utf8.Valid(artifact.Data),
	}
	if report.IsText {
		report.WordCount = len(bytes.Fields(artifact.Data))
		if len(artifact.Data) > 0 {
			report.LineCount = bytes.Count(artifact.Data, []byte{'\n'})
			if artifact.Data[len(artifact.Data)-1] != '\n' {
				report.LineCount++
			}
		}
	}
	return report
}
