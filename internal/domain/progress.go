package domain

import "fmt"

// Stage names reported in Progress.Stage
const (
	StageUpload     = "upload"
	StageAnalysis   = "analysis"
	StageCompletion = "completion"
)

// Progress is the externally visible progress of a token.
type Progress struct {
	Stage                     string `json:"stage"`
	Percentage                int    `json:"percentage"`
	Message                   string `json:"message"`
	EstimatedRemainingSeconds int    `json:"estimated_remaining_seconds"`
}

// Validate checks the percentage bounds.
func (p Progress) Validate() error {
	if p.Percentage < 0 || p.Percentage > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPercentage, p.Percentage)
	}
	if p.EstimatedRemainingSeconds < 0 {
		return fmt.Errorf("%w: negative estimate", ErrInvalidPercentage)
	}
	return nil
}

// InitialProgress is recorded when a token is created.
func InitialProgress() Progress {
	return Progress{
		Stage:   StageUpload,
		Message: "Artifact received, waiting for analysis",
	}
}

// RetryProgress is recorded when a failed token is claimed for retry.
func RetryProgress(attempt int) Progress {
	return Progress{
		Stage:   StageAnalysis,
		Message: fmt.Sprintf("Retry %d scheduled", attempt),
	}
}

// StageWeight describes one step of the progress schedule.
type StageWeight struct {
	Stage      string
	Percentage int
	Message    string
	// Remaining is the fraction of the expected total duration still ahead
	// once this stage is reported.
	Remaining float64
}

// ProgressPlan is the ordered schedule an execution reports. Percentages must
// be non-decreasing and only the last entry reaches 100.
type ProgressPlan []StageWeight

// DefaultProgressPlan reports analysis at 50% and completion at 100%.
func DefaultProgressPlan() ProgressPlan {
	return ProgressPlan{
		{Stage: StageAnalysis, Percentage: 50, Message: "Analyzing artifact", Remaining: 0.5},
		{Stage: StageCompletion, Percentage: 100, Message: "Analysis complete", Remaining: 0},
	}
}

// Validate checks that the plan is monotonic and ends at 100.
func (p ProgressPlan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty progress plan", ErrInvalidPercentage)
	}
	last := -1
	for i, s := range p {
		if s.Percentage < last {
			return fmt.Errorf("%w: stage %q goes backwards", ErrInvalidPercentage, s.Stage)
		}
		if s.Percentage == 100 && i != len(p)-1 {
			return fmt.Errorf("%w: only the final stage may reach 100", ErrInvalidPercentage)
		}
		last = s.Percentage
	}
	if last != 100 {
		return fmt.Errorf("%w: final stage must reach 100", ErrInvalidPercentage)
	}
	return nil
}

// Step returns the Progress for stage i given an expected total duration in
// seconds.
func (p ProgressPlan) Step(i int, expectedSeconds int) Progress {
	s := p[i]
	return Progress{
		Stage:                     s.Stage,
		Percentage:                s.Percentage,
		Message:                   s.Message,
		EstimatedRemainingSeconds: int(float64(expectedSeconds) * s.Remaining),
	}
}
