package task

import (
	"fmt"

	"github.com/phrazzld/assay-api/internal/domain"
)

// progressTracker hands out the steps of a ProgressPlan in order and refuses
// to go backwards, so a single execution never reports a lower percentage
// than it already has.
type progressTracker struct {
	plan     domain.ProgressPlan
	expected int
	next     int
	last     int
}

func newProgressTracker(plan domain.ProgressPlan, expectedSeconds int) *progressTracker {
	return &progressTracker{plan: plan, expected: expectedSeconds, last: -1}
}

// advance returns the next step of the plan.
func (t *progressTracker) advance() (domain.Progress, error) {
	if t.next >= len(t.plan) {
		return domain.Progress{}, fmt.Errorf("progress plan exhausted after %d steps", len(t.plan))
	}
	p := t.plan.Step(t.next, t.expected)
	if p.Percentage < t.last {
		return domain.Progress{}, fmt.Errorf("progress would regress from %d to %d", t.last, p.Percentage)
	}
	t.next++
	t.last = p.Percentage
	return p, nil
}

// final returns the last step of the plan, skipping any intermediate ones.
func (t *progressTracker) final() (domain.Progress, error) {
	t.next = len(t.plan) - 1
	return t.advance()
}
