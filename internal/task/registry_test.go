package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/assay-api/internal/domain"
)

func newTestExecution(token string) (*execution, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return newExecution(token, cancel), ctx
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("add replaces and returns previous handle", func(t *testing.T) {
		r := newRegistry()
		first, _ := newTestExecution("tok")
		second, _ := newTestExecution("tok")

		prev, ok := r.add(first)
		require.True(t, ok)
		assert.Nil(t, prev)

		prev, ok = r.add(second)
		require.True(t, ok)
		assert.Same(t, first, prev)
		assert.Equal(t, 1, r.len())
	})

	t.Run("release ignores stale handles", func(t *testing.T) {
		r := newRegistry()
		first, _ := newTestExecution("tok")
		second, _ := newTestExecution("tok")
		r.add(first)
		r.add(second)

		assert.False(t, r.release(first))
		assert.Equal(t, 1, r.len())
		assert.True(t, r.release(second))
		assert.Zero(t, r.len())
	})

	t.Run("take removes the handle", func(t *testing.T) {
		r := newRegistry()
		exec, _ := newTestExecution("tok")
		r.add(exec)

		assert.Same(t, exec, r.take("tok"))
		assert.Nil(t, r.take("tok"))
	})

	t.Run("reap removes only finished handles", func(t *testing.T) {
		r := newRegistry()
		done, _ := newTestExecution("a")
		running, _ := newTestExecution("b")
		close(done.done)
		r.add(done)
		r.add(running)

		assert.Equal(t, 1, r.reap())
		assert.Equal(t, 1, r.len())
		assert.Same(t, running, r.take("b"))
	})

	t.Run("close drains and rejects", func(t *testing.T) {
		r := newRegistry()
		exec, ctx := newTestExecution("tok")
		r.add(exec)

		out := r.close()
		require.Len(t, out, 1)
		assert.True(t, r.isClosed())
		assert.Zero(t, r.len())
		assert.Nil(t, r.close())

		late, _ := newTestExecution("late")
		_, ok := r.add(late)
		assert.False(t, ok)

		out[0].cancel()
		assert.Error(t, ctx.Err())
	})
}

func TestProgressTracker(t *testing.T) {
	t.Parallel()
	plan := domain.ProgressPlan{
		{Stage: domain.StageAnalysis, Percentage: 20, Remaining: 0.8},
		{Stage: domain.StageAnalysis, Percentage: 70, Remaining: 0.3},
		{Stage: domain.StageCompletion, Percentage: 100},
	}
	tr := newProgressTracker(plan, 10)

	p, err := tr.advance()
	require.NoError(t, err)
	assert.Equal(t, 20, p.Percentage)
	assert.Equal(t, 8, p.EstimatedRemainingSeconds)

	p, err = tr.final()
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percentage)
	assert.Equal(t, domain.StageCompletion, p.Stage)
	assert.Zero(t, p.EstimatedRemainingSeconds)

	_, err = tr.advance()
	assert.Error(t, err, "plan is exhausted")
}

func TestProgressTracker_RejectsRegression(t *testing.T) {
	t.Parallel()
	plan := domain.ProgressPlan{{Percentage: 80}, {Percentage: 30}}
	tr := newProgressTracker(plan, 0)

	_, err := tr.advance()
	require.NoError(t, err)
	_, err = tr.advance()
	assert.ErrorContains(t, err, "regress")
}
