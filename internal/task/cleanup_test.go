package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/events"
	"github.com/phrazzld/assay-api/internal/platform/memory"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/phrazzld/assay-api/internal/store/storetest"
)

func completeTokens(t *testing.T, h *harness, n int) []string {
	t.Helper()
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = h.submit(t)
		waitForStatus(t, h.m, tokens[i], domain.TokenStatusCompleted)
	}
	return tokens
}

func TestManager_CleanupDeletesExpired(t *testing.T) {
	t.Parallel()
	h := newHarness(t, succeeding(), func(c *Config) { c.CleanupBatchLimit = 2 })
	completeTokens(t, h, 5)
	require.Eventually(t, func() bool { return h.m.Active() == 0 }, time.Second, time.Millisecond)

	n, err := h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing has expired yet")
	assert.Zero(t, h.recorder.Count(events.TokenExpiredSwept))

	h.clock.Advance(11 * time.Minute)
	n, err = h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Zero(t, h.store.Len())

	swept := h.recorder.Events()
	last := swept[len(swept)-1]
	assert.Equal(t, events.TokenExpiredSwept, last.Type)
	assert.Equal(t, 5, last.Count)
}

func TestManager_CleanupHonoursMaxBatches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, succeeding(), func(c *Config) {
		c.CleanupBatchLimit = 2
		c.CleanupMaxBatches = 1
	})
	completeTokens(t, h, 5)
	h.clock.Advance(11 * time.Minute)

	n, err := h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, h.store.Len())

	n, err = h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, h.store.Len())
}

func TestManager_CleanupKeepsUnexpired(t *testing.T) {
	t.Parallel()
	h := newHarness(t, succeeding(), nil)
	completeTokens(t, h, 2)
	h.clock.Advance(5 * time.Minute)
	fresh := completeTokens(t, h, 1)[0]
	h.clock.Advance(6 * time.Minute)

	n, err := h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := h.m.GetStatus(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenStatusCompleted, rec.Status)
}

// flakyStore fails DeleteExpired a fixed number of times.
type flakyStore struct {
	store.TokenStore
	failures atomic.Int32
}

func (s *flakyStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if s.failures.Add(-1) >= 0 {
		return 0, store.Unavailable("delete_expired", errors.New("connection reset"))
	}
	return s.TokenStore.DeleteExpired(ctx, now, limit)
}

func TestManager_CleanupSurvivesStoreErrors(t *testing.T) {
	t.Parallel()
	clock := storetest.NewFakeClock(time.Now())
	mem := memory.NewTokenStore(memory.WithClock(clock.Now))
	fs := &flakyStore{TokenStore: mem}
	fs.failures.Store(1)
	h := newHarnessWithStore(t, fs, mem, clock, succeeding(), nil)
	completeTokens(t, h, 1)
	h.clock.Advance(11 * time.Minute)

	_, err := h.m.Cleanup(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, 1, h.store.Len())

	n, err := h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_ScheduledCleanup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, succeeding(), func(c *Config) { c.CleanupInterval = time.Second })
	completeTokens(t, h, 2)
	h.clock.Advance(11 * time.Minute)

	require.NoError(t, h.m.Start())
	assert.Error(t, h.m.Start(), "second start is rejected")

	require.Eventually(t, func() bool { return h.store.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return h.recorder.Count(events.TokenExpiredSwept) >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.m.Shutdown(context.Background()))
}

func TestManager_CleanupReapsFinishedHandles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, succeeding(), nil)

	// A handle whose goroutine already returned but was never released.
	_, cancel := context.WithCancel(context.Background())
	stale := newExecution("stale-token", cancel)
	close(stale.done)
	_, ok := h.m.registry.add(stale)
	require.True(t, ok)
	require.Equal(t, 1, h.m.Active())

	_, err := h.m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.m.Active())
}
