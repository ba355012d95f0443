// Package storetest provides the behavioural test suite shared by every
// store.TokenStore implementation.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds an empty store whose notion of "now" is clock.
type Factory func(t *testing.T, clock store.Clock) store.TokenStore

// SampleArtifact is a small text artifact used throughout the suite.
func SampleArtifact() domain.Artifact {
	return domain.Artifact{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte("hello assay\nsecond line"),
	}
}

// RunTokenStoreSuite runs the shared contract tests against newStore.
func RunTokenStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	setup := func(t *testing.T) (store.TokenStore, *FakeClock) {
		clock := NewFakeClock(time.Now())
		s := newStore(t, clock.Now)
		t.Cleanup(func() { _ = s.Close() })
		return s, clock
	}

	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s, clock := setup(t)

		rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
		require.NoError(t, err)

		_, err = uuid.Parse(rec.Token)
		assert.NoError(t, err, "token should be a UUID")
		assert.Equal(t, domain.TokenStatusUploaded, rec.Status)
		assert.Equal(t, domain.StageUpload, rec.Progress.Stage)
		assert.True(t, clock.Now().Equal(rec.CreatedAt))
		assert.True(t, clock.Now().Add(10*time.Minute).Equal(rec.ExpiresAt))

		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, rec.Token, got.Token)
		assert.Equal(t, "owner-1", got.OwnerID)
		assert.Equal(t, domain.TokenStatusUploaded, got.Status)
		assert.Equal(t, SampleArtifact(), got.Input)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		assert.Nil(t, got.Result)
		assert.Nil(t, got.Error)
		assert.Equal(t, 0, got.RetryCount)
	})

	t.Run("CreateRejectsEmptyOwner", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Create(ctx, "", SampleArtifact(), time.Minute)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("CreateZeroTTLIsExpired", func(t *testing.T) {
		s, clock := setup(t)

		rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 0)
		require.NoError(t, err)
		assert.True(t, rec.ExpiresAt.After(rec.CreatedAt))
		assert.True(t, rec.IsExpired(clock.Now()))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s, _ := setup(t)

		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrTokenNotFound)
	})

	t.Run("UpdateProgressAndComplete", func(t *testing.T) {
		s, clock := setup(t)
		rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
		require.NoError(t, err)

		clock.Advance(time.Second)
		start := clock.Now()
		progress := domain.DefaultProgressPlan().Step(0, 30)
		require.NoError(t, s.Update(ctx, rec.Token, domain.TokenUpdate{
			Status:              domain.StatusPtr(domain.TokenStatusProcessing),
			Progress:            &progress,
			ProcessingStartTime: domain.TimePtr(start),
		}))

		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenStatusProcessing, got.Status)
		assert.Equal(t, progress, got.Progress)
		assert.True(t, got.UpdatedAt.Equal(start))
		require.NotNil(t, got.ProcessingStartTime)
		assert.True(t, got.ProcessingStartTime.Equal(start))

		clock.Advance(time.Second)
		final := domain.DefaultProgressPlan().Step(1, 30)
		result := json.RawMessage(`{"size":23,"kind":"text"}`)
		require.NoError(t, s.Update(ctx, rec.Token, domain.TokenUpdate{
			Status:            domain.StatusPtr(domain.TokenStatusCompleted),
			Progress:          &final,
			Result:            result,
			ProcessingEndTime: domain.TimePtr(clock.Now()),
		}))

		got, err = s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenStatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress.Percentage)
		assert.JSONEq(t, string(result), string(got.Result))
		assert.Nil(t, got.Error)
		require.NotNil(t, got.ProcessingEndTime)
	})

	t.Run("UpdateFailedCarriesError", func(t *testing.T) {
		s, _ := setup(t)
		rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
		require.NoError(t, err)

		procErr := &domain.ProcessingError{
			Code:    domain.ErrorCodeProcessingFailed,
			Message: "analysis failed",
			Details: map[string]any{"retryable": true},
		}
		require.NoError(t, s.Update(ctx, rec.Token, domain.TokenUpdate{
			Status: domain.StatusPtr(domain.TokenStatusFailed),
			Error:  procErr,
		}))

		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, domain.ErrorCodeProcessingFailed, got.Error.Code)
		assert.Equal(t, "analysis failed", got.Error.Message)
		assert.Equal(t, true, got.Error.Details["retryable"])
	})

	t.Run("UpdateRejectsInvalidTransition", func(t *testing.T) {
		s, _ := setup(t)
		rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
		require.NoError(t, err)

		err = s.Update(ctx, rec.Token, domain.TokenUpdate{
			Status: domain.StatusPtr(domain.TokenStatusCompleted),
			Result: json.RawMessage(`{}`),
		})
		assert.ErrorIs(t, err, store.ErrUpdateFailed)

		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenStatusUploaded, got.Status)
	})

	t.Run("UpdateRejectsWritesAfterTerminal", func(t *testing.T) {
		s, _ := setup(t)
		rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, rec.Token, domain.TokenUpdate{
			Status: domain.StatusPtr(domain.TokenStatusFailed),
			Error:  &domain.ProcessingError{Code: domain.ErrorCodeProcessingCancelled, Message: "cancelled"},
		}))

		late := domain.Progress{Stage: domain.StageCompletion, Percentage: 100}
		err = s.Update(ctx, rec.Token, domain.TokenUpdate{
			Status:   domain.StatusPtr(domain.TokenStatusCompleted),
			Progress: &late,
			Result:   json.RawMessage(`{"late":true}`),
		})
		assert.ErrorIs(t, err, store.ErrUpdateFailed)

		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenStatusFailed, got.Status)
		assert.Equal(t, domain.ErrorCodeProcessingCancelled, got.Error.Code)
		assert.Nil(t, got.Result)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s, _ := setup(t)

		err := s.Update(ctx, uuid.NewString(), domain.TokenUpdate{
			Status: domain.StatusPtr(domain.TokenStatusProcessing),
		})
		assert.ErrorIs(t, err, store.ErrTokenNotFound)
	})

	t.Run("IncrementRetry", func(t *testing.T) {
		s, clock := setup(t)
		rec := createFailed(t, s)

		clock.Advance(time.Second)
		count, err := s.IncrementRetry(ctx, rec.Token, 3, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.TokenStatusProcessing, got.Status)
		assert.Equal(t, domain.StageAnalysis, got.Progress.Stage)
		assert.Equal(t, 0, got.Progress.Percentage)
		assert.Equal(t, 1, got.RetryCount)
		assert.Nil(t, got.Error)
		assert.Nil(t, got.Result)
		assert.True(t, got.UpdatedAt.Equal(clock.Now()))
		assert.Equal(t, SampleArtifact(), got.Input)
	})

	t.Run("IncrementRetryPreconditions", func(t *testing.T) {
		s, clock := setup(t)

		uploaded, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
		require.NoError(t, err)
		_, err = s.IncrementRetry(ctx, uploaded.Token, 3, clock.Now())
		assert.ErrorIs(t, err, store.ErrRetryNotAllowed)

		exhausted := createFailed(t, s)
		_, err = s.IncrementRetry(ctx, exhausted.Token, 0, clock.Now())
		assert.ErrorIs(t, err, store.ErrRetryNotAllowed)

		expired := createFailed(t, s)
		_, err = s.IncrementRetry(ctx, expired.Token, 3, clock.Now().Add(time.Hour))
		assert.ErrorIs(t, err, store.ErrRetryNotAllowed)

		_, err = s.IncrementRetry(ctx, uuid.NewString(), 3, clock.Now())
		assert.ErrorIs(t, err, store.ErrTokenNotFound)
	})

	t.Run("IncrementRetryIsAtomic", func(t *testing.T) {
		s, clock := setup(t)
		rec := createFailed(t, s)

		const claimants = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for range claimants {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.IncrementRetry(ctx, rec.Token, 3, clock.Now()); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes, "only one concurrent retry may claim a failed token")
		got, err := s.Get(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("DeleteExpiredInBatches", func(t *testing.T) {
		s, clock := setup(t)

		var short, long []string
		for range 5 {
			rec, err := s.Create(ctx, "owner-1", SampleArtifact(), time.Minute)
			require.NoError(t, err)
			short = append(short, rec.Token)
		}
		for range 2 {
			rec, err := s.Create(ctx, "owner-1", SampleArtifact(), time.Hour)
			require.NoError(t, err)
			long = append(long, rec.Token)
		}

		n, err := s.DeleteExpired(ctx, clock.Now(), 10)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "nothing has expired yet")

		clock.Advance(2 * time.Minute)
		now := clock.Now()

		n, err = s.DeleteExpired(ctx, now, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.DeleteExpired(ctx, now, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.DeleteExpired(ctx, now, 3)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		for _, token := range short {
			_, err := s.Get(ctx, token)
			assert.ErrorIs(t, err, store.ErrTokenNotFound)
		}
		for _, token := range long {
			_, err := s.Get(ctx, token)
			assert.NoError(t, err)
		}
	})
}

func createFailed(t *testing.T, s store.TokenStore) *domain.TokenRecord {
	t.Helper()
	ctx := context.Background()

	rec, err := s.Create(ctx, "owner-1", SampleArtifact(), 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, rec.Token, domain.TokenUpdate{
		Status: domain.StatusPtr(domain.TokenStatusProcessing),
	}))
	require.NoError(t, s.Update(ctx, rec.Token, domain.TokenUpdate{
		Status: domain.StatusPtr(domain.TokenStatusFailed),
		Error:  &domain.ProcessingError{Code: domain.ErrorCodeProcessingFailed, Message: "boom"},
	}))
	return rec
}
