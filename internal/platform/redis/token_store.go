package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// maxWatchAttempts bounds optimistic transaction retries under contention.
const maxWatchAttempts = 16

// sweepScript removes up to ARGV[2] tokens whose expiry score is below
// ARGV[1], deleting both the hash and its index entry atomically.
var sweepScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[3] .. id)
	redis.call('ZREM', KEYS[1], id)
end
return #ids
`)

// TokenStore implements store.TokenStore on Redis.
type TokenStore struct {
	client *goredis.Client
	prefix string
	clock  store.Clock
	logger *slog.Logger
}

// NewTokenStore uses client with every key under prefix. A nil clock uses
// store.SystemClock.
func NewTokenStore(client *goredis.Client, prefix string, clock store.Clock, log *slog.Logger) *TokenStore {
	if clock == nil {
		clock = store.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &TokenStore{
		client: client,
		prefix: prefix,
		clock:  clock,
		logger: log.With(slog.String("component", "redis_token_store")),
	}
}

var _ store.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) tokenKeyPrefix() string { return s.prefix + ":token:" }
func (s *TokenStore) tokenKey(token string) string {
	return s.tokenKeyPrefix() + token
}
func (s *TokenStore) expiryIndexKey() string { return s.prefix + ":tokens:expiry" }

// Create implements store.TokenStore.
func (s *TokenStore) Create(
	ctx context.Context,
	ownerID string,
	input domain.Artifact,
	ttl time.Duration,
) (*domain.TokenRecord, error) {
	rec, err := domain.NewTokenRecord(uuid.NewString(), ownerID, input, ttl, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	fields, err := encode(rec)
	if err != nil {
		return nil, err
	}

	key := s.tokenKey(rec.Token)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.PExpireAt(ctx, key, rec.ExpiresAt)
		pipe.ZAdd(ctx, s.expiryIndexKey(), goredis.Z{
			Score:  float64(rec.ExpiresAt.UnixMicro()),
			Member: rec.Token,
		})
		return nil
	})
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create token",
			slog.String("token", rec.Token),
			slog.String("error", err.Error()))
		return nil, store.Unavailable("create", err)
	}
	return rec, nil
}

// Get implements store.TokenStore.
func (s *TokenStore) Get(ctx context.Context, token string) (*domain.TokenRecord, error) {
	m, err := s.client.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return nil, store.Unavailable("get", err)
	}
	if len(m) == 0 {
		return nil, store.ErrTokenNotFound
	}
	return decode(token, m)
}

// Update implements store.TokenStore.
func (s *TokenStore) Update(ctx context.Context, token string, u domain.TokenUpdate) error {
	return s.mutate(ctx, "update", token, func(rec *domain.TokenRecord) error {
		if err := u.Apply(rec, s.clock()); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUpdateFailed, err)
		}
		return nil
	})
}

// IncrementRetry implements store.TokenStore.
func (s *TokenStore) IncrementRetry(ctx context.Context, token string, maxRetries int, now time.Time) (int, error) {
	var count int
	err := s.mutate(ctx, "increment_retry", token, func(rec *domain.TokenRecord) error {
		if !rec.ClaimRetry(maxRetries, now) {
			return store.ErrRetryNotAllowed
		}
		count = rec.RetryCount
		return nil
	})
	return count, err
}

// DeleteExpired implements store.TokenStore. Hashes that Redis already
// expired natively still count, since their index entry is removed here.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	n, err := sweepScript.Run(ctx, s.client,
		[]string{s.expiryIndexKey()},
		strconv.FormatInt(now.UnixMicro(), 10), limit, s.tokenKeyPrefix(),
	).Int()
	if err != nil {
		return 0, store.Unavailable("delete_expired", err)
	}
	return n, nil
}

// Close implements store.TokenStore.
func (s *TokenStore) Close() error {
	return s.client.Close()
}

// mutate performs an optimistic read-modify-write on the token hash. The
// WATCH aborts the write when another client changed the hash in between,
// in which case the whole step is retried against the fresh state.
func (s *TokenStore) mutate(ctx context.Context, op, token string, fn func(*domain.TokenRecord) error) error {
	key := s.tokenKey(token)

	txf := func(tx *goredis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(m) == 0 {
			return store.ErrTokenNotFound
		}
		rec, err := decode(token, m)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		fields, err := encode(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			for _, f := range clearedFields(rec) {
				pipe.HDel(ctx, key, f)
			}
			return nil
		})
		return err
	}

	for range maxWatchAttempts {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, store.ErrTokenNotFound),
			errors.Is(err, store.ErrUpdateFailed),
			errors.Is(err, store.ErrRetryNotAllowed):
			return err
		default:
			logger.FromContextOrDefault(ctx, s.logger).Error("token write failed",
				slog.String("operation", op),
				slog.String("token", token),
				slog.String("error", err.Error()))
			return store.Unavailable(op, err)
		}
	}
	return store.NewStoreError("token", op, "too much contention", store.ErrTransactionFailed)
}
