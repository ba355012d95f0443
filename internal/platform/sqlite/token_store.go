package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/store"
)

const columns = `
	token, owner_id, status, progress, result, error, retry_count,
	input_filename, input_content_type, input_data,
	created_at, updated_at, expires_at, processing_start_time, processing_end_time`

// TokenStore implements store.TokenStore on SQLite.
type TokenStore struct {
	db     *sql.DB
	clock  store.Clock
	logger *slog.Logger
}

// NewTokenStore wraps an opened and migrated database. A nil clock uses
// store.SystemClock.
func NewTokenStore(db *sql.DB, clock store.Clock, log *slog.Logger) *TokenStore {
	if clock == nil {
		clock = store.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &TokenStore{
		db:     db,
		clock:  clock,
		logger: log.With(slog.String("component", "sqlite_token_store")),
	}
}

var _ store.TokenStore = (*TokenStore)(nil)

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
	row, err := encode(rec)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO tokens (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, row.args()...); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to insert token",
			slog.String("token", rec.Token),
			slog.String("error", err.Error()))
		return nil, store.Unavailable("create", err)
	}
	return rec, nil
}

// Get implements store.TokenStore.
func (s *TokenStore) Get(ctx context.Context, token string) (*domain.TokenRecord, error) {
	rec, err := s.get(ctx, s.db, token)
	if err != nil {
		return nil, mapError("get", err)
	}
	return rec, nil
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

// DeleteExpired implements store.TokenStore.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	query := `
		DELETE FROM tokens
		WHERE token IN (
			SELECT token FROM tokens WHERE expires_at < ? ORDER BY expires_at LIMIT ?
		)`
	result, err := s.db.ExecContext(ctx, query, now.UnixMicro(), limit)
	if err != nil {
		return 0, store.Unavailable("delete_expired", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close implements store.TokenStore.
func (s *TokenStore) Close() error {
	return s.db.Close()
}

func (s *TokenStore) mutate(ctx context.Context, op, token string, fn func(*domain.TokenRecord) error) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.get(ctx, tx, token)
		if err != nil {
			return mapError(op, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		row, err := encode(rec)
		if err != nil {
			return err
		}

		query := `
			UPDATE tokens
			SET status = ?, progress = ?, result = ?, error = ?, retry_count = ?,
				updated_at = ?, processing_start_time = ?, processing_end_time = ?
			WHERE token = ?`
		_, err = tx.ExecContext(ctx, query,
			row.status, row.progress, row.result, row.errJSON, row.retryCount,
			row.updatedAt, row.startTime, row.endTime, row.token)
		if err != nil {
			return store.Unavailable(op, err)
		}
		return nil
	})
}

func (s *TokenStore) get(ctx context.Context, q store.DBTX, token string) (*domain.TokenRecord, error) {
	var r row
	err := q.QueryRowContext(ctx, `SELECT `+columns+` FROM tokens WHERE token = ?`, token).Scan(r.dest()...)
	if err != nil {
		return nil, err
	}
	return r.decode()
}

type row struct {
	token, ownerID, status string
	progress               string
	result, errJSON        sql.NullString
	retryCount             int
	filename, contentType  string
	data                   []byte
	createdAt, updatedAt   int64
	expiresAt              int64
	startTime, endTime     sql.NullInt64
}

func (r *row) dest() []any {
	return []any{
		&r.token, &r.ownerID, &r.status, &r.progress, &r.result, &r.errJSON, &r.retryCount,
		&r.filename, &r.contentType, &r.data,
		&r.createdAt, &r.updatedAt, &r.expiresAt, &r.startTime, &r.endTime,
	}
}

func (r *row) args() []any {
	return []any{
		r.token, r.ownerID, r.status, r.progress, r.result, r.errJSON, r.retryCount,
		r.filename, r.contentType, r.data,
		r.createdAt, r.updatedAt, r.expiresAt, r.startTime, r.endTime,
	}
}

func encode(rec *domain.TokenRecord) (*row, error) {
	progress, err := json.Marshal(rec.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}
	r := &row{
		token:       rec.Token,
		ownerID:     rec.OwnerID,
		status:      string(rec.Status),
		progress:    string(progress),
		retryCount:  rec.RetryCount,
		filename:    rec.Input.Filename,
		contentType: rec.Input.ContentType,
		data:        rec.Input.Data,
		createdAt:   rec.CreatedAt.UnixMicro(),
		updatedAt:   rec.UpdatedAt.UnixMicro(),
		expiresAt:   rec.ExpiresAt.UnixMicro(),
	}
	if r.data == nil {
		r.data = []byte{}
	}
	if len(rec.Result) > 0 {
		r.result = sql.NullString{String: string(rec.Result), Valid: true}
	}
	if rec.Error != nil {
		b, err := json.Marshal(rec.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to encode processing error: %w", err)
		}
		r.errJSON = sql.NullString{String: string(b), Valid: true}
	}
	if rec.ProcessingStartTime != nil {
		r.startTime = sql.NullInt64{Int64: rec.ProcessingStartTime.UnixMicro(), Valid: true}
	}
	if rec.ProcessingEndTime != nil {
		r.endTime = sql.NullInt64{Int64: rec.ProcessingEndTime.UnixMicro(), Valid: true}
	}
	return r, nil
}

func (r *row) decode() (*domain.TokenRecord, error) {
	rec := &domain.TokenRecord{
		Token:      r.token,
		OwnerID:    r.ownerID,
		Status:     domain.TokenStatus(r.status),
		RetryCount: r.retryCount,
		Input:      domain.Artifact{Filename: r.filename, ContentType: r.contentType, Data: r.data},
		CreatedAt:  time.UnixMicro(r.createdAt).UTC(),
		UpdatedAt:  time.UnixMicro(r.updatedAt).UTC(),
		ExpiresAt:  time.UnixMicro(r.expiresAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.progress), &rec.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if r.result.Valid {
		rec.Result = domain.Result(r.result.String)
	}
	if r.errJSON.Valid {
		rec.Error = &domain.ProcessingError{}
		if err := json.Unmarshal([]byte(r.errJSON.String), rec.Error); err != nil {
			return nil, fmt.Errorf("failed to decode processing error: %w", err)
		}
	}
	if r.startTime.Valid {
		rec.ProcessingStartTime = domain.TimePtr(time.UnixMicro(r.startTime.Int64))
	}
	if r.endTime.Valid {
		rec.ProcessingEndTime = domain.TimePtr(time.UnixMicro(r.endTime.Int64))
	}
	return rec, nil
}
