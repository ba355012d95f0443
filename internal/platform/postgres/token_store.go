package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/assay-api/internal/domain"
	"github.com/phrazzld/assay-api/internal/platform/logger"
	"github.com/phrazzld/assay-api/internal/store"
)

const selectColumns = `
	token, owner_id, status, progress, result, error, retry_count,
	input_filename, input_content_type, input_data,
	created_at, updated_at, expires_at, processing_start_time, processing_end_time`

// PostgresTokenStore implements store.TokenStore using PostgreSQL.
type PostgresTokenStore struct {
	db     *sql.DB
	clock  store.Clock
	logger *slog.Logger
}

// maxCreateAttempts bounds how often Create re-mints a colliding token.
const maxCreateAttempts = 3

// NewPostgresTokenStore creates a new PostgresTokenStore. A nil clock uses
// store.SystemClock.
func NewPostgresTokenStore(db *sql.DB, clock store.Clock, log *slog.Logger) *PostgresTokenStore {
	if clock == nil {
		clock = store.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresTokenStore{
		db:     db,
		clock:  clock,
		logger: log.With(slog.String("component", "postgres_token_store")),
	}
}

var _ store.TokenStore = (*PostgresTokenStore)(nil)

// Create implements store.TokenStore.
func (s *PostgresTokenStore) Create(
	ctx context.Context,
	ownerID string,
	input domain.Artifact,
	ttl time.Duration,
) (*domain.TokenRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO tokens (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	var err error
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		var rec *domain.TokenRecord
		rec, err = domain.NewTokenRecord(uuid.NewString(), ownerID, input, ttl, s.clock())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}

		var row *tokenRow
		row, err = encodeRecord(rec)
		if err != nil {
			return nil, err
		}

		_, err = s.db.ExecContext(ctx, query, row.args()...)
		if err == nil {
			log.Debug("token created",
				slog.String("token", rec.Token),
				slog.Time("expires_at", rec.ExpiresAt))
			return rec, nil
		}
		if !IsUniqueViolation(err) {
			break
		}
		log.Warn("token collision, minting a new token",
			slog.String("token", rec.Token),
			slog.Int("attempt", attempt))
	}

	log.Error("failed to insert token", slog.String("error", err.Error()))
	return nil, MapError("create", err)
}

// Get implements store.TokenStore.
func (s *PostgresTokenStore) Get(ctx context.Context, token string) (*domain.TokenRecord, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, store.ErrTokenNotFound
	}
	rec, err := s.getRecord(ctx, s.db, token, false)
	if err != nil {
		return nil, MapError("get", err)
	}
	return rec, nil
}

// Update implements store.TokenStore. The row is locked with SELECT ... FOR
// UPDATE so concurrent writers serialize on the state machine check.
func (s *PostgresTokenStore) Update(ctx context.Context, token string, u domain.TokenUpdate) error {
	return s.mutate(ctx, "update", token, func(rec *domain.TokenRecord) error {
		if err := u.Apply(rec, s.clock()); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUpdateFailed, err)
		}
		return nil
	})
}

// IncrementRetry implements store.TokenStore.
func (s *PostgresTokenStore) IncrementRetry(ctx context.Context, token string, maxRetries int, now time.Time) (int, error) {
	var count int
	err := s.mutate(ctx, "increment_retry", token, func(rec *domain.TokenRecord) error {
		if !rec.ClaimRetry(maxRetries, now) {
			return store.ErrRetryNotAllowed
		}
		count = rec.RetryCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteExpired implements store.TokenStore.
func (s *PostgresTokenStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	query := `
		DELETE FROM tokens
		WHERE token IN (
			SELECT token FROM tokens
			WHERE expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`
	result, err := s.db.ExecContext(ctx, query, now.UTC(), limit)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete expired tokens",
			slog.String("error", err.Error()))
		return 0, MapError("delete_expired", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close implements store.TokenStore.
func (s *PostgresTokenStore) Close() error {
	return s.db.Close()
}

// mutate loads the row under a lock, lets fn change it and writes it back in
// the same transaction.
func (s *PostgresTokenStore) mutate(
	ctx context.Context,
	op string,
	token string,
	fn func(rec *domain.TokenRecord) error,
) error {
	if _, err := uuid.Parse(token); err != nil {
		return store.ErrTokenNotFound
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.getRecord(ctx, tx, token, true)
		if err != nil {
			return MapError(op, err)
		}
		if err := fn(rec); err != nil {
			return err
		}

		row, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		query := `
			UPDATE tokens
			SET status = $1, progress = $2, result = $3, error = $4, retry_count = $5,
				updated_at = $6, processing_start_time = $7, processing_end_time = $8
			WHERE token = $9
		`
		result, err := tx.ExecContext(ctx, query,
			row.Status, string(row.Progress), nullableJSON(row.Result), nullableJSON(row.Error), row.RetryCount,
			row.UpdatedAt, row.ProcessingStartTime, row.ProcessingEndTime,
			row.Token,
		)
		if err != nil {
			return MapError(op, err)
		}
		return CheckRowsAffected(result)
	})
	if err != nil && !errors.Is(err, store.ErrUpdateFailed) && !errors.Is(err, store.ErrRetryNotAllowed) &&
		!errors.Is(err, store.ErrNotFound) {
		logger.FromContextOrDefault(ctx, s.logger).Error("token write failed",
			slog.String("operation", op),
			slog.String("token", token),
			slog.String("error", err.Error()))
	}
	return err
}

func (s *PostgresTokenStore) getRecord(
	ctx context.Context,
	q store.DBTX,
	token string,
	forUpdate bool,
) (*domain.TokenRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM tokens WHERE token = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row tokenRow
	err := q.QueryRowContext(ctx, query, token).Scan(row.dest()...)
	if err != nil {
		return nil, err
	}
	return row.decode()
}

// tokenRow is the column-level representation of a token record.
type tokenRow struct {
	Token               string
	OwnerID             string
	Status              string
	Progress            []byte
	Result              []byte
	Error               []byte
	RetryCount          int
	InputFilename       string
	InputContentType    string
	InputData           []byte
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           time.Time
	ProcessingStartTime sql.NullTime
	ProcessingEndTime   sql.NullTime
}

func (r *tokenRow) dest() []any {
	return []any{
		&r.Token, &r.OwnerID, &r.Status, &r.Progress, &r.Result, &r.Error, &r.RetryCount,
		&r.InputFilename, &r.InputContentType, &r.InputData,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt, &r.ProcessingStartTime, &r.ProcessingEndTime,
	}
}

func (r *tokenRow) args() []any {
	return []any{
		r.Token, r.OwnerID, r.Status, string(r.Progress), nullableJSON(r.Result), nullableJSON(r.Error), r.RetryCount,
		r.InputFilename, r.InputContentType, r.InputData,
		r.CreatedAt, r.UpdatedAt, r.ExpiresAt, r.ProcessingStartTime, r.ProcessingEndTime,
	}
}

func encodeRecord(rec *domain.TokenRecord) (*tokenRow, error) {
	progress, err := json.Marshal(rec.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}

	row := &tokenRow{
		Token:            rec.Token,
		OwnerID:          rec.OwnerID,
		Status:           string(rec.Status),
		Progress:         progress,
		RetryCount:       rec.RetryCount,
		InputFilename:    rec.Input.Filename,
		InputContentType: rec.Input.ContentType,
		InputData:        rec.Input.Data,
		CreatedAt:        rec.CreatedAt.UTC(),
		UpdatedAt:        rec.UpdatedAt.UTC(),
		ExpiresAt:        rec.ExpiresAt.UTC(),
	}
	if row.InputData == nil {
		row.InputData = []byte{}
	}
	if len(rec.Result) > 0 {
		row.Result = rec.Result
	}
	if rec.Error != nil {
		if row.Error, err = json.Marshal(rec.Error); err != nil {
			return nil, fmt.Errorf("failed to encode processing error: %w", err)
		}
	}
	if rec.ProcessingStartTime != nil {
		row.ProcessingStartTime = sql.NullTime{Time: rec.ProcessingStartTime.UTC(), Valid: true}
	}
	if rec.ProcessingEndTime != nil {
		row.ProcessingEndTime = sql.NullTime{Time: rec.ProcessingEndTime.UTC(), Valid: true}
	}
	return row, nil
}

func (r *tokenRow) decode() (*domain.TokenRecord, error) {
	rec := &domain.TokenRecord{
		Token:      r.Token,
		OwnerID:    r.OwnerID,
		Status:     domain.TokenStatus(r.Status),
		RetryCount: r.RetryCount,
		Input: domain.Artifact{
			Filename:    r.InputFilename,
			ContentType: r.InputContentType,
			Data:        r.InputData,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
	}
	if err := json.Unmarshal(r.Progress, &rec.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if len(r.Result) > 0 {
		rec.Result = append(domain.Result(nil), r.Result...)
	}
	if len(r.Error) > 0 {
		rec.Error = &domain.ProcessingError{}
		if err := json.Unmarshal(r.Error, rec.Error); err != nil {
			return nil, fmt.Errorf("failed to decode processing error: %w", err)
		}
	}
	if r.ProcessingStartTime.Valid {
		rec.ProcessingStartTime = domain.TimePtr(r.ProcessingStartTime.Time)
	}
	if r.ProcessingEndTime.Valid {
		rec.ProcessingEndTime = domain.TimePtr(r.ProcessingEndTime.Time)
	}
	return rec, nil
}

// nullableJSON turns an empty document into SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
