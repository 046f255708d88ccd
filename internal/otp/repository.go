package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/hamsafar/dispatch/pkg/models"
)

// ErrDuplicateActiveCode is returned when a concurrent request already
// inserted a live code for the same phone. Callers may retry once.
var ErrDuplicateActiveCode = errors.New("active code already exists for phone")

// Repository persists login codes, issuance counters and lockout state.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new otp repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateExclusive replaces any unverified code for the phone with a fresh one
// in a single transaction. The partial unique index on (phone) WHERE NOT
// verified backstops concurrent issuers; losers get ErrDuplicateActiveCode.
func (r *Repository) CreateExclusive(ctx context.Context, o *models.OTP) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin otp tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM otps WHERE phone = $1 AND NOT verified`, o.Phone); err != nil {
		return fmt.Errorf("failed to clear previous codes: %w", err)
	}

	query := `
		INSERT INTO otps (id, phone, code_hash, expires_at, verified, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		o.ID, o.Phone, o.CodeHash, o.ExpiresAt, o.Verified, o.DeliveryStatus,
	).Scan(&o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActiveCode
		}
		return fmt.Errorf("failed to create otp: %w", err)
	}

	return tx.Commit(ctx)
}

// GetActive returns the single unverified code for the phone, or nil when
// none exists.
func (r *Repository) GetActive(ctx context.Context, phone string) (*models.OTP, error) {
	query := `
		SELECT id, phone, code_hash, expires_at, verified, delivery_status, message_id, created_at
		FROM otps
		WHERE phone = $1 AND NOT verified
	`

	var o models.OTP
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&o.ID, &o.Phone, &o.CodeHash, &o.ExpiresAt, &o.Verified,
		&o.DeliveryStatus, &o.MessageID, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active otp: %w", err)
	}

	return &o, nil
}

// MarkVerified flips the code to verified. Returns false when the row was
// already consumed by a concurrent verification.
func (r *Repository) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE otps SET verified = TRUE WHERE id = $1 AND NOT verified`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark otp verified: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CountRecentRequests sums issuance counters for the phone since the cutoff.
func (r *Repository) CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(count), 0)
		FROM otp_requests
		WHERE phone = $1 AND window_start > $2
	`

	var count int
	if err := r.db.QueryRow(ctx, query, phone, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count otp requests: %w", err)
	}

	return count, nil
}

// IncrementRequests bumps the issuance counter for the phone's current
// window bucket.
func (r *Repository) IncrementRequests(ctx context.Context, phone string, windowStart time.Time) error {
	query := `
		INSERT INTO otp_requests (phone, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (phone, window_start) DO UPDATE SET count = otp_requests.count + 1
	`

	if _, err := r.db.Exec(ctx, query, phone, windowStart); err != nil {
		return fmt.Errorf("failed to increment otp requests: %w", err)
	}

	return nil
}

// GetLock returns the lockout row for the phone, or nil when none exists.
func (r *Repository) GetLock(ctx context.Context, phone string) (*models.OTPLock, error) {
	query := `SELECT phone, failed_attempts, locked_until, updated_at FROM otp_locks WHERE phone = $1`

	var l models.OTPLock
	err := r.db.QueryRow(ctx, query, phone).Scan(&l.Phone, &l.FailedAttempts, &l.LockedUntil, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp lock: %w", err)
	}

	return &l, nil
}

// RecordFailure increments the failed-attempt counter and, once the counter
// reaches the threshold, stamps locked_until. The upsert keeps the check and
// the bump atomic under concurrent verifications.
func (r *Repository) RecordFailure(ctx context.Context, phone string, threshold int, lockedUntil time.Time) (*models.OTPLock, error) {
	query := `
		INSERT INTO otp_locks (phone, failed_attempts, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (phone) DO UPDATE SET
			failed_attempts = otp_locks.failed_attempts + 1,
			locked_until = CASE
				WHEN otp_locks.failed_attempts + 1 >= $2 THEN $3
				ELSE otp_locks.locked_until
			END,
			updated_at = NOW()
		RETURNING phone, failed_attempts, locked_until, updated_at
	`

	var l models.OTPLock
	err := r.db.QueryRow(ctx, query, phone, threshold, lockedUntil).Scan(
		&l.Phone, &l.FailedAttempts, &l.LockedUntil, &l.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record otp failure: %w", err)
	}

	return &l, nil
}

// ResetLock clears the lockout row after a successful verification.
func (r *Repository) ResetLock(ctx context.Context, phone string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM otp_locks WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("failed to reset otp lock: %w", err)
	}

	return nil
}

// DeleteOlderThan removes codes and issuance counters older than the cutoff.
// Returns the number of codes removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM otps WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep otps: %w", err)
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM otp_requests WHERE window_start < $1`, cutoff); err != nil {
		return tag.RowsAffected(), fmt.Errorf("failed to sweep otp requests: %w", err)
	}

	return tag.RowsAffected(), nil
}
