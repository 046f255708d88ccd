package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamsafar/dispatch/pkg/models"
)

// Repository handles account lookups and admin TOTP enrollment state.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new auth repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetUserByPhone returns the account for the phone, or nil when none exists.
// Soft-deleted accounts are invisible.
func (r *Repository) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `
		SELECT id, phone, role, name, email, is_active, created_at, updated_at, deleted_at
		FROM users
		WHERE phone = $1 AND deleted_at IS NULL
	`

	var u models.User
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&u.ID, &u.Phone, &u.Role, &u.Name, &u.Email,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}

	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, phone, role, name, email, is_active, created_at, updated_at, deleted_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`

	var u models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Phone, &u.Role, &u.Name, &u.Email,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return &u, nil
}

// CreateUser inserts a new account. The unique index on phone resolves
// concurrent first logins; losers re-read by phone.
func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, phone, role, name, email, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Phone, u.Role, u.Name, u.Email, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: another request created the row first.
		existing, gerr := r.GetUserByPhone(ctx, u.Phone)
		if gerr != nil {
			return gerr
		}
		if existing == nil {
			return fmt.Errorf("failed to create user: conflict with no visible row")
		}
		*u = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetDriverByUserID returns the driver row for a driver-role user, or nil.
func (r *Repository) GetDriverByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error) {
	query := `
		SELECT id, user_id, status, vehicle_type, plate_number, city, province,
		       base_fare, per_km_rate, rating, acceptance_rate, credit_balance,
		       credit_expires_at, stripe_account_id, last_accepted_at, is_flagged,
		       created_at, updated_at
		FROM drivers
		WHERE user_id = $1
	`

	var d models.Driver
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&d.ID, &d.UserID, &d.Status, &d.VehicleType, &d.PlateNumber, &d.City, &d.Province,
		&d.BaseFare, &d.PerKmRate, &d.Rating, &d.AcceptanceRate, &d.CreditBalance,
		&d.CreditExpiresAt, &d.StripeAccountID, &d.LastAcceptedAt, &d.IsFlagged,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver by user id: %w", err)
	}

	return &d, nil
}

// GetTOTPSecret returns the stored TOTP secret and whether enrollment was
// activated. Empty secret means never enrolled.
func (r *Repository) GetTOTPSecret(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	query := `SELECT secret, activated FROM admin_totp_secrets WHERE user_id = $1`

	var secret string
	var activated bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&secret, &activated)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get totp secret: %w", err)
	}

	return secret, activated, nil
}

// SaveTOTPSecret stores a fresh, not-yet-activated secret. Re-enrolling
// replaces the previous secret.
func (r *Repository) SaveTOTPSecret(ctx context.Context, userID uuid.UUID, secret string) error {
	query := `
		INSERT INTO admin_totp_secrets (user_id, secret, activated, updated_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (user_id) DO UPDATE SET secret = $2, activated = FALSE, updated_at = $3
	`

	if _, err := r.db.Exec(ctx, query, userID, secret, time.Now()); err != nil {
		return fmt.Errorf("failed to save totp secret: %w", err)
	}

	return nil
}

// ActivateTOTP marks the enrollment as activated after the first valid code.
func (r *Repository) ActivateTOTP(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE admin_totp_secrets SET activated = TRUE, updated_at = $1 WHERE user_id = $2`

	if _, err := r.db.Exec(ctx, query, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to activate totp: %w", err)
	}

	return nil
}
