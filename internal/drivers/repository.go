package drivers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamsafar/dispatch/pkg/models"
)

// ErrPhoneTaken is returned when driver registration hits an existing account.
var ErrPhoneTaken = errors.New("phone already registered")

const driverColumns = `
	id, user_id, status, vehicle_type, plate_number, city, province,
	base_fare, per_km_rate, rating, acceptance_rate, credit_balance,
	credit_expires_at, stripe_account_id, last_accepted_at, is_flagged,
	created_at, updated_at
`

// Repository handles driver persistence.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new drivers repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanDriver(row pgx.Row) (*models.Driver, error) {
	var d models.Driver
	err := row.Scan(
		&d.ID, &d.UserID, &d.Status, &d.VehicleType, &d.PlateNumber, &d.City, &d.Province,
		&d.BaseFare, &d.PerKmRate, &d.Rating, &d.AcceptanceRate, &d.CreditBalance,
		&d.CreditExpiresAt, &d.StripeAccountID, &d.LastAcceptedAt, &d.IsFlagged,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateWithUser inserts the driver-role account and its driver row in one
// transaction.
func (r *Repository) CreateWithUser(ctx context.Context, user *models.User, driver *models.Driver) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin driver tx: %w", err)
	}
	defer tx.Rollback(ctx)

	userQuery := `
		INSERT INTO users (id, phone, role, name, email, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, userQuery,
		user.ID, user.Phone, user.Role, user.Name, user.Email, user.IsActive,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPhoneTaken
		}
		return fmt.Errorf("failed to create driver account: %w", err)
	}

	driverQuery := `
		INSERT INTO drivers (id, user_id, status, vehicle_type, plate_number, city, province,
		                     base_fare, per_km_rate, rating, acceptance_rate, credit_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, driverQuery,
		driver.ID, driver.UserID, driver.Status, driver.VehicleType, driver.PlateNumber,
		driver.City, driver.Province, driver.BaseFare, driver.PerKmRate,
		driver.Rating, driver.AcceptanceRate, driver.CreditBalance,
	).Scan(&driver.CreatedAt, &driver.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create driver row: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a driver by driver id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	query := fmt.Sprintf(`SELECT %s FROM drivers WHERE id = $1`, driverColumns)

	d, err := scanDriver(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}

	return d, nil
}

// GetByUserID retrieves a driver by account id.
func (r *Repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error) {
	query := fmt.Sprintf(`SELECT %s FROM drivers WHERE user_id = $1`, driverColumns)

	d, err := scanDriver(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver by user: %w", err)
	}

	return d, nil
}

// TransitionStatus moves the driver between availability states. The CAS on
// the previous status keeps concurrent dispatch and self-service updates
// from clobbering each other. Returns false when the driver was not in the
// expected state.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.DriverStatus) (bool, error) {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	tag, err := r.db.Exec(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition driver status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ForceStatus sets the status unconditionally. Admin suspensions bypass the
// CAS: a busy driver can still be suspended.
func (r *Repository) ForceStatus(ctx context.Context, id uuid.UUID, to models.DriverStatus) error {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3`

	tag, err := r.db.Exec(ctx, query, to, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set driver status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}

// UpdateProfile updates the driver's vehicle and pricing fields.
func (r *Repository) UpdateProfile(ctx context.Context, d *models.Driver) error {
	query := `
		UPDATE drivers
		SET vehicle_type = $1, plate_number = $2, city = $3, province = $4,
		    base_fare = $5, per_km_rate = $6, updated_at = $7
		WHERE id = $8
	`

	_, err := r.db.Exec(ctx, query,
		d.VehicleType, d.PlateNumber, d.City, d.Province,
		d.BaseFare, d.PerKmRate, time.Now(), d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update driver profile: %w", err)
	}

	return nil
}

// SetFlagged sets or clears the anomaly flag.
func (r *Repository) SetFlagged(ctx context.Context, id uuid.UUID, flagged bool) error {
	query := `UPDATE drivers SET is_flagged = $1, updated_at = $2 WHERE id = $3`

	if _, err := r.db.Exec(ctx, query, flagged, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set driver flag: %w", err)
	}

	return nil
}

// RecomputeAcceptanceRate recalculates the rolling acceptance rate over the
// driver's last 50 terminal offers and stores it on the driver row.
func (r *Repository) RecomputeAcceptanceRate(ctx context.Context, id uuid.UUID) (float64, error) {
	query := `
		UPDATE drivers SET acceptance_rate = COALESCE((
			SELECT AVG(CASE WHEN status = 'ACCEPTED' THEN 1.0 ELSE 0.0 END)
			FROM (
				SELECT status FROM trip_offers
				WHERE driver_id = $1 AND status IN ('ACCEPTED', 'REJECTED', 'EXPIRED')
				ORDER BY created_at DESC
				LIMIT 50
			) recent
		), 0), updated_at = $2
		WHERE id = $1
		RETURNING acceptance_rate
	`

	var rate float64
	if err := r.db.QueryRow(ctx, query, id, time.Now()).Scan(&rate); err != nil {
		return 0, fmt.Errorf("failed to recompute acceptance rate: %w", err)
	}

	return rate, nil
}

// TouchLastAccepted stamps the driver's last accepted offer time, used as a
// dispatch tie-breaker.
func (r *Repository) TouchLastAccepted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE drivers SET last_accepted_at = $1, updated_at = $1 WHERE id = $2`

	if _, err := r.db.Exec(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to touch last accepted: %w", err)
	}

	return nil
}

// ListFlagged returns drivers with open anomaly flags, newest first.
func (r *Repository) ListFlagged(ctx context.Context) ([]*models.Driver, error) {
	query := fmt.Sprintf(`SELECT %s FROM drivers WHERE is_flagged ORDER BY updated_at DESC`, driverColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged drivers: %w", err)
	}
	defer rows.Close()

	var drivers []*models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		drivers = append(drivers, d)
	}

	return drivers, rows.Err()
}
