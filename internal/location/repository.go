package location

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

// Repository persists the single last-known position row per driver.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new location repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get returns the driver's last stored position, or nil on first fix.
func (r *Repository) Get(ctx context.Context, driverID uuid.UUID) (*models.DriverLocation, error) {
	query := `
		SELECT driver_id, raw_lat, raw_lng, snapped_lat, snapped_lng,
		       bearing, deviation, anomaly_count, updated_at
		FROM driver_locations
		WHERE driver_id = $1
	`

	var loc models.DriverLocation
	err := r.db.QueryRow(ctx, query, driverID).Scan(
		&loc.DriverID, &loc.RawLat, &loc.RawLng, &loc.SnappedLat, &loc.SnappedLng,
		&loc.Bearing, &loc.Deviation, &loc.AnomalyCount, &loc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver location: %w", err)
	}

	return &loc, nil
}

// Upsert stores the accepted fix, replacing the previous row.
func (r *Repository) Upsert(ctx context.Context, loc *models.DriverLocation) error {
	query := `
		INSERT INTO driver_locations (driver_id, raw_lat, raw_lng, snapped_lat, snapped_lng,
		                              bearing, deviation, anomaly_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (driver_id) DO UPDATE SET
			raw_lat = $2, raw_lng = $3, snapped_lat = $4, snapped_lng = $5,
			bearing = $6, deviation = $7, anomaly_count = $8, updated_at = $9
	`

	loc.UpdatedAt = time.Now()
	_, err := r.db.Exec(ctx, query,
		loc.DriverID, loc.RawLat, loc.RawLng, loc.SnappedLat, loc.SnappedLng,
		loc.Bearing, loc.Deviation, loc.AnomalyCount, loc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert driver location: %w", err)
	}

	return nil
}

// IncrementAnomaly bumps the anomaly counter without touching the stored
// position (rejected fixes never propagate). Returns the new count.
func (r *Repository) IncrementAnomaly(ctx context.Context, driverID uuid.UUID) (int, error) {
	query := `
		INSERT INTO driver_locations (driver_id, anomaly_count, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (driver_id) DO UPDATE SET anomaly_count = driver_locations.anomaly_count + 1
		RETURNING anomaly_count
	`

	var count int
	if err := r.db.QueryRow(ctx, query, driverID, time.Now()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment anomaly count: %w", err)
	}

	return count, nil
}
