package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/models"
)

const tripColumns = `id, rider_id, driver_id, status, pickup_lat, pickup_lng,
	drop_lat, drop_lng, fare, commission, driver_earnings, distance_km,
	duration_min, service_type, payment_method, payment_status,
	booking_channel, scheduled_for, cancel_reason, created_at, updated_at`

// Repository handles trip database operations
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new trips repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	err := row.Scan(
		&t.ID, &t.RiderID, &t.DriverID, &t.Status, &t.PickupLat, &t.PickupLng,
		&t.DropLat, &t.DropLng, &t.Fare, &t.Commission, &t.DriverEarnings, &t.DistanceKm,
		&t.DurationMin, &t.ServiceType, &t.PaymentMethod, &t.PaymentStatus,
		&t.BookingChannel, &t.ScheduledFor, &t.CancelReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new trip in REQUESTED state along with its planned route
// polyline (used later for deviation checks).
func (r *Repository) Create(ctx context.Context, trip *models.Trip, polyline []geo.LatLng) error {
	route, err := json.Marshal(polyline)
	if err != nil {
		return fmt.Errorf("failed to encode route: %w", err)
	}

	query := `
		INSERT INTO trips (id, rider_id, status, pickup_lat, pickup_lng, drop_lat, drop_lng,
		                   fare, distance_km, duration_min, service_type, payment_method,
		                   payment_status, booking_channel, scheduled_for, route)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		trip.ID, trip.RiderID, trip.Status, trip.PickupLat, trip.PickupLng, trip.DropLat, trip.DropLng,
		trip.Fare, trip.DistanceKm, trip.DurationMin, trip.ServiceType, trip.PaymentMethod,
		trip.PaymentStatus, trip.BookingChannel, trip.ScheduledFor, route,
	).Scan(&trip.CreatedAt, &trip.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}

	return nil
}

// GetByID returns the trip, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`

	trip, err := scanTrip(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}

	return trip, nil
}

// Transition moves the trip from one status to another with a compare-and-set
// on the expected current status. Returns false when the guard did not match,
// which means another writer got there first.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to models.TripStatus, cancelReason *string) (bool, error) {
	query := `
		UPDATE trips
		SET status = $1, cancel_reason = COALESCE($2, cancel_reason), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	tag, err := r.db.Exec(ctx, query, to, cancelReason, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition trip: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ActiveTripForDriver returns the dispatch-relevant slice of the driver's
// current trip (ACCEPTED, ARRIVED or IN_PROGRESS), or nil when idle.
func (r *Repository) ActiveTripForDriver(ctx context.Context, driverID uuid.UUID) (*location.TripContext, error) {
	query := `
		SELECT id, rider_id, status, pickup_lat, pickup_lng, route
		FROM trips
		WHERE driver_id = $1 AND status IN ('ACCEPTED', 'ARRIVED', 'IN_PROGRESS')
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var (
		tc    location.TripContext
		route []byte
	)
	err := r.db.QueryRow(ctx, query, driverID).Scan(
		&tc.TripID, &tc.RiderID, &tc.Status, &tc.Pickup.Lat, &tc.Pickup.Lng, &route,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active trip: %w", err)
	}

	if len(route) > 0 {
		if err := json.Unmarshal(route, &tc.Polyline); err != nil {
			return nil, fmt.Errorf("failed to decode route: %w", err)
		}
	}

	return &tc, nil
}

// MarkPaymentCollected flips a completed cash trip from UNPAID to COLLECTED.
// Returns false when the trip is not in a collectable state.
func (r *Repository) MarkPaymentCollected(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE trips
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_method = $3 AND status = $4 AND payment_status = $5
	`

	tag, err := r.db.Exec(ctx, query,
		models.PaymentCollected, id, models.PaymentCash, models.TripCompleted, models.PaymentUnpaid,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment collected: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// RecordSOS appends an emergency audit row. The trip status is untouched.
func (r *Repository) RecordSOS(ctx context.Context, event *models.SOSEvent) error {
	query := `
		INSERT INTO sos_events (id, trip_id, triggered_by, role, lat, lng, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		event.ID, event.TripID, event.TriggeredBy, event.Role, event.Lat, event.Lng, event.Note,
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record sos event: %w", err)
	}

	return nil
}

// ListByRider returns the rider's trips, newest first.
func (r *Repository) ListByRider(ctx context.Context, riderID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE rider_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, query, riderID, limit, offset)
}

// ListByDriver returns the driver's trips, newest first.
func (r *Repository) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE driver_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, query, driverID, limit, offset)
}

func (r *Repository) list(ctx context.Context, query string, id uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	rows, err := r.db.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// ListDueScheduled returns REQUESTED trips whose scheduled time has passed and
// that the dispatcher has not touched yet.
func (r *Repository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips t
		WHERE status = $1
		  AND scheduled_for IS NOT NULL
		  AND scheduled_for <= $2
		  AND NOT EXISTS (SELECT 1 FROM trip_offers o WHERE o.trip_id = t.id)
		ORDER BY scheduled_for
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, models.TripRequested, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}
