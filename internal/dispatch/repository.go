package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/models"
)

var (
	// ErrOfferRace is returned when another PENDING offer already exists
	// for the trip (partial unique index).
	ErrOfferRace = errors.New("trip already has a pending offer")

	// ErrOfferNotPending is returned when the accept CAS finds the offer
	// already resolved or expired.
	ErrOfferNotPending = errors.New("offer is not pending")

	// ErrTripNotRequested is returned when the trip CAS finds the trip
	// already taken or cancelled.
	ErrTripNotRequested = errors.New("trip is not requested")
)

const offerColumns = `id, trip_id, driver_id, score, eta_min, status, created_at, expires_at, responded_at`

// Candidate is an online driver with a known position.
type Candidate struct {
	Driver models.Driver
	Lat    float64
	Lng    float64
}

// Repository handles offer and dispatch-settings database operations
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new dispatch repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetSettings returns the singleton dispatch_configs row, nil when unseeded.
func (r *Repository) GetSettings(ctx context.Context) (*models.DispatchSettings, error) {
	query := `
		SELECT id, weight_eta, weight_rating, weight_acceptance, service_match_bonus,
		       offer_timeout_sec, max_offers, search_radius_km, updated_at
		FROM dispatch_configs
		WHERE id = 1
	`

	var s models.DispatchSettings
	err := r.db.QueryRow(ctx, query).Scan(
		&s.ID, &s.WeightETA, &s.WeightRating, &s.WeightAcceptance, &s.ServiceMatchBonus,
		&s.OfferTimeoutSec, &s.MaxOffers, &s.SearchRadiusKm, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch settings: %w", err)
	}

	return &s, nil
}

// SeedSettings inserts the config-file defaults when the row is absent.
func (r *Repository) SeedSettings(ctx context.Context, cfg config.DispatchConfig) error {
	query := `
		INSERT INTO dispatch_configs (id, weight_eta, weight_rating, weight_acceptance,
		                              service_match_bonus, offer_timeout_sec, max_offers, search_radius_km)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		cfg.WeightETA, cfg.WeightRating, cfg.WeightAcceptance, cfg.WeightBonus,
		cfg.OfferTimeoutSec, cfg.MaxOffers, cfg.SearchRadiusKm,
	)
	if err != nil {
		return fmt.Errorf("failed to seed dispatch settings: %w", err)
	}

	return nil
}

// UpdateSettings overwrites the singleton row.
func (r *Repository) UpdateSettings(ctx context.Context, s *models.DispatchSettings) error {
	query := `
		UPDATE dispatch_configs
		SET weight_eta = $1, weight_rating = $2, weight_acceptance = $3, service_match_bonus = $4,
		    offer_timeout_sec = $5, max_offers = $6, search_radius_km = $7, updated_at = NOW()
		WHERE id = 1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		s.WeightETA, s.WeightRating, s.WeightAcceptance, s.ServiceMatchBonus,
		s.OfferTimeoutSec, s.MaxOffers, s.SearchRadiusKm,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update dispatch settings: %w", err)
	}

	s.ID = 1
	return nil
}

// ListCandidates returns dispatchable drivers among the given ids: online,
// unflagged, holding usable credit, with a known position and no open offer.
func (r *Repository) ListCandidates(ctx context.Context, ids []uuid.UUID) ([]*Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT d.id, d.user_id, d.status, d.vehicle_type, d.rating, d.acceptance_rate,
		       d.credit_balance, d.credit_expires_at, d.last_accepted_at,
		       l.snapped_lat, l.snapped_lng
		FROM drivers d
		JOIN driver_locations l ON l.driver_id = d.id
		WHERE d.id = ANY($1)
		  AND d.status = $2
		  AND NOT d.is_flagged
		  AND d.credit_balance > 0
		  AND (d.credit_expires_at IS NULL OR d.credit_expires_at > NOW())
		  AND NOT EXISTS (
		      SELECT 1 FROM trip_offers o
		      WHERE o.driver_id = d.id AND o.status = $3
		  )
	`

	rows, err := r.db.Query(ctx, query, ids, models.DriverOnline, models.OfferPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []*Candidate
	for rows.Next() {
		var c Candidate
		err := rows.Scan(
			&c.Driver.ID, &c.Driver.UserID, &c.Driver.Status, &c.Driver.VehicleType,
			&c.Driver.Rating, &c.Driver.AcceptanceRate,
			&c.Driver.CreditBalance, &c.Driver.CreditExpiresAt, &c.Driver.LastAcceptedAt,
			&c.Lat, &c.Lng,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, &c)
	}

	return out, rows.Err()
}

// CreateOffer persists a PENDING offer. The one-PENDING-per-trip partial
// unique index turns a concurrent dispatcher into ErrOfferRace.
func (r *Repository) CreateOffer(ctx context.Context, offer *models.TripOffer) error {
	query := `
		INSERT INTO trip_offers (id, trip_id, driver_id, score, eta_min, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		offer.ID, offer.TripID, offer.DriverID, offer.Score, offer.EtaMin, offer.Status, offer.ExpiresAt,
	).Scan(&offer.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrOfferRace
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}

	return nil
}

// GetOffer returns the offer, or nil when absent.
func (r *Repository) GetOffer(ctx context.Context, id uuid.UUID) (*models.TripOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM trip_offers WHERE id = $1`

	offer, err := scanOffer(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}

	return offer, nil
}

// AcceptOffer resolves the offer and assigns the trip in one transaction.
// Both CAS updates must hit exactly one row or the whole thing rolls back:
// only one accepting driver can win.
func (r *Repository) AcceptOffer(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	offerCAS := `
		UPDATE trip_offers
		SET status = $1, responded_at = NOW()
		WHERE trip_id = $2 AND driver_id = $3 AND status = $4 AND expires_at > NOW()
	`
	tag, err := tx.Exec(ctx, offerCAS, models.OfferAccepted, tripID, driverID, models.OfferPending)
	if err != nil {
		return nil, fmt.Errorf("failed to accept offer: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrOfferNotPending
	}

	tripCAS := `
		UPDATE trips
		SET status = $1, driver_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING id, rider_id, driver_id, status, pickup_lat, pickup_lng,
		          drop_lat, drop_lng, fare, commission, driver_earnings, distance_km,
		          duration_min, service_type, payment_method, payment_status,
		          booking_channel, scheduled_for, cancel_reason, created_at, updated_at
	`
	var t models.Trip
	err = tx.QueryRow(ctx, tripCAS, models.TripAccepted, driverID, tripID, models.TripRequested).Scan(
		&t.ID, &t.RiderID, &t.DriverID, &t.Status, &t.PickupLat, &t.PickupLng,
		&t.DropLat, &t.DropLng, &t.Fare, &t.Commission, &t.DriverEarnings, &t.DistanceKm,
		&t.DurationMin, &t.ServiceType, &t.PaymentMethod, &t.PaymentStatus,
		&t.BookingChannel, &t.ScheduledFor, &t.CancelReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotRequested
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign trip: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit accept tx: %w", err)
	}

	return &t, nil
}

// RejectOffer marks the driver's pending offer for the trip as REJECTED.
func (r *Repository) RejectOffer(ctx context.Context, tripID, driverID uuid.UUID) (bool, error) {
	query := `
		UPDATE trip_offers
		SET status = $1, responded_at = NOW()
		WHERE trip_id = $2 AND driver_id = $3 AND status = $4
	`

	tag, err := r.db.Exec(ctx, query, models.OfferRejected, tripID, driverID, models.OfferPending)
	if err != nil {
		return false, fmt.Errorf("failed to reject offer: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ExpireOffer marks a still-pending offer as EXPIRED when its timer fires.
// Returns false when the driver resolved it first.
func (r *Repository) ExpireOffer(ctx context.Context, offerID uuid.UUID) (bool, error) {
	query := `
		UPDATE trip_offers
		SET status = $1, responded_at = NOW()
		WHERE id = $2 AND status = $3
	`

	tag, err := r.db.Exec(ctx, query, models.OfferExpired, offerID, models.OfferPending)
	if err != nil {
		return false, fmt.Errorf("failed to expire offer: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListOffersByTrip returns a trip's offers in issue order.
func (r *Repository) ListOffersByTrip(ctx context.Context, tripID uuid.UUID) ([]*models.TripOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM trip_offers WHERE trip_id = $1 ORDER BY created_at`
	return r.listOffers(ctx, query, tripID)
}

// ListRecentOffers returns the newest offers across all trips (admin view).
func (r *Repository) ListRecentOffers(ctx context.Context, limit int) ([]*models.TripOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM trip_offers ORDER BY created_at DESC LIMIT $1`
	return r.listOffers(ctx, query, limit)
}

func (r *Repository) listOffers(ctx context.Context, query string, arg interface{}) ([]*models.TripOffer, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.TripOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}

	return offers, rows.Err()
}

func scanOffer(row pgx.Row) (*models.TripOffer, error) {
	var o models.TripOffer
	err := row.Scan(
		&o.ID, &o.TripID, &o.DriverID, &o.Score, &o.EtaMin,
		&o.Status, &o.CreatedAt, &o.ExpiresAt, &o.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
