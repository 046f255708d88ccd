package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/credits"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
)

var (
	// ErrTripNotSettleable is returned when the trip is missing or not in a
	// settleable state.
	ErrTripNotSettleable = errors.New("trip is not in progress")

	// ErrNoDriverAssigned is returned when settlement finds no driver on the
	// trip.
	ErrNoDriverAssigned = errors.New("trip has no assigned driver")

	// ErrInsufficientBalance is returned when the rider's wallet cannot
	// cover the fare.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrTripNotPayable is returned when a wallet payment targets a trip
	// that is not completed-and-unpaid.
	ErrTripNotPayable = errors.New("trip is not awaiting payment")
)

const tripColumns = `id, rider_id, driver_id, status, pickup_lat, pickup_lng,
	drop_lat, drop_lng, fare, commission, driver_earnings, distance_km,
	duration_min, service_type, payment_method, payment_status,
	booking_channel, scheduled_for, cancel_reason, created_at, updated_at`

// walletBalanceQuery computes the balance by aggregation. There is no
// denormalized balance column; COMPLETED rows are the only ones that count.
const walletBalanceQuery = `
	SELECT
		COALESCE(SUM(CASE WHEN type = 'CREDIT' AND status = 'COMPLETED' THEN amount ELSE 0 END), 0)
		- COALESCE(SUM(CASE WHEN type = 'DEBIT' AND status = 'COMPLETED' THEN amount ELSE 0 END), 0)
	FROM transactions
	WHERE user_id = $1
`

// CreditLedger appends the per-trip credit deduction inside the settlement
// transaction.
type CreditLedger interface {
	DeductForTrip(ctx context.Context, q credits.Querier, driverID, tripID uuid.UUID) error
}

// Repository handles wallet transactions, settlement and payouts
type Repository struct {
	db     *pgxpool.Pool
	ledger CreditLedger
}

// NewRepository creates a new payments repository
func NewRepository(db *pgxpool.Pool, ledger CreditLedger) *Repository {
	return &Repository{db: db, ledger: ledger}
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

// Settle completes the trip and moves the money in one transaction: wallet
// debit (if WALLET), commission split, trip CAS to COMPLETED and the
// per-trip credit deduction all commit together or not at all.
func (r *Repository) Settle(ctx context.Context, tripID uuid.UUID, commissionRate float64) (*models.Trip, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 FOR UPDATE`
	trip, err := scanTrip(tx.QueryRow(ctx, lockQuery, tripID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotSettleable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock trip: %w", err)
	}

	if trip.Status != models.TripInProgress {
		return nil, ErrTripNotSettleable
	}
	if trip.DriverID == nil {
		return nil, ErrNoDriverAssigned
	}

	paymentStatus := models.PaymentUnpaid
	if trip.PaymentMethod == models.PaymentWallet {
		var balance float64
		if err := tx.QueryRow(ctx, walletBalanceQuery, trip.RiderID).Scan(&balance); err != nil {
			return nil, fmt.Errorf("failed to aggregate wallet balance: %w", err)
		}
		if balance < trip.Fare {
			return nil, ErrInsufficientBalance
		}

		debit := `
			INSERT INTO transactions (id, user_id, trip_id, amount, type, status, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err = tx.Exec(ctx, debit,
			uuid.New(), trip.RiderID, trip.ID, trip.Fare,
			models.TransactionDebit, models.TransactionCompleted, "wallet",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert fare debit: %w", err)
		}

		paymentStatus = models.PaymentPaid
	}

	commission := trip.Fare * commissionRate
	earnings := trip.Fare - commission

	completeQuery := `
		UPDATE trips
		SET status = $1, commission = $2, driver_earnings = $3, payment_status = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`
	tag, err := tx.Exec(ctx, completeQuery,
		models.TripCompleted, commission, earnings, paymentStatus,
		trip.ID, models.TripInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete trip: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrTripNotSettleable
	}

	err = r.ledger.DeductForTrip(ctx, tx, *trip.DriverID, trip.ID)
	if errors.Is(err, credits.ErrInsufficientCredits) {
		// the driver was vetted at dispatch time; a zero balance now must
		// not block the rider's settlement
		logger.WarnContext(ctx, "credit deduction skipped at settlement",
			zap.String("trip_id", trip.ID.String()),
			zap.String("driver_id", trip.DriverID.String()),
		)
	} else if err != nil {
		return nil, fmt.Errorf("failed to deduct trip credit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	trip.Status = models.TripCompleted
	trip.Commission = &commission
	trip.DriverEarnings = &earnings
	trip.PaymentStatus = paymentStatus
	return trip, nil
}

// WalletBalance returns the user's balance by aggregation.
func (r *Repository) WalletBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	var balance float64
	if err := r.db.QueryRow(ctx, walletBalanceQuery, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to aggregate wallet balance: %w", err)
	}
	return balance, nil
}

// CreateTransaction inserts a wallet movement.
func (r *Repository) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, trip_id, amount, type, status, source, stripe_payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		t.ID, t.UserID, t.TripID, t.Amount, t.Type, t.Status, t.Source, t.StripePaymentID,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// TransactionByStripeID returns the transaction bound to the payment
// intent, or nil when none exists.
func (r *Repository) TransactionByStripeID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	query := `
		SELECT id, user_id, trip_id, amount, type, status, source, stripe_payment_id, created_at
		FROM transactions
		WHERE stripe_payment_id = $1
	`

	var t models.Transaction
	err := r.db.QueryRow(ctx, query, paymentIntentID).Scan(
		&t.ID, &t.UserID, &t.TripID, &t.Amount, &t.Type, &t.Status, &t.Source, &t.StripePaymentID, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &t, nil
}

// ResolveTransaction moves a PENDING transaction to its final status. The
// CAS makes webhook redelivery idempotent.
func (r *Repository) ResolveTransaction(ctx context.Context, id uuid.UUID, status models.TransactionStatus) (bool, error) {
	query := `UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`

	tag, err := r.db.Exec(ctx, query, status, id, models.TransactionPending)
	if err != nil {
		return false, fmt.Errorf("failed to resolve transaction: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListTransactions returns the user's wallet history, newest first.
func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	query := `
		SELECT id, user_id, trip_id, amount, type, status, source, stripe_payment_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		err := rows.Scan(&t.ID, &t.UserID, &t.TripID, &t.Amount, &t.Type, &t.Status, &t.Source, &t.StripePaymentID, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, &t)
	}

	return out, rows.Err()
}

// PayCompletedTrip debits the rider's wallet for a completed, still unpaid
// trip. One transaction: balance check, debit row, payment status CAS.
func (r *Repository) PayCompletedTrip(ctx context.Context, tripID, riderID uuid.UUID) (*models.Trip, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin trip payment: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 AND rider_id = $2 FOR UPDATE`
	trip, err := scanTrip(tx.QueryRow(ctx, lockQuery, tripID, riderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTripNotPayable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock trip: %w", err)
	}

	if trip.Status != models.TripCompleted || trip.PaymentStatus != models.PaymentUnpaid {
		return nil, ErrTripNotPayable
	}

	var balance float64
	if err := tx.QueryRow(ctx, walletBalanceQuery, riderID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("failed to aggregate wallet balance: %w", err)
	}
	if balance < trip.Fare {
		return nil, ErrInsufficientBalance
	}

	debit := `
		INSERT INTO transactions (id, user_id, trip_id, amount, type, status, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, debit,
		uuid.New(), riderID, trip.ID, trip.Fare,
		models.TransactionDebit, models.TransactionCompleted, "wallet",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert fare debit: %w", err)
	}

	markPaid := `UPDATE trips SET payment_status = $1, updated_at = NOW() WHERE id = $2 AND payment_status = $3`
	tag, err := tx.Exec(ctx, markPaid, models.PaymentPaid, trip.ID, models.PaymentUnpaid)
	if err != nil {
		return nil, fmt.Errorf("failed to mark trip paid: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrTripNotPayable
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit trip payment: %w", err)
	}

	trip.PaymentStatus = models.PaymentPaid
	return trip, nil
}

// CreatePayout inserts the payout, or returns the existing row when the
// idempotency key has been seen before.
func (r *Repository) CreatePayout(ctx context.Context, p *models.Payout) (*models.Payout, bool, error) {
	query := `
		INSERT INTO payouts (id, driver_id, amount, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, p.ID, p.DriverID, p.Amount, p.Status, p.IdempotencyKey).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := r.GetPayoutByKey(ctx, p.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payout: %w", err)
	}

	return p, true, nil
}

// GetPayout returns the payout, or nil when absent.
func (r *Repository) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	query := `
		SELECT id, driver_id, amount, status, stripe_transfer_id, idempotency_key, failure_reason, created_at, updated_at
		FROM payouts
		WHERE id = $1
	`
	return r.scanPayout(r.db.QueryRow(ctx, query, id))
}

// GetPayoutByKey returns the payout with the idempotency key, or nil.
func (r *Repository) GetPayoutByKey(ctx context.Context, key string) (*models.Payout, error) {
	query := `
		SELECT id, driver_id, amount, status, stripe_transfer_id, idempotency_key, failure_reason, created_at, updated_at
		FROM payouts
		WHERE idempotency_key = $1
	`
	return r.scanPayout(r.db.QueryRow(ctx, query, key))
}

func (r *Repository) scanPayout(row pgx.Row) (*models.Payout, error) {
	var p models.Payout
	err := row.Scan(
		&p.ID, &p.DriverID, &p.Amount, &p.Status, &p.StripeTransferID,
		&p.IdempotencyKey, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payout: %w", err)
	}
	return &p, nil
}

// UpdatePayoutStatus records the outcome of payout processing.
func (r *Repository) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status models.PayoutStatus, transferID, failureReason *string) error {
	query := `
		UPDATE payouts
		SET status = $1,
		    stripe_transfer_id = COALESCE($2, stripe_transfer_id),
		    failure_reason = $3,
		    updated_at = NOW()
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, status, transferID, failureReason, id)
	if err != nil {
		return fmt.Errorf("failed to update payout status: %w", err)
	}

	return nil
}

// DriverStripeAccount returns the driver's connected account id, or nil
// when the driver has not linked one.
func (r *Repository) DriverStripeAccount(ctx context.Context, driverID uuid.UUID) (*string, error) {
	var account *string
	err := r.db.QueryRow(ctx, `SELECT stripe_account_id FROM drivers WHERE id = $1`, driverID).Scan(&account)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver payout account: %w", err)
	}
	return account, nil
}

// AvailableEarnings returns what the driver can still withdraw: lifetime
// completed-trip earnings minus every payout that is not FAILED.
func (r *Repository) AvailableEarnings(ctx context.Context, driverID uuid.UUID) (float64, error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(driver_earnings) FROM trips
			          WHERE driver_id = $1 AND status = 'COMPLETED'), 0)
			-
			COALESCE((SELECT SUM(amount) FROM payouts
			          WHERE driver_id = $1 AND status <> 'FAILED'), 0)
	`

	var available float64
	if err := r.db.QueryRow(ctx, query, driverID).Scan(&available); err != nil {
		return 0, fmt.Errorf("failed to compute available earnings: %w", err)
	}

	return available, nil
}

// CompletedTotalsBySource aggregates COMPLETED transactions inside the
// window, grouped by source. Used by reconciliation.
func (r *Repository) CompletedTotalsBySource(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	query := `
		SELECT source, COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE status = 'COMPLETED' AND created_at >= $1 AND created_at < $2
		GROUP BY source
	`

	rows, err := r.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var source string
		var total float64
		if err := rows.Scan(&source, &total); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		totals[source] = total
	}

	return totals, rows.Err()
}
