package credits

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

var (
	// ErrInsufficientCredits is returned when a deduction would push the
	// driver's balance below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrRequestNotPending is returned when a review CAS finds the
	// purchase request already resolved.
	ErrRequestNotPending = errors.New("purchase request is not pending")
)

// Querier is the subset of pgx shared by the pool and a transaction. Ledger
// writes accept it so settlement can append entries inside its own tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Drift is one driver whose stored balance disagrees with the ledger sum.
type Drift struct {
	DriverID      uuid.UUID `json:"driver_id"`
	CreditBalance int       `json:"credit_balance"`
	LedgerSum     int       `json:"ledger_sum"`
}

// Repository handles the append-only credit ledger and purchase requests
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new credits repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Pool exposes the underlying pool for service-level transactions.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.db
}

// Querier returns the pool as a Querier for non-transactional ledger writes.
func (r *Repository) Querier() Querier {
	return r.db
}

// GetBalance reads the driver's balance column, or nil when the driver does
// not exist.
func (r *Repository) GetBalance(ctx context.Context, driverID uuid.UUID) (*Balance, error) {
	query := `SELECT id, credit_balance, credit_expires_at FROM drivers WHERE id = $1`

	var bal Balance
	err := r.db.QueryRow(ctx, query, driverID).Scan(&bal.DriverID, &bal.CreditBalance, &bal.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit balance: %w", err)
	}

	return &bal, nil
}

// AppendEntry writes one ledger row and moves drivers.credit_balance by the
// same delta. The two writes share q, so they commit or roll back together;
// a negative delta that would overdraw the balance fails with
// ErrInsufficientCredits.
func (r *Repository) AppendEntry(ctx context.Context, q Querier, entry *models.CreditLedgerEntry) error {
	balanceQuery := `
		UPDATE drivers
		SET credit_balance = credit_balance + $1, updated_at = NOW()
		WHERE id = $2 AND credit_balance + $1 >= 0
	`
	tag, err := q.Exec(ctx, balanceQuery, entry.CreditsDelta, entry.DriverID)
	if err != nil {
		return fmt.Errorf("failed to move credit balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrInsufficientCredits
	}

	ledgerQuery := `
		INSERT INTO driver_credit_ledger (id, driver_id, credits_delta, reason, trip_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err = q.QueryRow(ctx, ledgerQuery,
		entry.ID, entry.DriverID, entry.CreditsDelta, entry.Reason, entry.TripID, entry.ActorID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

// DeductForTrip appends the per-trip deduction inside the caller's
// transaction (settlement).
func (r *Repository) DeductForTrip(ctx context.Context, q Querier, driverID, tripID uuid.UUID) error {
	entry := &models.CreditLedgerEntry{
		ID:           uuid.New(),
		DriverID:     driverID,
		CreditsDelta: -1,
		Reason:       models.CreditTripDeduction,
		TripID:       &tripID,
	}
	return r.AppendEntry(ctx, q, entry)
}

// LedgerSum returns the running sum of the driver's ledger.
func (r *Repository) LedgerSum(ctx context.Context, driverID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(SUM(credits_delta), 0) FROM driver_credit_ledger WHERE driver_id = $1`

	var sum int
	if err := r.db.QueryRow(ctx, query, driverID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}

	return sum, nil
}

// ListEntries returns the driver's ledger, newest first.
func (r *Repository) ListEntries(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.CreditLedgerEntry, error) {
	query := `
		SELECT id, driver_id, credits_delta, reason, trip_id, actor_id, created_at
		FROM driver_credit_ledger
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, driverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.CreditLedgerEntry
	for rows.Next() {
		var e models.CreditLedgerEntry
		err := rows.Scan(&e.ID, &e.DriverID, &e.CreditsDelta, &e.Reason, &e.TripID, &e.ActorID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// CreatePurchaseRequest persists a PENDING package request.
func (r *Repository) CreatePurchaseRequest(ctx context.Context, req *models.CreditPurchaseRequest) error {
	query := `
		INSERT INTO credit_purchase_requests (id, driver_id, credits, months, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, req.ID, req.DriverID, req.Credits, req.Months, req.Status).Scan(&req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchase request: %w", err)
	}

	return nil
}

// GetPurchaseRequest returns the request, or nil when absent.
func (r *Repository) GetPurchaseRequest(ctx context.Context, id uuid.UUID) (*models.CreditPurchaseRequest, error) {
	query := `
		SELECT id, driver_id, credits, months, status, reviewed_by, reviewed_at, note, created_at
		FROM credit_purchase_requests
		WHERE id = $1
	`

	var req models.CreditPurchaseRequest
	err := r.db.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.DriverID, &req.Credits, &req.Months, &req.Status,
		&req.ReviewedBy, &req.ReviewedAt, &req.Note, &req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase request: %w", err)
	}

	return &req, nil
}

// ListPendingRequests returns unreviewed requests, oldest first.
func (r *Repository) ListPendingRequests(ctx context.Context) ([]*models.CreditPurchaseRequest, error) {
	query := `
		SELECT id, driver_id, credits, months, status, reviewed_by, reviewed_at, note, created_at
		FROM credit_purchase_requests
		WHERE status = $1
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, models.PurchasePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase requests: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditPurchaseRequest
	for rows.Next() {
		var req models.CreditPurchaseRequest
		err := rows.Scan(
			&req.ID, &req.DriverID, &req.Credits, &req.Months, &req.Status,
			&req.ReviewedBy, &req.ReviewedAt, &req.Note, &req.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase request: %w", err)
		}
		out = append(out, &req)
	}

	return out, rows.Err()
}

// Approve grants the package in one transaction: request CAS, balance +
// expiry update, ledger row.
func (r *Repository) Approve(ctx context.Context, requestID, adminID uuid.UUID, expiresAt time.Time) (*models.CreditPurchaseRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin approval tx: %w", err)
	}
	defer tx.Rollback(ctx)

	reviewCAS := `
		UPDATE credit_purchase_requests
		SET status = $1, reviewed_by = $2, reviewed_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING id, driver_id, credits, months, status, reviewed_by, reviewed_at, note, created_at
	`
	var req models.CreditPurchaseRequest
	err = tx.QueryRow(ctx, reviewCAS, models.PurchaseApproved, adminID, requestID, models.PurchasePending).Scan(
		&req.ID, &req.DriverID, &req.Credits, &req.Months, &req.Status,
		&req.ReviewedBy, &req.ReviewedAt, &req.Note, &req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to approve purchase request: %w", err)
	}

	entry := &models.CreditLedgerEntry{
		ID:           uuid.New(),
		DriverID:     req.DriverID,
		CreditsDelta: req.Credits,
		Reason:       models.CreditPurchase,
		ActorID:      &adminID,
	}
	if err := r.AppendEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	expiry := `UPDATE drivers SET credit_expires_at = $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.Exec(ctx, expiry, expiresAt, req.DriverID); err != nil {
		return nil, fmt.Errorf("failed to set credit expiry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	return &req, nil
}

// Reject resolves the request without touching the ledger.
func (r *Repository) Reject(ctx context.Context, requestID, adminID uuid.UUID, note string) (*models.CreditPurchaseRequest, error) {
	query := `
		UPDATE credit_purchase_requests
		SET status = $1, reviewed_by = $2, reviewed_at = NOW(), note = NULLIF($3, '')
		WHERE id = $4 AND status = $5
		RETURNING id, driver_id, credits, months, status, reviewed_by, reviewed_at, note, created_at
	`

	var req models.CreditPurchaseRequest
	err := r.db.QueryRow(ctx, query, models.PurchaseRejected, adminID, note, requestID, models.PurchasePending).Scan(
		&req.ID, &req.DriverID, &req.Credits, &req.Months, &req.Status,
		&req.ReviewedBy, &req.ReviewedAt, &req.Note, &req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reject purchase request: %w", err)
	}

	return &req, nil
}

// ExpireBalances zeroes every overdue balance with a compensating ledger
// row. Returns how many drivers were swept.
func (r *Repository) ExpireBalances(ctx context.Context, now time.Time) (int, error) {
	listQuery := `
		SELECT id, credit_balance
		FROM drivers
		WHERE credit_balance > 0 AND credit_expires_at IS NOT NULL AND credit_expires_at <= $1
	`

	rows, err := r.db.Query(ctx, listQuery, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired balances: %w", err)
	}

	type expired struct {
		driverID uuid.UUID
		balance  int
	}
	var due []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.driverID, &e.balance); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired balance: %w", err)
		}
		due = append(due, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, e := range due {
		if err := r.expireOne(ctx, e.driverID, e.balance, now); err != nil {
			return swept, err
		}
		swept++
	}

	return swept, nil
}

func (r *Repository) expireOne(ctx context.Context, driverID uuid.UUID, balance int, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin expiry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// re-check under the tx: the balance may have moved since listing
	guard := `
		UPDATE drivers
		SET credit_balance = 0, credit_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND credit_balance = $2 AND credit_expires_at <= $3
	`
	tag, err := tx.Exec(ctx, guard, driverID, balance, now)
	if err != nil {
		return fmt.Errorf("failed to zero expired balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		// balance moved since listing, leave it to the next sweep
		return nil
	}

	ledger := `
		INSERT INTO driver_credit_ledger (id, driver_id, credits_delta, reason)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, ledger, uuid.New(), driverID, -balance, models.CreditExpiry); err != nil {
		return fmt.Errorf("failed to append expiry entry: %w", err)
	}

	return tx.Commit(ctx)
}

// ListDrift returns drivers whose balance column disagrees with the ledger
// sum (reconciliation invariant).
func (r *Repository) ListDrift(ctx context.Context) ([]*Drift, error) {
	query := `
		SELECT d.id, d.credit_balance, COALESCE(SUM(l.credits_delta), 0) AS ledger_sum
		FROM drivers d
		LEFT JOIN driver_credit_ledger l ON l.driver_id = d.id
		GROUP BY d.id, d.credit_balance
		HAVING d.credit_balance <> COALESCE(SUM(l.credits_delta), 0)
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to check ledger drift: %w", err)
	}
	defer rows.Close()

	var out []*Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.DriverID, &d.CreditBalance, &d.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan drift row: %w", err)
		}
		out = append(out, &d)
	}

	return out, rows.Err()
}
