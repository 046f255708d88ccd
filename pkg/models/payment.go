package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType distinguishes wallet movements
type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

// TransactionStatus tracks a wallet movement
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// Transaction is a wallet movement. A user's balance is always
// SUM(CREDIT COMPLETED) − SUM(DEBIT COMPLETED); there is no denormalized
// balance column.
type Transaction struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	UserID          uuid.UUID         `json:"user_id" db:"user_id"`
	TripID          *uuid.UUID        `json:"trip_id,omitempty" db:"trip_id"`
	Amount          float64           `json:"amount" db:"amount"`
	Type            TransactionType   `json:"type" db:"type"`
	Status          TransactionStatus `json:"status" db:"status"`
	Source          string            `json:"source" db:"source"` // stripe, wallet, cash, adjustment
	StripePaymentID *string           `json:"stripe_payment_id,omitempty" db:"stripe_payment_id"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// PayoutStatus tracks driver payout processing
type PayoutStatus string

const (
	PayoutPendingReview PayoutStatus = "PENDING_MANUAL_REVIEW"
	PayoutProcessing    PayoutStatus = "PROCESSING"
	PayoutCompleted     PayoutStatus = "COMPLETED"
	PayoutFailed        PayoutStatus = "FAILED"
)

// Payout is a driver disbursement. StripeTransferID is only set on
// COMPLETED; IdempotencyKey deduplicates retries.
type Payout struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	DriverID         uuid.UUID    `json:"driver_id" db:"driver_id"`
	Amount           float64      `json:"amount" db:"amount"`
	Status           PayoutStatus `json:"status" db:"status"`
	StripeTransferID *string      `json:"stripe_transfer_id,omitempty" db:"stripe_transfer_id"`
	IdempotencyKey   string       `json:"idempotency_key" db:"idempotency_key"`
	FailureReason    *string      `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// ReconciliationLog records one daily comparison of DB aggregates against
// the payment provider's totals.
type ReconciliationLog struct {
	ID            uuid.UUID `json:"id" db:"id"`
	PeriodStart   time.Time `json:"period_start" db:"period_start"`
	PeriodEnd     time.Time `json:"period_end" db:"period_end"`
	DBTotal       float64   `json:"db_total" db:"db_total"`
	ProviderTotal float64   `json:"provider_total" db:"provider_total"`
	Mismatch      float64   `json:"mismatch" db:"mismatch"`
	Details       string    `json:"details" db:"details"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
