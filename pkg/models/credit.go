package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditReason categorizes a ledger delta
type CreditReason string

const (
	CreditPurchase      CreditReason = "PURCHASE"
	CreditTripDeduction CreditReason = "TRIP_DEDUCTION"
	CreditAdminAdjust   CreditReason = "ADMIN_ADJUSTMENT"
	CreditExpiry        CreditReason = "EXPIRY"
)

// CreditLedgerEntry is one append-only credit delta. The driver's
// credit_balance must equal the running sum of the driver's entries;
// reconciliation verifies the invariant.
type CreditLedgerEntry struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	DriverID     uuid.UUID    `json:"driver_id" db:"driver_id"`
	CreditsDelta int          `json:"credits_delta" db:"credits_delta"`
	Reason       CreditReason `json:"reason" db:"reason"`
	TripID       *uuid.UUID   `json:"trip_id,omitempty" db:"trip_id"`
	ActorID      *uuid.UUID   `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// PurchaseRequestStatus tracks admin review of a credit package purchase
type PurchaseRequestStatus string

const (
	PurchasePending  PurchaseRequestStatus = "PENDING"
	PurchaseApproved PurchaseRequestStatus = "APPROVED"
	PurchaseRejected PurchaseRequestStatus = "REJECTED"
)

// CreditPurchaseRequest is a driver's request for a monthly credit package.
type CreditPurchaseRequest struct {
	ID         uuid.UUID             `json:"id" db:"id"`
	DriverID   uuid.UUID             `json:"driver_id" db:"driver_id"`
	Credits    int                   `json:"credits" db:"credits"`
	Months     int                   `json:"months" db:"months"`
	Status     PurchaseRequestStatus `json:"status" db:"status"`
	ReviewedBy *uuid.UUID            `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt *time.Time            `json:"reviewed_at,omitempty" db:"reviewed_at"`
	Note       *string               `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time             `json:"created_at" db:"created_at"`
}
