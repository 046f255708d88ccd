package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks an outbound message through the provider pipeline.
// Statuses only advance; webhook callbacks never move a row backwards.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRead      DeliveryStatus = "READ"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// deliveryRank orders delivery statuses for monotonic advancement.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
	DeliveryFailed:    3,
}

// Advances reports whether moving from s to next is a forward step.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	return deliveryRank[next] > deliveryRank[s]
}

// OTP is a one-time login code. The partial unique index on
// (phone) WHERE NOT verified guarantees at most one live code per phone.
type OTP struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	Phone          string         `json:"phone" db:"phone"`
	CodeHash       string         `json:"-" db:"code_hash"`
	ExpiresAt      time.Time      `json:"expires_at" db:"expires_at"`
	Verified       bool           `json:"verified" db:"verified"`
	DeliveryStatus DeliveryStatus `json:"delivery_status" db:"delivery_status"`
	MessageID      *string        `json:"message_id,omitempty" db:"message_id"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// OTPRequest is a sliding-window issuance counter, unique per
// (phone, window_start).
type OTPRequest struct {
	Phone       string    `json:"phone" db:"phone"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	Count       int       `json:"count" db:"count"`
}

// OTPLock records failed verification attempts per phone.
type OTPLock struct {
	Phone          string     `json:"phone" db:"phone"`
	FailedAttempts int        `json:"failed_attempts" db:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Locked reports whether the phone is currently locked out.
func (l *OTPLock) Locked(now time.Time) bool {
	return l != nil && l.LockedUntil != nil && l.LockedUntil.After(now)
}
