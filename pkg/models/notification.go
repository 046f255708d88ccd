package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationChannel is the transport used for a ride notification
type NotificationChannel string

const (
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelSMS      NotificationChannel = "sms"
	ChannelPush     NotificationChannel = "push"
)

// RideNotification is one outbound trip-related message and its delivery
// progress through the retry pipeline.
type RideNotification struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	TripID    uuid.UUID           `json:"trip_id" db:"trip_id"`
	DriverID  *uuid.UUID          `json:"driver_id,omitempty" db:"driver_id"`
	Channel   NotificationChannel `json:"channel" db:"channel"`
	Body      string              `json:"body" db:"body"`
	Status    DeliveryStatus      `json:"status" db:"status"`
	MessageID *string             `json:"message_id,omitempty" db:"message_id"`
	Retries   int                 `json:"retries" db:"retries"`
	Error     *string             `json:"error,omitempty" db:"error"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// SOSEvent is an audit record of an emergency trigger on a live trip.
// It never changes the trip status.
type SOSEvent struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TripID      uuid.UUID  `json:"trip_id" db:"trip_id"`
	TriggeredBy uuid.UUID  `json:"triggered_by" db:"triggered_by"`
	Role        UserRole   `json:"role" db:"role"`
	Lat         *float64   `json:"lat,omitempty" db:"lat"`
	Lng         *float64   `json:"lng,omitempty" db:"lng"`
	Note        *string    `json:"note,omitempty" db:"note"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AdminAlert is a persisted operator notification (circuit open,
// reconciliation mismatch, SOS, ledger drift).
type AdminAlert struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Kind           string     `json:"kind" db:"kind"`
	Message        string     `json:"message" db:"message"`
	Details        *string    `json:"details,omitempty" db:"details"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
