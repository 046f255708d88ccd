package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// TripRequestedData is emitted when a trip enters dispatch.
type TripRequestedData struct {
	TripID      uuid.UUID `json:"trip_id"`
	RiderID     uuid.UUID `json:"rider_id"`
	PickupLat   float64   `json:"pickup_lat"`
	PickupLng   float64   `json:"pickup_lng"`
	DropLat     float64   `json:"drop_lat"`
	DropLng     float64   `json:"drop_lng"`
	ServiceType string    `json:"service_type"`
	Fare        float64   `json:"fare"`
	RequestedAt time.Time `json:"requested_at"`
}

// TripAcceptedData is emitted when a driver wins an offer.
type TripAcceptedData struct {
	TripID     uuid.UUID `json:"trip_id"`
	RiderID    uuid.UUID `json:"rider_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	OfferID    uuid.UUID `json:"offer_id"`
	EtaMin     float64   `json:"eta_min"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// TripStatusData is emitted on arrived/started transitions.
type TripStatusData struct {
	TripID    uuid.UUID `json:"trip_id"`
	RiderID   uuid.UUID `json:"rider_id"`
	DriverID  uuid.UUID `json:"driver_id"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

// TripCompletedData is emitted after settlement commits.
type TripCompletedData struct {
	TripID         uuid.UUID `json:"trip_id"`
	RiderID        uuid.UUID `json:"rider_id"`
	DriverID       uuid.UUID `json:"driver_id"`
	Fare           float64   `json:"fare"`
	Commission     float64   `json:"commission"`
	DriverEarnings float64   `json:"driver_earnings"`
	PaymentMethod  string    `json:"payment_method"`
	CompletedAt    time.Time `json:"completed_at"`
}

// TripCancelledData is emitted when a trip is cancelled.
type TripCancelledData struct {
	TripID      uuid.UUID  `json:"trip_id"`
	RiderID     uuid.UUID  `json:"rider_id"`
	DriverID    *uuid.UUID `json:"driver_id,omitempty"`
	CancelledBy string     `json:"cancelled_by"` // "rider", "driver", "admin", "dispatcher"
	Reason      string     `json:"reason"`
	CancelledAt time.Time  `json:"cancelled_at"`
}

// TripSOSData is emitted when a participant triggers an emergency.
type TripSOSData struct {
	TripID      uuid.UUID `json:"trip_id"`
	TriggeredBy uuid.UUID `json:"triggered_by"`
	Role        string    `json:"role"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// DriverFlaggedData is emitted when anomaly detection flags a driver.
type DriverFlaggedData struct {
	DriverID     uuid.UUID `json:"driver_id"`
	Reason       string    `json:"reason"` // "teleport", "speed", "deviation"
	AnomalyCount int       `json:"anomaly_count"`
	FlaggedAt    time.Time `json:"flagged_at"`
}

// PaymentSettledData is emitted after a wallet settlement commits.
type PaymentSettledData struct {
	TripID        uuid.UUID `json:"trip_id"`
	RiderID       uuid.UUID `json:"rider_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	Amount        float64   `json:"amount"`
	TransactionID uuid.UUID `json:"transaction_id"`
	SettledAt     time.Time `json:"settled_at"`
}

// PayoutFailedData is emitted when a Stripe transfer fails terminally.
type PayoutFailedData struct {
	PayoutID uuid.UUID `json:"payout_id"`
	DriverID uuid.UUID `json:"driver_id"`
	Amount   float64   `json:"amount"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// ReconMismatchData is emitted when daily reconciliation finds drift.
type ReconMismatchData struct {
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	DBTotal       float64   `json:"db_total"`
	ProviderTotal float64   `json:"provider_total"`
	Mismatch      float64   `json:"mismatch"`
}
