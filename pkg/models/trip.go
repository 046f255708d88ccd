package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus represents the status of a trip
type TripStatus string

const (
	TripRequested  TripStatus = "REQUESTED"
	TripAccepted   TripStatus = "ACCEPTED"
	TripArrived    TripStatus = "ARRIVED"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// tripTransitions holds the allowed forward edges of the status machine.
// CANCELLED is reachable from every non-terminal state.
var tripTransitions = map[TripStatus][]TripStatus{
	TripRequested:  {TripAccepted, TripCancelled},
	TripAccepted:   {TripArrived, TripCancelled},
	TripArrived:    {TripInProgress, TripCancelled},
	TripInProgress: {TripCompleted, TripCancelled},
}

// CanTransition reports whether from → to is a legal status change.
func (from TripStatus) CanTransition(to TripStatus) bool {
	for _, next := range tripTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TripStatus) IsTerminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// PaymentMethod is how a trip is paid for
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentWallet PaymentMethod = "WALLET"
)

// PaymentStatus tracks the monetary side of a trip
type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "UNPAID"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentCollected PaymentStatus = "COLLECTED" // cash handed to driver
)

// BookingChannel records how the trip was created
type BookingChannel string

const (
	ChannelApp   BookingChannel = "APP"
	ChannelPhone BookingChannel = "PHONE"
)

// CancelReasonNoDrivers is set when the dispatcher exhausts maxOffers.
const CancelReasonNoDrivers = "NO_DRIVERS_AVAILABLE"

// Trip represents a trip through its lifecycle. DriverID is null until
// ACCEPTED.
type Trip struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	RiderID        uuid.UUID      `json:"rider_id" db:"rider_id"`
	DriverID       *uuid.UUID     `json:"driver_id,omitempty" db:"driver_id"`
	Status         TripStatus     `json:"status" db:"status"`
	PickupLat      float64        `json:"pickup_lat" db:"pickup_lat"`
	PickupLng      float64        `json:"pickup_lng" db:"pickup_lng"`
	DropLat        float64        `json:"drop_lat" db:"drop_lat"`
	DropLng        float64        `json:"drop_lng" db:"drop_lng"`
	Fare           float64        `json:"fare" db:"fare"`
	Commission     *float64       `json:"commission,omitempty" db:"commission"`
	DriverEarnings *float64       `json:"driver_earnings,omitempty" db:"driver_earnings"`
	DistanceKm     float64        `json:"distance_km" db:"distance_km"`
	DurationMin    int            `json:"duration_min" db:"duration_min"`
	ServiceType    string         `json:"service_type" db:"service_type"`
	PaymentMethod  PaymentMethod  `json:"payment_method" db:"payment_method"`
	PaymentStatus  PaymentStatus  `json:"payment_status" db:"payment_status"`
	BookingChannel BookingChannel `json:"booking_channel" db:"booking_channel"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty" db:"scheduled_for"`
	CancelReason   *string        `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// OfferStatus represents the lifecycle of a dispatch offer
type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
	OfferExpired  OfferStatus = "EXPIRED"
)

// TripOffer is a time-bounded exclusive invitation to one driver. At most
// one PENDING and at most one ACCEPTED offer exist per trip, enforced by
// partial unique indexes.
type TripOffer struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	TripID      uuid.UUID   `json:"trip_id" db:"trip_id"`
	DriverID    uuid.UUID   `json:"driver_id" db:"driver_id"`
	Score       float64     `json:"score" db:"score"`
	EtaMin      float64     `json:"eta_min" db:"eta_min"`
	Status      OfferStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at" db:"expires_at"`
	RespondedAt *time.Time  `json:"responded_at,omitempty" db:"responded_at"`
}

// DispatchSettings is the singleton dispatch_configs row.
type DispatchSettings struct {
	ID                int       `json:"id" db:"id"`
	WeightETA         float64   `json:"weight_eta" db:"weight_eta"`
	WeightRating      float64   `json:"weight_rating" db:"weight_rating"`
	WeightAcceptance  float64   `json:"weight_acceptance" db:"weight_acceptance"`
	ServiceMatchBonus float64   `json:"service_match_bonus" db:"service_match_bonus"`
	OfferTimeoutSec   int       `json:"offer_timeout_sec" db:"offer_timeout_sec"`
	MaxOffers         int       `json:"max_offers" db:"max_offers"`
	SearchRadiusKm    float64   `json:"search_radius_km" db:"search_radius_km"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
