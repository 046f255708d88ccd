package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents user role type
type UserRole string

const (
	RoleRider  UserRole = "rider"
	RoleDriver UserRole = "driver"
	RoleAdmin  UserRole = "admin"
)

// DriverStatus represents a driver's availability state
type DriverStatus string

const (
	DriverOffline   DriverStatus = "offline"
	DriverOnline    DriverStatus = "online"
	DriverBusy      DriverStatus = "busy"
	DriverSuspended DriverStatus = "suspended"
)

// User represents an account. Role is immutable after creation.
type User struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Phone     string     `json:"phone" db:"phone"`
	Role      UserRole   `json:"role" db:"role"`
	Name      *string    `json:"name,omitempty" db:"name"`
	Email     *string    `json:"email,omitempty" db:"email"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Driver represents driver-specific information. Exactly one row per
// driver-role user.
type Driver struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	UserID          uuid.UUID    `json:"user_id" db:"user_id"`
	Status          DriverStatus `json:"status" db:"status"`
	VehicleType     string       `json:"vehicle_type" db:"vehicle_type"`
	PlateNumber     string       `json:"plate_number" db:"plate_number"`
	City            string       `json:"city" db:"city"`
	Province        string       `json:"province" db:"province"`
	BaseFare        float64      `json:"base_fare" db:"base_fare"`
	PerKmRate       float64      `json:"per_km_rate" db:"per_km_rate"`
	Rating          float64      `json:"rating" db:"rating"`
	AcceptanceRate  float64      `json:"acceptance_rate" db:"acceptance_rate"`
	CreditBalance   int          `json:"credit_balance" db:"credit_balance"`
	CreditExpiresAt *time.Time   `json:"credit_expires_at,omitempty" db:"credit_expires_at"`
	StripeAccountID *string      `json:"stripe_account_id,omitempty" db:"stripe_account_id"`
	LastAcceptedAt  *time.Time   `json:"last_accepted_at,omitempty" db:"last_accepted_at"`
	IsFlagged       bool         `json:"is_flagged" db:"is_flagged"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// DriverLocation is the single last-known position row per driver.
// Mutated only by the location service.
type DriverLocation struct {
	DriverID     uuid.UUID `json:"driver_id" db:"driver_id"`
	RawLat       float64   `json:"raw_lat" db:"raw_lat"`
	RawLng       float64   `json:"raw_lng" db:"raw_lng"`
	SnappedLat   float64   `json:"snapped_lat" db:"snapped_lat"`
	SnappedLng   float64   `json:"snapped_lng" db:"snapped_lng"`
	Bearing      float64   `json:"bearing" db:"bearing"`
	Deviation    float64   `json:"deviation" db:"deviation"`
	AnomalyCount int       `json:"anomaly_count" db:"anomaly_count"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
