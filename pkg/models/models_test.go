package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTripStatusTransitions(t *testing.T) {
	tests := []struct {
		from    TripStatus
		to      TripStatus
		allowed bool
	}{
		{TripRequested, TripAccepted, true},
		{TripRequested, TripCancelled, true},
		{TripRequested, TripArrived, false},
		{TripRequested, TripCompleted, false},
		{TripAccepted, TripArrived, true},
		{TripAccepted, TripCancelled, true},
		{TripAccepted, TripCompleted, false},
		{TripArrived, TripInProgress, true},
		{TripArrived, TripCompleted, false},
		{TripInProgress, TripCompleted, true},
		{TripInProgress, TripCancelled, true},
		{TripInProgress, TripArrived, false},
		{TripCompleted, TripCancelled, false},
		{TripCancelled, TripRequested, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransition(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestTripStatusTerminal(t *testing.T) {
	assert.True(t, TripCompleted.IsTerminal())
	assert.True(t, TripCancelled.IsTerminal())
	assert.False(t, TripInProgress.IsTerminal())
	assert.False(t, TripRequested.IsTerminal())
}

func TestDeliveryStatusAdvances(t *testing.T) {
	assert.True(t, DeliveryPending.Advances(DeliverySent))
	assert.True(t, DeliverySent.Advances(DeliveryDelivered))
	assert.True(t, DeliveryDelivered.Advances(DeliveryRead))

	// same payload twice advances at most once
	assert.False(t, DeliveryDelivered.Advances(DeliveryDelivered))
	assert.False(t, DeliveryRead.Advances(DeliverySent))
	assert.False(t, DeliveryRead.Advances(DeliveryFailed))
}

func TestOTPLockLocked(t *testing.T) {
	now := time.Now()

	var nilLock *OTPLock
	assert.False(t, nilLock.Locked(now))

	until := now.Add(10 * time.Minute)
	lock := &OTPLock{Phone: "+15550001111", FailedAttempts: 5, LockedUntil: &until}
	assert.True(t, lock.Locked(now))
	assert.False(t, lock.Locked(now.Add(11*time.Minute)))

	lock.LockedUntil = nil
	assert.False(t, lock.Locked(now))
}
