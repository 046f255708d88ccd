package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/internal/auth"
	"github.com/hamsafar/dispatch/internal/drivers"
	"github.com/hamsafar/dispatch/internal/trips"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/test/helpers"
)

func strPtr(s string) *string { return &s }

// TestTripLifecycleAgainstDatabase walks a cash trip through its full status
// machine at the repository layer: the compare-and-set transition guards are
// what the service layer's concurrency story rests on.
func TestTripLifecycleAgainstDatabase(t *testing.T) {
	pool := helpers.SetupTestDatabase(t)
	helpers.ResetTables(t, pool,
		"sos_events", "trip_offers", "trips", "driver_locations", "drivers", "users",
	)

	ctx := context.Background()
	authRepo := auth.NewRepository(pool)
	driversRepo := drivers.NewRepository(pool)
	tripsRepo := trips.NewRepository(pool)

	rider := &models.User{
		ID:       uuid.New(),
		Phone:    "+93700000001",
		Role:     models.RoleRider,
		IsActive: true,
	}
	require.NoError(t, authRepo.CreateUser(ctx, rider))

	driverUser := &models.User{
		ID:       uuid.New(),
		Phone:    "+93700000002",
		Role:     models.RoleDriver,
		IsActive: true,
	}
	driver := &models.Driver{
		ID:          uuid.New(),
		UserID:      driverUser.ID,
		Status:      models.DriverOffline,
		VehicleType: "economy",
		PlateNumber: "KBL-1234",
		City:        "Kabul",
		Province:    "Kabul",
	}
	require.NoError(t, driversRepo.CreateWithUser(ctx, driverUser, driver))

	trip := &models.Trip{
		ID:             uuid.New(),
		RiderID:        rider.ID,
		Status:         models.TripRequested,
		PickupLat:      34.5553,
		PickupLng:      69.2075,
		DropLat:        34.5260,
		DropLng:        69.1777,
		Fare:           12.5,
		DistanceKm:     5.2,
		DurationMin:    14,
		ServiceType:    "economy",
		PaymentMethod:  models.PaymentCash,
		PaymentStatus:  models.PaymentUnpaid,
		BookingChannel: models.ChannelApp,
	}
	polyline := []geo.LatLng{
		{Lat: 34.5553, Lng: 69.2075},
		{Lat: 34.5400, Lng: 69.1900},
		{Lat: 34.5260, Lng: 69.1777},
	}
	require.NoError(t, tripsRepo.Create(ctx, trip, polyline))

	loaded, err := tripsRepo.GetByID(ctx, trip.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.TripRequested, loaded.Status)
	assert.Equal(t, models.PaymentUnpaid, loaded.PaymentStatus)

	// walk the happy path with CAS guards
	for _, step := range []struct{ from, to models.TripStatus }{
		{models.TripRequested, models.TripAccepted},
		{models.TripAccepted, models.TripArrived},
		{models.TripArrived, models.TripInProgress},
		{models.TripInProgress, models.TripCompleted},
	} {
		ok, err := tripsRepo.Transition(ctx, trip.ID, step.from, step.to, nil)
		require.NoError(t, err)
		assert.True(t, ok, "transition %s -> %s", step.from, step.to)
	}

	// a stale writer loses the CAS
	ok, err := tripsRepo.Transition(ctx, trip.ID, models.TripInProgress, models.TripCompleted, nil)
	require.NoError(t, err)
	assert.False(t, ok, "repeating a transition must not succeed")

	// cash collection flips payment status exactly once
	ok, err = tripsRepo.MarkPaymentCollected(ctx, trip.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tripsRepo.MarkPaymentCollected(ctx, trip.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second collection must be a no-op")

	mine, err := tripsRepo.ListByRider(ctx, rider.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.TripCompleted, mine[0].Status)
	assert.Equal(t, models.PaymentCollected, mine[0].PaymentStatus)
}

// TestCancelKeepsReason verifies the cancel path stores the reason and that
// terminal trips reject further transitions.
func TestCancelKeepsReason(t *testing.T) {
	pool := helpers.SetupTestDatabase(t)
	helpers.ResetTables(t, pool,
		"sos_events", "trip_offers", "trips", "driver_locations", "drivers", "users",
	)

	ctx := context.Background()
	authRepo := auth.NewRepository(pool)
	tripsRepo := trips.NewRepository(pool)

	rider := &models.User{ID: uuid.New(), Phone: "+93700000003", Role: models.RoleRider, IsActive: true}
	require.NoError(t, authRepo.CreateUser(ctx, rider))

	trip := &models.Trip{
		ID:             uuid.New(),
		RiderID:        rider.ID,
		Status:         models.TripRequested,
		PickupLat:      34.5,
		PickupLng:      69.2,
		DropLat:        34.6,
		DropLng:        69.3,
		Fare:           8,
		PaymentMethod:  models.PaymentCash,
		PaymentStatus:  models.PaymentUnpaid,
		BookingChannel: models.ChannelApp,
	}
	require.NoError(t, tripsRepo.Create(ctx, trip, nil))

	ok, err := tripsRepo.Transition(ctx, trip.ID, models.TripRequested, models.TripCancelled, strPtr("rider changed plans"))
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := tripsRepo.GetByID(ctx, trip.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.CancelReason)
	assert.Equal(t, "rider changed plans", *loaded.CancelReason)

	ok, err = tripsRepo.Transition(ctx, trip.ID, models.TripCancelled, models.TripAccepted, nil)
	require.NoError(t, err)
	assert.False(t, ok, "terminal trips must stay terminal")
}
