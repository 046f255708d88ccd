package trips

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/internal/routing"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

type fakeRepo struct {
	mu        sync.Mutex
	trips     map[uuid.UUID]*models.Trip
	routes    map[uuid.UUID][]geo.LatLng
	sos       []*models.SOSEvent
	scheduled []*models.Trip
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		trips:  make(map[uuid.UUID]*models.Trip),
		routes: make(map[uuid.UUID][]geo.LatLng),
	}
}

func (f *fakeRepo) put(t *models.Trip) *models.Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *t
	f.trips[t.ID] = &copied
	return t
}

func (f *fakeRepo) Create(_ context.Context, trip *models.Trip, polyline []geo.LatLng) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *trip
	f.trips[trip.ID] = &copied
	f.routes[trip.ID] = polyline
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (f *fakeRepo) Transition(_ context.Context, id uuid.UUID, from, to models.TripStatus, cancelReason *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if cancelReason != nil {
		t.CancelReason = cancelReason
	}
	return true, nil
}

func (f *fakeRepo) ActiveTripForDriver(_ context.Context, driverID uuid.UUID) (*location.TripContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trips {
		if t.DriverID == nil || *t.DriverID != driverID || t.Status.IsTerminal() || t.Status == models.TripRequested {
			continue
		}
		return &location.TripContext{
			TripID:   t.ID,
			RiderID:  t.RiderID,
			Status:   t.Status,
			Pickup:   geo.LatLng{Lat: t.PickupLat, Lng: t.PickupLng},
			Polyline: f.routes[t.ID],
		}, nil
	}
	return nil, nil
}

func (f *fakeRepo) MarkPaymentCollected(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[id]
	if !ok || t.PaymentMethod != models.PaymentCash || t.Status != models.TripCompleted || t.PaymentStatus != models.PaymentUnpaid {
		return false, nil
	}
	t.PaymentStatus = models.PaymentCollected
	return true, nil
}

func (f *fakeRepo) RecordSOS(_ context.Context, event *models.SOSEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sos = append(f.sos, event)
	return nil
}

func (f *fakeRepo) ListByRider(_ context.Context, riderID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Trip
	for _, t := range f.trips {
		if t.RiderID == riderID {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByDriver(_ context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Trip
	for _, t := range f.trips {
		if t.DriverID != nil && *t.DriverID == driverID {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*models.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled, nil
}

func (f *fakeRepo) status(id uuid.UUID) models.TripStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trips[id].Status
}

type fakeRouter struct {
	route *routing.Route
	err   error
}

func (f *fakeRouter) Directions(_ context.Context, start, end geo.LatLng) (*routing.Route, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.route, nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []uuid.UUID
}

func (f *fakeDispatcher) Dispatch(_ context.Context, trip *models.Trip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, trip.ID)
}

func (f *fakeDispatcher) Accept(_ context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	return &models.Trip{ID: tripID, DriverID: &driverID, Status: models.TripAccepted}, nil
}

func (f *fakeDispatcher) Reject(_ context.Context, tripID, driverID uuid.UUID) error {
	return nil
}

type fakeSettler struct {
	repo *fakeRepo
	err  error
}

func (f *fakeSettler) Settle(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	t := f.repo.trips[tripID]
	t.Status = models.TripCompleted
	commission := t.Fare * 0.20
	earnings := t.Fare - commission
	t.Commission = &commission
	t.DriverEarnings = &earnings
	copied := *t
	return &copied, nil
}

type fakePool struct {
	mu       sync.Mutex
	released []uuid.UUID
}

func (f *fakePool) Release(_ context.Context, driverID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, driverID)
	return nil
}

type emitted struct {
	room string
	msg  *rooms.Message
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) EmitToRoom(room string, msg *rooms.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{room: room, msg: msg})
	return nil
}

func (f *fakeEmitter) rooms(msgType string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.msg.Type == msgType {
			out = append(out, e.room)
		}
	}
	return out
}

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeBus) Publish(_ context.Context, subject string, _ *eventbus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeAlerter) RecordAlert(_ context.Context, kind, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

type harness struct {
	svc        *Service
	repo       *fakeRepo
	router     *fakeRouter
	dispatcher *fakeDispatcher
	settler    *fakeSettler
	pool       *fakePool
	emitter    *fakeEmitter
	bus        *fakeBus
	alerts     *fakeAlerter
}

func newHarness() *harness {
	h := &harness{
		repo: newFakeRepo(),
		router: &fakeRouter{route: &routing.Route{
			Polyline:       []geo.LatLng{{Lat: 34.5553, Lng: 69.2075}, {Lat: 34.5700, Lng: 69.2075}},
			DistanceMeters: 5000,
			DurationSec:    600,
		}},
		dispatcher: &fakeDispatcher{},
		pool:       &fakePool{},
		emitter:    &fakeEmitter{},
		bus:        &fakeBus{},
		alerts:     &fakeAlerter{},
	}
	h.settler = &fakeSettler{repo: h.repo}
	h.svc = NewService(h.repo, h.router, h.pool, h.emitter, h.bus, h.alerts)
	h.svc.SetDispatcher(h.dispatcher)
	h.svc.SetSettler(h.settler)
	return h
}

func (h *harness) seedTrip(status models.TripStatus, driverID *uuid.UUID) *models.Trip {
	return h.repo.put(&models.Trip{
		ID:            uuid.New(),
		RiderID:       uuid.New(),
		DriverID:      driverID,
		Status:        status,
		PickupLat:     34.5553,
		PickupLng:     69.2075,
		DropLat:       34.5700,
		DropLng:       69.2075,
		Fare:          10,
		PaymentMethod: models.PaymentCash,
		PaymentStatus: models.PaymentUnpaid,
	})
}

func riderActor(userID uuid.UUID) Actor {
	return Actor{UserID: userID, Role: models.RoleRider}
}

func driverActor(driverID uuid.UUID) Actor {
	return Actor{UserID: uuid.New(), DriverID: &driverID, Role: models.RoleDriver}
}

func adminActor() Actor {
	return Actor{UserID: uuid.New(), Role: models.RoleAdmin}
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.ErrorCode)
}

func TestCreateEstimatesFareFromRoute(t *testing.T) {
	h := newHarness()
	rider := uuid.New()

	trip, err := h.svc.Create(context.Background(), riderActor(rider), &CreateTripRequest{
		PickupLat: 34.5553, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
	})
	require.NoError(t, err)

	// 5km at 1.5/km plus 10min at 0.25/min
	assert.Equal(t, 10.0, trip.Fare)
	assert.Equal(t, 5.0, trip.DistanceKm)
	assert.Equal(t, 10, trip.DurationMin)
	assert.Equal(t, models.TripRequested, trip.Status)
	assert.Equal(t, models.ChannelApp, trip.BookingChannel)
	assert.Equal(t, models.PaymentCash, trip.PaymentMethod)

	assert.Equal(t, []uuid.UUID{trip.ID}, h.dispatcher.dispatched)
	assert.Contains(t, h.emitter.rooms("trip:requested"), rooms.UserRoom(rider.String()))
	assert.Contains(t, h.bus.subjects, eventbus.SubjectTripRequested)
}

func TestCreateFallsBackToStraightLine(t *testing.T) {
	h := newHarness()
	h.router.err = errors.New("routing circuit open")

	trip, err := h.svc.Create(context.Background(), riderActor(uuid.New()), &CreateTripRequest{
		PickupLat: 34.5553, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
	})
	require.NoError(t, err)

	want := geo.Haversine(34.5553, 69.2075, 34.5700, 69.2075)
	assert.InDelta(t, want, trip.DistanceKm, 0.01)
	assert.Equal(t, geo.EstimateDuration(want), trip.DurationMin)

	// straight-line fallback stores the two endpoints as the route
	assert.Len(t, h.repo.routes[trip.ID], 2)
}

func TestCreateServiceMultiplier(t *testing.T) {
	h := newHarness()

	trip, err := h.svc.Create(context.Background(), riderActor(uuid.New()), &CreateTripRequest{
		PickupLat: 34.5553, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
		ServiceType: "xl",
	})
	require.NoError(t, err)

	assert.Equal(t, 16.0, trip.Fare)
}

func TestCreateScheduledSkipsImmediateDispatch(t *testing.T) {
	h := newHarness()
	later := time.Now().Add(2 * time.Hour)

	trip, err := h.svc.Create(context.Background(), riderActor(uuid.New()), &CreateTripRequest{
		PickupLat: 34.5553, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
		ScheduledFor: &later,
	})
	require.NoError(t, err)

	assert.NotNil(t, trip.ScheduledFor)
	assert.Empty(t, h.dispatcher.dispatched)
}

func TestCreateRejectsPastSchedule(t *testing.T) {
	h := newHarness()
	past := time.Now().Add(-time.Minute)

	_, err := h.svc.Create(context.Background(), riderActor(uuid.New()), &CreateTripRequest{
		PickupLat: 34.5553, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
		ScheduledFor: &past,
	})
	assertErrorCode(t, err, common.CodeValidationFailed)
}

func TestCreateAdminPhoneBooking(t *testing.T) {
	h := newHarness()
	rider := uuid.New()

	trip, err := h.svc.Create(context.Background(), adminActor(), &CreateTripRequest{
		PickupLat: 34.5553, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
		RiderID: &rider,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChannelPhone, trip.BookingChannel)
	assert.Equal(t, rider, trip.RiderID)
}

func TestCreateValidatesCoordinates(t *testing.T) {
	h := newHarness()

	_, err := h.svc.Create(context.Background(), riderActor(uuid.New()), &CreateTripRequest{
		PickupLat: 95, PickupLng: 69.2075,
		DropLat: 34.5700, DropLng: 69.2075,
	})
	assertErrorCode(t, err, common.CodeValidationFailed)
}

func TestRiderCancelsOwnTripBeforeStart(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	got, err := h.svc.ChangeStatus(context.Background(), riderActor(trip.RiderID), trip.ID, models.TripCancelled, "changed plans")
	require.NoError(t, err)

	assert.Equal(t, models.TripCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "changed plans", *got.CancelReason)

	assert.Equal(t, []uuid.UUID{driverID}, h.pool.released)
	cancelRooms := h.emitter.rooms("trip:cancelled")
	assert.Contains(t, cancelRooms, rooms.UserRoom(trip.RiderID.String()))
	assert.Contains(t, cancelRooms, rooms.DriverRoom(driverID.String()))
	assert.Contains(t, h.bus.subjects, eventbus.SubjectTripCancelled)
}

func TestRiderCannotCancelStartedTrip(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)

	_, err := h.svc.ChangeStatus(context.Background(), riderActor(trip.RiderID), trip.ID, models.TripCancelled, "")
	assertErrorCode(t, err, common.CodeForbidden)
	assert.Equal(t, models.TripInProgress, h.repo.status(trip.ID))
}

func TestRiderCannotAdvanceTrip(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	_, err := h.svc.ChangeStatus(context.Background(), riderActor(trip.RiderID), trip.ID, models.TripArrived, "")
	assertErrorCode(t, err, common.CodeForbidden)
}

func TestDriverAdvancesOwnTrip(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)
	actor := driverActor(driverID)

	got, err := h.svc.ChangeStatus(context.Background(), actor, trip.ID, models.TripArrived, "")
	require.NoError(t, err)
	assert.Equal(t, models.TripArrived, got.Status)
	assert.Contains(t, h.emitter.rooms("trip:driver_arrived"), rooms.UserRoom(trip.RiderID.String()))

	got, err = h.svc.ChangeStatus(context.Background(), actor, trip.ID, models.TripInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, models.TripInProgress, got.Status)
	assert.Contains(t, h.bus.subjects, eventbus.SubjectTripStarted)
}

func TestDriverCannotCancel(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	_, err := h.svc.ChangeStatus(context.Background(), driverActor(driverID), trip.ID, models.TripCancelled, "")
	assertErrorCode(t, err, common.CodeForbidden)
}

func TestDriverCannotTouchForeignTrip(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	_, err := h.svc.ChangeStatus(context.Background(), driverActor(uuid.New()), trip.ID, models.TripArrived, "")
	assertErrorCode(t, err, common.CodeForbidden)
}

func TestTransitionRejectsSkippedStates(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	_, err := h.svc.ChangeStatus(context.Background(), driverActor(driverID), trip.ID, models.TripInProgress, "")
	assertErrorCode(t, err, common.CodeInvalidStateTransition)
}

func TestTerminalTripRejectsTransitions(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	_, err := h.svc.ChangeStatus(context.Background(), adminActor(), trip.ID, models.TripCancelled, "ops")
	require.NoError(t, err)

	_, err = h.svc.ChangeStatus(context.Background(), adminActor(), trip.ID, models.TripCancelled, "again")
	assertErrorCode(t, err, common.CodeInvalidStateTransition)
}

func TestCompleteDelegatesToSettler(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)

	got, err := h.svc.ChangeStatus(context.Background(), driverActor(driverID), trip.ID, models.TripCompleted, "")
	require.NoError(t, err)

	assert.Equal(t, models.TripCompleted, got.Status)
	require.NotNil(t, got.Commission)
	assert.Equal(t, 2.0, *got.Commission)
	require.NotNil(t, got.DriverEarnings)
	assert.Equal(t, 8.0, *got.DriverEarnings)

	assert.Equal(t, []uuid.UUID{driverID}, h.pool.released)
	assert.Contains(t, h.bus.subjects, eventbus.SubjectTripCompleted)
}

func TestCompletePropagatesSettlementFailure(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)
	h.settler.err = common.NewInsufficientBalanceError("wallet balance too low")

	_, err := h.svc.ChangeStatus(context.Background(), driverActor(driverID), trip.ID, models.TripCompleted, "")
	assertErrorCode(t, err, common.CodeInsufficientBalance)
	assert.Empty(t, h.pool.released)
}

func TestAdminForcesAnyValidTransition(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)

	got, err := h.svc.ChangeStatus(context.Background(), adminActor(), trip.ID, models.TripCancelled, "fraud review")
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelled, got.Status)
}

func TestAdminCannotAcceptWithoutDriver(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripRequested, nil)

	_, err := h.svc.ChangeStatus(context.Background(), adminActor(), trip.ID, models.TripAccepted, "")
	assertErrorCode(t, err, common.CodeValidationFailed)
}

func TestCancelNoDrivers(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripRequested, nil)

	require.NoError(t, h.svc.CancelNoDrivers(context.Background(), trip.ID))
	assert.Equal(t, models.TripCancelled, h.repo.status(trip.ID))

	got, err := h.repo.GetByID(context.Background(), trip.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, models.CancelReasonNoDrivers, *got.CancelReason)

	// losing the CAS to a last-moment accept is not an error
	require.NoError(t, h.svc.CancelNoDrivers(context.Background(), trip.ID))
}

func TestAutoArrive(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	require.NoError(t, h.svc.AutoArrive(context.Background(), trip.ID))
	assert.Equal(t, models.TripArrived, h.repo.status(trip.ID))
	assert.Contains(t, h.emitter.rooms("trip:driver_arrived"), rooms.UserRoom(trip.RiderID.String()))

	// repeated fixes at the pickup are a no-op
	require.NoError(t, h.svc.AutoArrive(context.Background(), trip.ID))
	assert.Equal(t, models.TripArrived, h.repo.status(trip.ID))
	assert.Len(t, h.emitter.rooms("trip:driver_arrived"), 2) // rider + driver rooms, once
}

func TestSOSRecordsAuditAndAlertsAdmins(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)
	lat, lng := 34.56, 69.21

	event, err := h.svc.SOS(context.Background(), riderActor(trip.RiderID), trip.ID, &SOSRequest{
		Lat: &lat, Lng: &lng, Note: "driver <script>went</script> off route",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TripInProgress, h.repo.status(trip.ID))
	require.Len(t, h.repo.sos, 1)
	require.NotNil(t, event.Note)
	assert.NotContains(t, *event.Note, "<")

	assert.Contains(t, h.emitter.rooms("trip:sos"), rooms.AdminRoom)
	assert.Contains(t, h.bus.subjects, eventbus.SubjectTripSOS)
	assert.Contains(t, h.alerts.kinds, "SOS")
}

func TestSOSRejectsNonParticipant(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)

	_, err := h.svc.SOS(context.Background(), riderActor(uuid.New()), trip.ID, &SOSRequest{})
	assertErrorCode(t, err, common.CodeForbidden)
}

func TestSOSRejectsTerminalTrip(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripCompleted, &driverID)

	_, err := h.svc.SOS(context.Background(), riderActor(trip.RiderID), trip.ID, &SOSRequest{})
	assertErrorCode(t, err, common.CodeConflict)
}

func TestPaymentCollected(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripCompleted, &driverID)

	got, err := h.svc.PaymentCollected(context.Background(), driverActor(driverID), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCollected, got.PaymentStatus)

	// second collection attempt is not collectable anymore
	_, err = h.svc.PaymentCollected(context.Background(), driverActor(driverID), trip.ID)
	assertErrorCode(t, err, common.CodeConflict)
}

func TestPaymentCollectedRequiresAssignedDriver(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripCompleted, &driverID)

	_, err := h.svc.PaymentCollected(context.Background(), driverActor(uuid.New()), trip.ID)
	assertErrorCode(t, err, common.CodeForbidden)
}

func TestPaymentCollectedRejectsLiveTrip(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)

	_, err := h.svc.PaymentCollected(context.Background(), driverActor(driverID), trip.ID)
	assertErrorCode(t, err, common.CodeConflict)
}

func TestGetTripAuthorization(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripAccepted, &driverID)

	_, err := h.svc.GetTrip(context.Background(), riderActor(trip.RiderID), trip.ID)
	assert.NoError(t, err)

	_, err = h.svc.GetTrip(context.Background(), driverActor(driverID), trip.ID)
	assert.NoError(t, err)

	_, err = h.svc.GetTrip(context.Background(), adminActor(), trip.ID)
	assert.NoError(t, err)

	_, err = h.svc.GetTrip(context.Background(), riderActor(uuid.New()), trip.ID)
	assertErrorCode(t, err, common.CodeForbidden)
}

func TestGetTripNotFound(t *testing.T) {
	h := newHarness()

	_, err := h.svc.GetTrip(context.Background(), adminActor(), uuid.New())
	assertErrorCode(t, err, common.CodeNotFound)
}

func TestActiveTripForDriverExposesRoute(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	trip := h.seedTrip(models.TripInProgress, &driverID)
	h.repo.routes[trip.ID] = []geo.LatLng{{Lat: 34.5553, Lng: 69.2075}, {Lat: 34.5700, Lng: 69.2075}}

	tc, err := h.svc.ActiveTripForDriver(context.Background(), driverID)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, trip.ID, tc.TripID)
	assert.Equal(t, models.TripInProgress, tc.Status)
	assert.Len(t, tc.Polyline, 2)

	tc, err = h.svc.ActiveTripForDriver(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, tc)
}

func TestDispatchDueScheduled(t *testing.T) {
	h := newHarness()
	past := time.Now().Add(-time.Minute)
	due := &models.Trip{ID: uuid.New(), RiderID: uuid.New(), Status: models.TripRequested, ScheduledFor: &past}
	h.repo.scheduled = []*models.Trip{due}

	n, err := h.svc.DispatchDueScheduled(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{due.ID}, h.dispatcher.dispatched)
}

func TestEstimateFareMinimum(t *testing.T) {
	assert.Equal(t, minimumFare, estimateFare(0.5, 2, "economy"))
	assert.Equal(t, 16.0, estimateFare(5, 10, "xl"))
	assert.Equal(t, 10.0, estimateFare(5, 10, "unknown-class"))
}
