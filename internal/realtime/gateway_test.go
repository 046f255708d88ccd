package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/internal/trips"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

type fakeHub struct {
	handlers map[string]rooms.MessageHandler
	moves    []string
	emits    map[string][]*rooms.Message
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		handlers: make(map[string]rooms.MessageHandler),
		emits:    make(map[string][]*rooms.Message),
	}
}

func (f *fakeHub) RegisterHandler(msgType string, handler rooms.MessageHandler) {
	f.handlers[msgType] = handler
}

func (f *fakeHub) MoveToGeoRoom(_ *rooms.Client, newHash string) {
	f.moves = append(f.moves, newHash)
}

func (f *fakeHub) EmitToRoom(room string, msg *rooms.Message) error {
	f.emits[room] = append(f.emits[room], msg)
	return nil
}

func (f *fakeHub) lastReply(t *testing.T, userID string) *rooms.Message {
	t.Helper()
	msgs := f.emits[rooms.UserRoom(userID)]
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type fakeLocation struct {
	update    *location.Update
	updateErr error
	nearby    []uuid.UUID
	lastLat   float64
	lastLng   float64
	radius    float64
}

func (f *fakeLocation) UpdateDriverLocation(_ context.Context, _ uuid.UUID, lat, lng, _ float64) (*location.Update, error) {
	f.lastLat, f.lastLng = lat, lng
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.update, nil
}

func (f *fakeLocation) NearbyDrivers(_ context.Context, lat, lng, radiusKm float64, _ int) ([]uuid.UUID, error) {
	f.lastLat, f.lastLng, f.radius = lat, lng, radiusKm
	return f.nearby, nil
}

type fakeDispatch struct {
	trip      *models.Trip
	acceptErr error
	rejected  []uuid.UUID
}

func (f *fakeDispatch) Accept(_ context.Context, tripID, _ uuid.UUID) (*models.Trip, error) {
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	if f.trip != nil {
		return f.trip, nil
	}
	return &models.Trip{ID: tripID, Status: models.TripAccepted}, nil
}

func (f *fakeDispatch) Reject(_ context.Context, tripID, _ uuid.UUID) error {
	f.rejected = append(f.rejected, tripID)
	return nil
}

type fakeTrips struct {
	trip       *models.Trip
	actor      trips.Actor
	target     models.TripStatus
	changeErr  error
	changeCall int
}

func (f *fakeTrips) GetTrip(_ context.Context, actor trips.Actor, tripID uuid.UUID) (*models.Trip, error) {
	f.actor = actor
	if f.trip != nil {
		return f.trip, nil
	}
	return &models.Trip{ID: tripID, Status: models.TripInProgress}, nil
}

func (f *fakeTrips) ChangeStatus(_ context.Context, actor trips.Actor, tripID uuid.UUID, target models.TripStatus, _ string) (*models.Trip, error) {
	f.actor = actor
	f.target = target
	f.changeCall++
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	return &models.Trip{ID: tripID, Status: target}, nil
}

type harness struct {
	gw        *Gateway
	hub       *fakeHub
	locations *fakeLocation
	dispatch  *fakeDispatch
	trips     *fakeTrips
}

func newHarness() *harness {
	h := &harness{
		hub:       newFakeHub(),
		locations: &fakeLocation{update: &location.Update{GeoHash: "tv6mkqu"}},
		dispatch:  &fakeDispatch{},
		trips:     &fakeTrips{},
	}
	h.gw = NewGateway(h.hub, h.locations, h.dispatch, h.trips, 7)
	h.gw.Register()
	return h
}

func riderClient(userID uuid.UUID) *rooms.Client {
	return rooms.NewClient(userID.String(), "", "rider", nil, nil)
}

func driverClient(userID, driverID uuid.UUID) *rooms.Client {
	return rooms.NewClient(userID.String(), driverID.String(), "driver", nil, nil)
}

func send(h *harness, c *rooms.Client, msgType string, data map[string]interface{}) {
	h.hub.handlers[msgType](c, &rooms.Message{Type: msgType, Data: data})
}

func TestRegisterWiresAllHandlers(t *testing.T) {
	h := newHarness()

	for _, msgType := range []string{
		"connect:location", "driver:location",
		"offer:accept", "offer:reject",
		"rider:get_nearby_drivers", "trip:status",
		"trip:arrived", "trip:start", "trip:complete",
	} {
		assert.Contains(t, h.hub.handlers, msgType)
	}
}

func TestConnectLocationJoinsGeoRoom(t *testing.T) {
	h := newHarness()
	c := riderClient(uuid.New())

	send(h, c, "connect:location", map[string]interface{}{"lat": 34.5553, "lng": 69.2075})

	require.Len(t, h.hub.moves, 1)
	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "connect:location:ack", reply.Type)
	assert.Equal(t, h.hub.moves[0], reply.Data["geo_hash"])
}

func TestConnectLocationRejectsBadPayload(t *testing.T) {
	h := newHarness()
	c := riderClient(uuid.New())

	send(h, c, "connect:location", map[string]interface{}{"lat": 34.5553})

	assert.Empty(t, h.hub.moves)
	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "connect:location", reply.Data["in_reply_to"])
}

func TestDriverLocationRequiresDriverConnection(t *testing.T) {
	h := newHarness()
	c := riderClient(uuid.New())

	send(h, c, "driver:location", map[string]interface{}{"lat": 34.5553, "lng": 69.2075})

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "driver connection required", reply.Data["message"])
}

func TestDriverLocationFollowsIntoGeoRoom(t *testing.T) {
	h := newHarness()
	c := driverClient(uuid.New(), uuid.New())

	send(h, c, "driver:location", map[string]interface{}{"lat": 34.5553, "lng": 69.2075, "bearing": 90.0})

	require.Len(t, h.hub.moves, 1)
	assert.Equal(t, "tv6mkqu", h.hub.moves[0])

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "driver:location:ack", reply.Type)
	assert.Equal(t, false, reply.Data["flagged"])
}

func TestFlaggedFixDoesNotMoveClient(t *testing.T) {
	h := newHarness()
	h.locations.update = &location.Update{Flagged: true, AnomalyCount: 2}
	c := driverClient(uuid.New(), uuid.New())

	send(h, c, "driver:location", map[string]interface{}{"lat": 34.5553, "lng": 69.2075})

	assert.Empty(t, h.hub.moves)
	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, true, reply.Data["flagged"])
}

func TestOfferAcceptRoutesToDispatch(t *testing.T) {
	h := newHarness()
	c := driverClient(uuid.New(), uuid.New())
	tripID := uuid.New()

	send(h, c, "offer:accept", map[string]interface{}{"trip_id": tripID.String()})

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "offer:accept:ack", reply.Type)
	assert.Equal(t, tripID.String(), reply.Data["trip_id"])
	assert.Equal(t, string(models.TripAccepted), reply.Data["status"])
}

func TestLosingAcceptGetsOfferError(t *testing.T) {
	h := newHarness()
	h.dispatch.acceptErr = common.NewOfferExpiredError("offer is no longer available")
	c := driverClient(uuid.New(), uuid.New())
	tripID := uuid.New()

	send(h, c, "offer:accept", map[string]interface{}{"trip_id": tripID.String()})

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "offer:error", reply.Type)
	assert.Equal(t, tripID.String(), reply.Data["trip_id"])
	assert.Equal(t, common.CodeOfferExpired, reply.Data["code"])
	assert.Equal(t, "offer is no longer available", reply.Data["message"])
}

func TestOfferErrorHidesInternalFailures(t *testing.T) {
	h := newHarness()
	h.dispatch.acceptErr = errors.New("pq: connection reset")
	c := driverClient(uuid.New(), uuid.New())

	send(h, c, "offer:accept", map[string]interface{}{"trip_id": uuid.New().String()})

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "offer:error", reply.Type)
	assert.Equal(t, "internal error", reply.Data["message"])
}

func TestOfferRejectRoutesToDispatch(t *testing.T) {
	h := newHarness()
	c := driverClient(uuid.New(), uuid.New())
	tripID := uuid.New()

	send(h, c, "offer:reject", map[string]interface{}{"trip_id": tripID.String()})

	require.Len(t, h.dispatch.rejected, 1)
	assert.Equal(t, tripID, h.dispatch.rejected[0])
}

func TestNearbyDriversDefaultsRadius(t *testing.T) {
	h := newHarness()
	h.locations.nearby = []uuid.UUID{uuid.New(), uuid.New()}
	c := riderClient(uuid.New())

	send(h, c, "rider:get_nearby_drivers", map[string]interface{}{"lat": 34.5553, "lng": 69.2075})

	assert.Equal(t, defaultNearbyRadiusKm, h.locations.radius)

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "nearby_drivers", reply.Type)
	assert.Len(t, reply.Data["drivers"], 2)
}

func TestTripStatusCarriesConnectionIdentity(t *testing.T) {
	h := newHarness()
	userID, driverID := uuid.New(), uuid.New()
	c := driverClient(userID, driverID)

	send(h, c, "trip:status", map[string]interface{}{"trip_id": uuid.New().String()})

	assert.Equal(t, userID, h.trips.actor.UserID)
	require.NotNil(t, h.trips.actor.DriverID)
	assert.Equal(t, driverID, *h.trips.actor.DriverID)

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "trip:status", reply.Type)
}

func TestTripTransitionsOverSocket(t *testing.T) {
	h := newHarness()
	userID, driverID := uuid.New(), uuid.New()
	c := driverClient(userID, driverID)
	tripID := uuid.New()

	cases := []struct {
		event  string
		target models.TripStatus
	}{
		{"trip:arrived", models.TripArrived},
		{"trip:start", models.TripInProgress},
		{"trip:complete", models.TripCompleted},
	}

	for _, tc := range cases {
		send(h, c, tc.event, map[string]interface{}{"trip_id": tripID.String()})

		assert.Equal(t, tc.target, h.trips.target)
		require.NotNil(t, h.trips.actor.DriverID)
		assert.Equal(t, driverID, *h.trips.actor.DriverID)

		reply := h.hub.lastReply(t, c.UserID)
		assert.Equal(t, tc.event+":ack", reply.Type)
		assert.Equal(t, string(tc.target), reply.Data["status"])
	}
	assert.Equal(t, len(cases), h.trips.changeCall)
}

func TestTripTransitionSurfacesGuardErrors(t *testing.T) {
	h := newHarness()
	h.trips.changeErr = common.NewInvalidStateTransitionError("trip is not in a state that allows this change")
	c := driverClient(uuid.New(), uuid.New())

	send(h, c, "trip:start", map[string]interface{}{"trip_id": uuid.New().String()})

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, common.CodeInvalidStateTransition, reply.Data["code"])
}

func TestMalformedTripIDRejected(t *testing.T) {
	h := newHarness()
	c := driverClient(uuid.New(), uuid.New())

	send(h, c, "offer:accept", map[string]interface{}{"trip_id": "not-a-uuid"})

	reply := h.hub.lastReply(t, c.UserID)
	assert.Equal(t, "error", reply.Type)
}
