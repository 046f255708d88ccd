package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/internal/trips"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/geohash"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

// handlerTimeout bounds one inbound message's work. The read pump is
// single-threaded per connection; a stuck handler would stall the socket.
const handlerTimeout = 10 * time.Second

// defaultNearbyRadiusKm applies when a rider omits the search radius.
const defaultNearbyRadiusKm = 3.0

// LocationService is the position-processing surface of the gateway.
type LocationService interface {
	UpdateDriverLocation(ctx context.Context, driverID uuid.UUID, rawLat, rawLng, bearing float64) (*location.Update, error)
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]uuid.UUID, error)
}

// DispatchService resolves driver responses to trip offers.
type DispatchService interface {
	Accept(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error)
	Reject(ctx context.Context, tripID, driverID uuid.UUID) error
}

// TripService serves trip lookups and status transitions over the socket.
type TripService interface {
	GetTrip(ctx context.Context, actor trips.Actor, tripID uuid.UUID) (*models.Trip, error)
	ChangeStatus(ctx context.Context, actor trips.Actor, tripID uuid.UUID, target models.TripStatus, reason string) (*models.Trip, error)
}

// Hub is the room layer the gateway sits on.
type Hub interface {
	RegisterHandler(msgType string, handler rooms.MessageHandler)
	MoveToGeoRoom(c *rooms.Client, newHash string)
	EmitToRoom(room string, msg *rooms.Message) error
}

// Gateway is the WebSocket edge: it validates inbound payloads, maps the
// connection's claims to a domain actor and routes events to the location,
// dispatch and trip services. All outbound traffic goes through rooms.
type Gateway struct {
	hub       Hub
	locations LocationService
	dispatch  DispatchService
	trips     TripService
	precision int

	now func() time.Time
}

// NewGateway creates a gateway. precision is the geohash room precision and
// must match the location service's.
func NewGateway(hub Hub, locations LocationService, dispatch DispatchService, tripSvc TripService, precision int) *Gateway {
	if precision <= 0 {
		precision = geohash.DefaultPrecision
	}
	return &Gateway{
		hub:       hub,
		locations: locations,
		dispatch:  dispatch,
		trips:     tripSvc,
		precision: precision,
		now:       time.Now,
	}
}

// Register wires the gateway's message handlers into the hub. Call once
// before the hub starts accepting connections.
func (g *Gateway) Register() {
	g.hub.RegisterHandler("connect:location", g.handleConnectLocation)
	g.hub.RegisterHandler("driver:location", g.handleDriverLocation)
	g.hub.RegisterHandler("offer:accept", g.handleOfferAccept)
	g.hub.RegisterHandler("offer:reject", g.handleOfferReject)
	g.hub.RegisterHandler("rider:get_nearby_drivers", g.handleNearbyDrivers)
	g.hub.RegisterHandler("trip:status", g.handleTripStatus)
	g.hub.RegisterHandler("trip:arrived", g.tripTransitionHandler(models.TripArrived))
	g.hub.RegisterHandler("trip:start", g.tripTransitionHandler(models.TripInProgress))
	g.hub.RegisterHandler("trip:complete", g.tripTransitionHandler(models.TripCompleted))
}

// OnConnect runs when a client finishes the handshake. A location hint in
// the query string would go here; for now clients join their geo room with
// an explicit connect:location message.
func (g *Gateway) OnConnect(c *rooms.Client) {
	logger.Debug("realtime client connected",
		zap.String("user_id", c.UserID),
		zap.String("role", c.Role),
	)
}

// handleConnectLocation places the client in the geo room of its position.
// Riders use this to start receiving driver:location:update fan-out.
func (g *Gateway) handleConnectLocation(c *rooms.Client, msg *rooms.Message) {
	lat, ok1 := floatField(msg, "lat")
	lng, ok2 := floatField(msg, "lng")
	if !ok1 || !ok2 || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		g.replyError(c, msg.Type, "lat and lng are required")
		return
	}

	hash := geohash.Encode(lat, lng, g.precision)
	g.hub.MoveToGeoRoom(c, hash)
	g.reply(c, "connect:location:ack", map[string]interface{}{"geo_hash": hash})
}

// handleDriverLocation runs a driver's position fix through the location
// pipeline and follows the socket into the fix's geo room. Flagged fixes do
// not move the client.
func (g *Gateway) handleDriverLocation(c *rooms.Client, msg *rooms.Message) {
	driverID, ok := g.requireDriver(c, msg.Type)
	if !ok {
		return
	}

	lat, ok1 := floatField(msg, "lat")
	lng, ok2 := floatField(msg, "lng")
	if !ok1 || !ok2 {
		g.replyError(c, msg.Type, "lat and lng are required")
		return
	}
	bearing, _ := floatField(msg, "bearing")

	ctx, cancel := g.handlerContext()
	defer cancel()

	update, err := g.locations.UpdateDriverLocation(ctx, driverID, lat, lng, bearing)
	if err != nil {
		g.replyServiceError(c, msg.Type, err)
		return
	}

	if !update.Flagged {
		g.hub.MoveToGeoRoom(c, update.GeoHash)
	}

	g.reply(c, "driver:location:ack", map[string]interface{}{
		"flagged":       update.Flagged,
		"anomaly_count": update.AnomalyCount,
	})
}

func (g *Gateway) handleOfferAccept(c *rooms.Client, msg *rooms.Message) {
	driverID, ok := g.requireDriver(c, msg.Type)
	if !ok {
		return
	}

	tripID, ok := uuidField(msg, "trip_id")
	if !ok {
		g.replyError(c, msg.Type, "trip_id is required")
		return
	}

	ctx, cancel := g.handlerContext()
	defer cancel()

	trip, err := g.dispatch.Accept(ctx, tripID, driverID)
	if err != nil {
		g.replyOfferError(c, tripID, err)
		return
	}

	g.reply(c, "offer:accept:ack", map[string]interface{}{
		"trip_id": trip.ID.String(),
		"status":  string(trip.Status),
	})
}

func (g *Gateway) handleOfferReject(c *rooms.Client, msg *rooms.Message) {
	driverID, ok := g.requireDriver(c, msg.Type)
	if !ok {
		return
	}

	tripID, ok := uuidField(msg, "trip_id")
	if !ok {
		g.replyError(c, msg.Type, "trip_id is required")
		return
	}

	ctx, cancel := g.handlerContext()
	defer cancel()

	if err := g.dispatch.Reject(ctx, tripID, driverID); err != nil {
		g.replyOfferError(c, tripID, err)
		return
	}

	g.reply(c, "offer:reject:ack", map[string]interface{}{"trip_id": tripID.String()})
}

func (g *Gateway) handleNearbyDrivers(c *rooms.Client, msg *rooms.Message) {
	lat, ok1 := floatField(msg, "lat")
	lng, ok2 := floatField(msg, "lng")
	if !ok1 || !ok2 {
		g.replyError(c, msg.Type, "lat and lng are required")
		return
	}

	radiusKm, ok := floatField(msg, "radius_km")
	if !ok || radiusKm <= 0 {
		radiusKm = defaultNearbyRadiusKm
	}

	ctx, cancel := g.handlerContext()
	defer cancel()

	ids, err := g.locations.NearbyDrivers(ctx, lat, lng, radiusKm, 20)
	if err != nil {
		g.replyServiceError(c, msg.Type, err)
		return
	}

	drivers := make([]string, len(ids))
	for i, id := range ids {
		drivers[i] = id.String()
	}

	g.reply(c, "nearby_drivers", map[string]interface{}{
		"drivers":   drivers,
		"radius_km": radiusKm,
	})
}

func (g *Gateway) handleTripStatus(c *rooms.Client, msg *rooms.Message) {
	tripID, ok := uuidField(msg, "trip_id")
	if !ok {
		g.replyError(c, msg.Type, "trip_id is required")
		return
	}

	actor, ok := g.actorFor(c)
	if !ok {
		g.replyError(c, msg.Type, "invalid connection identity")
		return
	}

	ctx, cancel := g.handlerContext()
	defer cancel()

	trip, err := g.trips.GetTrip(ctx, actor, tripID)
	if err != nil {
		g.replyServiceError(c, msg.Type, err)
		return
	}

	g.reply(c, "trip:status", map[string]interface{}{
		"trip_id": trip.ID.String(),
		"status":  string(trip.Status),
	})
}

// tripTransitionHandler builds a handler advancing the trip to target on
// behalf of the connection's actor. The trip service's authorization matrix
// decides whether this actor may drive the transition; the gateway only maps
// the socket identity.
func (g *Gateway) tripTransitionHandler(target models.TripStatus) rooms.MessageHandler {
	return func(c *rooms.Client, msg *rooms.Message) {
		tripID, ok := uuidField(msg, "trip_id")
		if !ok {
			g.replyError(c, msg.Type, "trip_id is required")
			return
		}

		actor, ok := g.actorFor(c)
		if !ok {
			g.replyError(c, msg.Type, "invalid connection identity")
			return
		}

		ctx, cancel := g.handlerContext()
		defer cancel()

		trip, err := g.trips.ChangeStatus(ctx, actor, tripID, target, "")
		if err != nil {
			g.replyServiceError(c, msg.Type, err)
			return
		}

		g.reply(c, msg.Type+":ack", map[string]interface{}{
			"trip_id": trip.ID.String(),
			"status":  string(trip.Status),
		})
	}
}

// ─── helpers ───

func (g *Gateway) handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// requireDriver resolves the connection's driver identity. Rider and admin
// sockets cannot send driver events.
func (g *Gateway) requireDriver(c *rooms.Client, inReplyTo string) (uuid.UUID, bool) {
	if c.DriverID == "" {
		g.replyError(c, inReplyTo, "driver connection required")
		return uuid.Nil, false
	}
	driverID, err := uuid.Parse(c.DriverID)
	if err != nil {
		g.replyError(c, inReplyTo, "invalid connection identity")
		return uuid.Nil, false
	}
	return driverID, true
}

func (g *Gateway) actorFor(c *rooms.Client) (trips.Actor, bool) {
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return trips.Actor{}, false
	}
	actor := trips.Actor{UserID: userID, Role: models.UserRole(c.Role)}
	if c.DriverID != "" {
		if driverID, err := uuid.Parse(c.DriverID); err == nil {
			actor.DriverID = &driverID
		}
	}
	return actor, true
}

// reply targets the sender's direct room, never the socket: bridged
// instances deliver to whichever node holds the connection.
func (g *Gateway) reply(c *rooms.Client, msgType string, data map[string]interface{}) {
	msg := &rooms.Message{
		Type:      msgType,
		Timestamp: g.now(),
		Data:      data,
	}
	if err := g.hub.EmitToRoom(rooms.UserRoom(c.UserID), msg); err != nil {
		logger.Error("failed to reply over rooms",
			zap.String("type", msgType),
			zap.Error(err),
		)
	}
}

func (g *Gateway) replyError(c *rooms.Client, inReplyTo, message string) {
	g.reply(c, "error", map[string]interface{}{
		"in_reply_to": inReplyTo,
		"message":     message,
	})
}

// replyOfferError delivers offer failures under their own event type so a
// driver losing an accept race gets a distinguishable signal rather than a
// generic error frame.
func (g *Gateway) replyOfferError(c *rooms.Client, tripID uuid.UUID, err error) {
	data := map[string]interface{}{"trip_id": tripID.String()}

	var appErr *common.AppError
	if errors.As(err, &appErr) {
		data["code"] = appErr.ErrorCode
		data["message"] = appErr.Message
	} else {
		logger.Error("offer handler failed",
			zap.String("trip_id", tripID.String()),
			zap.Error(err),
		)
		data["message"] = "internal error"
	}

	g.reply(c, "offer:error", data)
}

// replyServiceError surfaces a service failure without leaking internals:
// typed application errors pass their message through, everything else
// becomes a generic failure.
func (g *Gateway) replyServiceError(c *rooms.Client, inReplyTo string, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		g.reply(c, "error", map[string]interface{}{
			"in_reply_to": inReplyTo,
			"code":        appErr.ErrorCode,
			"message":     appErr.Message,
		})
		return
	}

	logger.Error("realtime handler failed",
		zap.String("type", inReplyTo),
		zap.Error(err),
	)
	g.replyError(c, inReplyTo, "internal error")
}

func floatField(msg *rooms.Message, key string) (float64, bool) {
	v, ok := msg.Data[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func uuidField(msg *rooms.Message, key string) (uuid.UUID, bool) {
	v, ok := msg.Data[key]
	if !ok {
		return uuid.Nil, false
	}
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
