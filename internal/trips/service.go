package trips

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/internal/routing"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
	"github.com/hamsafar/dispatch/pkg/security"
)

const (
	baseFarePerKm     = 1.5
	baseFarePerMinute = 0.25
	minimumFare       = 5.0
)

// serviceMultipliers scales the fare by driver class. Unknown service types
// fall back to economy pricing.
var serviceMultipliers = map[string]float64{
	"economy": 1.0,
	"comfort": 1.3,
	"xl":      1.6,
}

// RepositoryInterface defines the storage operations the service needs.
type RepositoryInterface interface {
	Create(ctx context.Context, trip *models.Trip, polyline []geo.LatLng) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	Transition(ctx context.Context, id uuid.UUID, from, to models.TripStatus, cancelReason *string) (bool, error)
	ActiveTripForDriver(ctx context.Context, driverID uuid.UUID) (*location.TripContext, error)
	MarkPaymentCollected(ctx context.Context, id uuid.UUID) (bool, error)
	RecordSOS(ctx context.Context, event *models.SOSEvent) error
	ListByRider(ctx context.Context, riderID uuid.UUID, limit, offset int) ([]*models.Trip, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error)
}

// Router plans a driving route between two points.
type Router interface {
	Directions(ctx context.Context, start, end geo.LatLng) (*routing.Route, error)
}

// Dispatcher runs the offer loop for a trip and resolves driver responses.
type Dispatcher interface {
	Dispatch(ctx context.Context, trip *models.Trip)
	Accept(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error)
	Reject(ctx context.Context, tripID, driverID uuid.UUID) error
}

// Settler completes a trip and moves the money in one transaction.
type Settler interface {
	Settle(ctx context.Context, tripID uuid.UUID) (*models.Trip, error)
}

// DriverPool returns drivers to the available pool after a terminal trip.
type DriverPool interface {
	Release(ctx context.Context, driverID uuid.UUID) error
}

// Emitter delivers room-scoped events.
type Emitter interface {
	EmitToRoom(room string, msg *rooms.Message) error
}

// Bus publishes domain events.
type Bus interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Alerter records operator-facing alerts.
type Alerter interface {
	RecordAlert(ctx context.Context, kind, message string)
}

// DemandRecorder feeds the admin demand heatmap.
type DemandRecorder interface {
	RecordDemand(lat, lng float64)
}

// Pusher delivers trip events to devices whose websocket is not connected.
type Pusher interface {
	PushToUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string)
}

// Actor is the authenticated principal performing a trip operation.
type Actor struct {
	UserID   uuid.UUID
	DriverID *uuid.UUID
	Role     models.UserRole
}

func (a Actor) isAdmin() bool { return a.Role == models.RoleAdmin }

func (a Actor) ownsAsDriver(trip *models.Trip) bool {
	return a.DriverID != nil && trip.DriverID != nil && *a.DriverID == *trip.DriverID
}

// CreateTripRequest is the trip booking payload. RiderID is honored only for
// admin phone bookings.
type CreateTripRequest struct {
	PickupLat     float64              `json:"pickup_lat" binding:"required,latitude"`
	PickupLng     float64              `json:"pickup_lng" binding:"required,longitude"`
	DropLat       float64              `json:"drop_lat" binding:"required,latitude"`
	DropLng       float64              `json:"drop_lng" binding:"required,longitude"`
	ServiceType   string               `json:"service_type"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	ScheduledFor  *time.Time           `json:"scheduled_for,omitempty"`
	RiderID       *uuid.UUID           `json:"rider_id,omitempty"`
}

// SOSRequest carries the optional position and note of an emergency trigger.
type SOSRequest struct {
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
	Note string   `json:"note,omitempty"`
}

// Service owns the trip lifecycle: creation with fare estimation, the guarded
// status machine, auto-arrival, SOS and cash collection.
type Service struct {
	repo       RepositoryInterface
	router     Router
	dispatcher Dispatcher
	settler    Settler
	pool       DriverPool
	emitter    Emitter
	bus        Bus
	alerts     Alerter
	demand     DemandRecorder
	pusher     Pusher

	now func() time.Time
}

// NewService creates a new trips service. bus and alerts may be nil.
func NewService(repo RepositoryInterface, router Router, pool DriverPool, emitter Emitter, bus Bus, alerts Alerter) *Service {
	return &Service{
		repo:    repo,
		router:  router,
		pool:    pool,
		emitter: emitter,
		bus:     bus,
		alerts:  alerts,
		now:     time.Now,
	}
}

// SetDispatcher wires the offer engine after construction.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetSettler wires the settlement engine after construction.
func (s *Service) SetSettler(st Settler) { s.settler = st }

// SetDemandRecorder wires the heatmap read model after construction.
func (s *Service) SetDemandRecorder(d DemandRecorder) { s.demand = d }

// SetPusher wires the mobile push channel after construction.
func (s *Service) SetPusher(p Pusher) { s.pusher = p }

// Create books a trip. The fare is estimated from the planned route, falling
// back to a straight-line estimate when the routing provider is down.
// Immediate trips go straight to the dispatcher; scheduled trips wait for the
// worker.
func (s *Service) Create(ctx context.Context, actor Actor, req *CreateTripRequest) (*models.Trip, error) {
	if !validCoord(req.PickupLat, req.PickupLng) || !validCoord(req.DropLat, req.DropLng) {
		return nil, common.NewValidationError("coordinates out of range")
	}

	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentCash
	}
	if method != models.PaymentCash && method != models.PaymentWallet {
		return nil, common.NewValidationError("unsupported payment method")
	}

	if req.ScheduledFor != nil && !req.ScheduledFor.After(s.now()) {
		return nil, common.NewValidationError("scheduled time must be in the future")
	}

	serviceType := req.ServiceType
	if serviceType == "" {
		serviceType = "economy"
	}

	riderID := actor.UserID
	channel := models.ChannelApp
	if actor.isAdmin() {
		channel = models.ChannelPhone
		if req.RiderID != nil {
			riderID = *req.RiderID
		}
	}

	pickup := geo.LatLng{Lat: req.PickupLat, Lng: req.PickupLng}
	drop := geo.LatLng{Lat: req.DropLat, Lng: req.DropLng}
	distanceKm, durationMin, polyline := s.planRoute(ctx, pickup, drop)

	trip := &models.Trip{
		ID:             uuid.New(),
		RiderID:        riderID,
		Status:         models.TripRequested,
		PickupLat:      req.PickupLat,
		PickupLng:      req.PickupLng,
		DropLat:        req.DropLat,
		DropLng:        req.DropLng,
		Fare:           estimateFare(distanceKm, durationMin, serviceType),
		DistanceKm:     distanceKm,
		DurationMin:    durationMin,
		ServiceType:    serviceType,
		PaymentMethod:  method,
		PaymentStatus:  models.PaymentUnpaid,
		BookingChannel: channel,
		ScheduledFor:   req.ScheduledFor,
	}

	if err := s.repo.Create(ctx, trip, polyline); err != nil {
		logger.ErrorContext(ctx, "failed to create trip", zap.Error(err))
		return nil, common.NewInternalServerError("failed to create trip")
	}

	if s.demand != nil {
		s.demand.RecordDemand(trip.PickupLat, trip.PickupLng)
	}

	s.notify(ctx, trip, "trip:requested", eventbus.SubjectTripRequested, nil)

	if trip.ScheduledFor == nil && s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, trip)
	}

	return trip, nil
}

// GetTrip returns the trip to a participant or an admin.
func (s *Service) GetTrip(ctx context.Context, actor Actor, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.load(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if !actor.isAdmin() && trip.RiderID != actor.UserID && !actor.ownsAsDriver(trip) {
		return nil, common.NewForbiddenError("not a participant of this trip")
	}

	return trip, nil
}

// ChangeStatus applies one guarded transition on behalf of the actor. Moving
// to COMPLETED is delegated to the settlement engine so the money and the
// status change commit together.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, tripID uuid.UUID, target models.TripStatus, reason string) (*models.Trip, error) {
	trip, err := s.load(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(actor, trip, target); err != nil {
		return nil, err
	}

	if !trip.Status.CanTransition(target) {
		return nil, common.NewInvalidStateTransitionError(
			fmt.Sprintf("cannot move trip from %s to %s", trip.Status, target))
	}

	if target == models.TripCompleted {
		return s.complete(ctx, trip)
	}

	if target == models.TripAccepted && trip.DriverID == nil {
		return nil, common.NewValidationError("trip has no assigned driver")
	}

	var cancelReason *string
	if target == models.TripCancelled {
		if reason == "" {
			reason = "cancelled by " + string(actor.Role)
		}
		cancelReason = &reason
	}

	ok, err := s.repo.Transition(ctx, trip.ID, trip.Status, target, cancelReason)
	if err != nil {
		logger.ErrorContext(ctx, "failed to transition trip",
			zap.String("trip_id", trip.ID.String()),
			zap.Error(err),
		)
		return nil, common.NewInternalServerError("failed to update trip")
	}
	if !ok {
		return nil, common.NewInvalidStateTransitionError("trip status changed concurrently")
	}

	trip.Status = target
	trip.CancelReason = cancelReason
	s.afterTransition(ctx, trip)

	return trip, nil
}

// AcceptOffer resolves a driver's acceptance through the dispatcher, which
// serializes the offer CAS and the trip CAS in one transaction.
func (s *Service) AcceptOffer(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	if s.dispatcher == nil {
		return nil, common.NewInternalServerError("dispatcher not configured")
	}
	return s.dispatcher.Accept(ctx, tripID, driverID)
}

// RejectOffer resolves a driver's rejection through the dispatcher.
func (s *Service) RejectOffer(ctx context.Context, tripID, driverID uuid.UUID) error {
	if s.dispatcher == nil {
		return common.NewInternalServerError("dispatcher not configured")
	}
	return s.dispatcher.Reject(ctx, tripID, driverID)
}

// AutoArrive flips an ACCEPTED trip to ARRIVED when the driver reaches the
// pickup. Losing the CAS race is fine: position fixes keep coming while the
// driver sits at the pickup.
func (s *Service) AutoArrive(ctx context.Context, tripID uuid.UUID) error {
	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil {
		return fmt.Errorf("failed to load trip: %w", err)
	}
	if trip == nil || trip.Status != models.TripAccepted {
		return nil
	}

	ok, err := s.repo.Transition(ctx, trip.ID, models.TripAccepted, models.TripArrived, nil)
	if err != nil {
		return fmt.Errorf("failed to mark arrival: %w", err)
	}
	if !ok {
		return nil
	}

	trip.Status = models.TripArrived
	s.afterTransition(ctx, trip)

	return nil
}

// CancelNoDrivers cancels a trip the dispatcher could not place. A lost CAS
// means a driver accepted at the last moment, which wins.
func (s *Service) CancelNoDrivers(ctx context.Context, tripID uuid.UUID) error {
	reason := models.CancelReasonNoDrivers
	ok, err := s.repo.Transition(ctx, tripID, models.TripRequested, models.TripCancelled, &reason)
	if err != nil {
		return fmt.Errorf("failed to cancel trip: %w", err)
	}
	if !ok {
		return nil
	}

	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil || trip == nil {
		return err
	}
	s.afterTransition(ctx, trip)

	return nil
}

// ActiveTripForDriver exposes the driver's current trip to the location
// pipeline.
func (s *Service) ActiveTripForDriver(ctx context.Context, driverID uuid.UUID) (*location.TripContext, error) {
	return s.repo.ActiveTripForDriver(ctx, driverID)
}

// SOS records an emergency on a live trip and alerts the operators. The trip
// status is never changed.
func (s *Service) SOS(ctx context.Context, actor Actor, tripID uuid.UUID, req *SOSRequest) (*models.SOSEvent, error) {
	trip, err := s.load(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if trip.Status.IsTerminal() {
		return nil, common.NewConflictError("trip is no longer live")
	}

	if !actor.isAdmin() && trip.RiderID != actor.UserID && !actor.ownsAsDriver(trip) {
		return nil, common.NewForbiddenError("not a participant of this trip")
	}

	event := &models.SOSEvent{
		ID:          uuid.New(),
		TripID:      trip.ID,
		TriggeredBy: actor.UserID,
		Role:        actor.Role,
		Lat:         req.Lat,
		Lng:         req.Lng,
	}
	if req.Note != "" {
		note := security.SanitizeMessageParam(req.Note)
		event.Note = &note
	}

	if err := s.repo.RecordSOS(ctx, event); err != nil {
		logger.ErrorContext(ctx, "failed to record sos", zap.Error(err))
		return nil, common.NewInternalServerError("failed to record sos")
	}

	logger.WarnContext(ctx, "sos triggered",
		zap.String("trip_id", trip.ID.String()),
		zap.String("triggered_by", actor.UserID.String()),
		zap.String("role", string(actor.Role)),
	)

	s.emit(rooms.AdminRoom, &rooms.Message{
		Type:      "trip:sos",
		TripID:    trip.ID.String(),
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"sos_id":       event.ID.String(),
			"triggered_by": actor.UserID.String(),
			"role":         string(actor.Role),
			"status":       string(trip.Status),
		},
	})
	s.publish(ctx, eventbus.SubjectTripSOS, trip, map[string]interface{}{
		"sos_id":       event.ID.String(),
		"triggered_by": actor.UserID.String(),
	})

	if s.alerts != nil {
		s.alerts.RecordAlert(ctx, "SOS",
			fmt.Sprintf("SOS on trip %s triggered by %s", trip.ID, actor.Role))
	}

	return event, nil
}

// PaymentCollected lets the driver confirm receiving cash for a completed
// trip.
func (s *Service) PaymentCollected(ctx context.Context, actor Actor, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.load(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if !actor.isAdmin() && !actor.ownsAsDriver(trip) {
		return nil, common.NewForbiddenError("only the assigned driver can collect payment")
	}

	ok, err := s.repo.MarkPaymentCollected(ctx, trip.ID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark payment collected", zap.Error(err))
		return nil, common.NewInternalServerError("failed to update payment status")
	}
	if !ok {
		return nil, common.NewConflictError("trip payment is not collectable")
	}

	trip.PaymentStatus = models.PaymentCollected
	return trip, nil
}

// Settle completes the trip through the settlement engine (admin or assigned
// driver).
func (s *Service) Settle(ctx context.Context, actor Actor, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.load(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if !actor.isAdmin() && !actor.ownsAsDriver(trip) {
		return nil, common.NewForbiddenError("only the assigned driver can settle this trip")
	}

	return s.complete(ctx, trip)
}

// ListRiderTrips returns the rider's trip history.
func (s *Service) ListRiderTrips(ctx context.Context, riderID uuid.UUID, page, perPage int) ([]*models.Trip, error) {
	limit, offset := pageBounds(page, perPage)
	trips, err := s.repo.ListByRider(ctx, riderID, limit, offset)
	if err != nil {
		return nil, common.NewInternalServerError("failed to list trips")
	}
	return trips, nil
}

// ListDriverTrips returns the driver's trip history.
func (s *Service) ListDriverTrips(ctx context.Context, driverID uuid.UUID, page, perPage int) ([]*models.Trip, error) {
	limit, offset := pageBounds(page, perPage)
	trips, err := s.repo.ListByDriver(ctx, driverID, limit, offset)
	if err != nil {
		return nil, common.NewInternalServerError("failed to list trips")
	}
	return trips, nil
}

// DispatchDueScheduled hands due scheduled trips to the dispatcher. Called by
// the worker. Returns how many trips were dispatched.
func (s *Service) DispatchDueScheduled(ctx context.Context, limit int) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}

	due, err := s.repo.ListDueScheduled(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due trips: %w", err)
	}

	for _, trip := range due {
		s.dispatcher.Dispatch(ctx, trip)
	}

	return len(due), nil
}

func (s *Service) load(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load trip", zap.Error(err))
		return nil, common.NewInternalServerError("failed to load trip")
	}
	if trip == nil {
		return nil, common.NewNotFoundError("trip not found", nil)
	}
	return trip, nil
}

// authorize applies the role matrix: riders cancel their own trip before it
// starts, drivers move their own trip forward, admins force any valid
// transition.
func (s *Service) authorize(actor Actor, trip *models.Trip, target models.TripStatus) error {
	if actor.isAdmin() {
		return nil
	}

	if actor.UserID == trip.RiderID && !actor.ownsAsDriver(trip) {
		if target != models.TripCancelled {
			return common.NewForbiddenError("riders can only cancel trips")
		}
		if trip.Status == models.TripInProgress {
			return common.NewForbiddenError("trip already started")
		}
		return nil
	}

	if actor.ownsAsDriver(trip) {
		if target == models.TripCancelled {
			return common.NewForbiddenError("drivers cannot cancel trips")
		}
		return nil
	}

	return common.NewForbiddenError("not a participant of this trip")
}

// complete runs settlement and the post-completion side effects.
func (s *Service) complete(ctx context.Context, trip *models.Trip) (*models.Trip, error) {
	if s.settler == nil {
		return nil, common.NewInternalServerError("settlement not configured")
	}

	settled, err := s.settler.Settle(ctx, trip.ID)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, settled)
	return settled, nil
}

// afterTransition fans out the room and bus events for a committed status
// change and releases the driver on terminal states.
func (s *Service) afterTransition(ctx context.Context, trip *models.Trip) {
	var msgType, subject string
	data := map[string]interface{}{}

	switch trip.Status {
	case models.TripAccepted:
		msgType, subject = "trip:accepted", eventbus.SubjectTripAccepted
		if trip.DriverID != nil {
			data["driver_id"] = trip.DriverID.String()
		}
	case models.TripArrived:
		msgType, subject = "trip:driver_arrived", eventbus.SubjectTripArrived
	case models.TripInProgress:
		msgType, subject = "trip:started", eventbus.SubjectTripStarted
	case models.TripCompleted:
		msgType, subject = "trip:completed", eventbus.SubjectTripCompleted
		data["fare"] = trip.Fare
	case models.TripCancelled:
		msgType, subject = "trip:cancelled", eventbus.SubjectTripCancelled
		if trip.CancelReason != nil {
			data["reason"] = *trip.CancelReason
		}
	default:
		return
	}

	s.notify(ctx, trip, msgType, subject, data)

	if trip.Status.IsTerminal() && trip.DriverID != nil && s.pool != nil {
		if err := s.pool.Release(ctx, *trip.DriverID); err != nil {
			logger.ErrorContext(ctx, "failed to release driver",
				zap.String("driver_id", trip.DriverID.String()),
				zap.Error(err),
			)
		}
	}
}

// notify emits to the rider and driver rooms and publishes the bus event.
func (s *Service) notify(ctx context.Context, trip *models.Trip, msgType, subject string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = string(trip.Status)

	msg := &rooms.Message{
		Type:      msgType,
		TripID:    trip.ID.String(),
		Timestamp: s.now(),
		Data:      data,
	}

	s.emit(rooms.UserRoom(trip.RiderID.String()), msg)
	if trip.DriverID != nil {
		s.emit(rooms.DriverRoom(trip.DriverID.String()), msg)
	}

	s.push(ctx, trip, msgType)

	s.publish(ctx, subject, trip, data)
}

// push mirrors the rider's room event onto the mobile push channel so a
// backgrounded app still hears about the transition.
func (s *Service) push(ctx context.Context, trip *models.Trip, msgType string) {
	if s.pusher == nil {
		return
	}

	title, body := pushCopy(msgType)
	if title == "" {
		return
	}

	s.pusher.PushToUser(ctx, trip.RiderID, title, body, map[string]string{
		"trip_id": trip.ID.String(),
		"status":  string(trip.Status),
	})
}

func pushCopy(msgType string) (title, body string) {
	switch msgType {
	case "trip:accepted":
		return "Driver on the way", "A driver accepted your trip."
	case "trip:driver_arrived":
		return "Driver arrived", "Your driver is waiting at the pickup point."
	case "trip:started":
		return "Trip started", "Enjoy your ride."
	case "trip:completed":
		return "Trip completed", "Thanks for riding with us."
	case "trip:cancelled":
		return "Trip cancelled", "Your trip was cancelled."
	default:
		return "", ""
	}
}

func (s *Service) emit(room string, msg *rooms.Message) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.EmitToRoom(room, msg); err != nil {
		logger.Error("failed to emit trip event",
			zap.String("room", room),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, subject string, trip *models.Trip, data map[string]interface{}) {
	if s.bus == nil {
		return
	}

	payload := map[string]interface{}{
		"trip_id":  trip.ID.String(),
		"rider_id": trip.RiderID.String(),
		"status":   string(trip.Status),
	}
	if trip.DriverID != nil {
		payload["driver_id"] = trip.DriverID.String()
	}
	for k, v := range data {
		payload[k] = v
	}

	event, err := eventbus.NewEvent(subject, "trips", payload)
	if err != nil {
		logger.Error("failed to build trip event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish trip event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// planRoute asks the routing provider for the route and degrades to a
// straight-line estimate when it is unavailable.
func (s *Service) planRoute(ctx context.Context, pickup, drop geo.LatLng) (float64, int, []geo.LatLng) {
	if s.router != nil {
		route, err := s.router.Directions(ctx, pickup, drop)
		if err == nil && route != nil && route.DistanceMeters > 0 {
			distanceKm := math.Round(route.DistanceMeters/10) / 100
			return distanceKm, int(math.Round(route.DurationSec / 60)), route.Polyline
		}
		if err != nil {
			logger.WarnContext(ctx, "routing unavailable, using straight-line estimate", zap.Error(err))
		}
	}

	distanceKm := geo.Haversine(pickup.Lat, pickup.Lng, drop.Lat, drop.Lng)
	return distanceKm, geo.EstimateDuration(distanceKm), []geo.LatLng{pickup, drop}
}

// estimateFare prices a trip from distance, duration and driver class.
func estimateFare(distanceKm float64, durationMin int, serviceType string) float64 {
	multiplier, ok := serviceMultipliers[serviceType]
	if !ok {
		multiplier = 1.0
	}

	fare := (distanceKm*baseFarePerKm + float64(durationMin)*baseFarePerMinute) * multiplier
	if fare < minimumFare {
		fare = minimumFare
	}

	return math.Round(fare*100) / 100
}

func validCoord(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func pageBounds(page, perPage int) (limit, offset int) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}
