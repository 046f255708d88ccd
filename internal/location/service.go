package location

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/geohash"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

// driversGeoKey is the Redis GEO index of last-known driver positions.
const driversGeoKey = "drivers:geo"

// arrivalRadiusM is how close a driver must be to the pickup to auto-arrive.
const arrivalRadiusM = 50

// RepositoryInterface defines the storage operations the service needs.
type RepositoryInterface interface {
	Get(ctx context.Context, driverID uuid.UUID) (*models.DriverLocation, error)
	Upsert(ctx context.Context, loc *models.DriverLocation) error
	IncrementAnomaly(ctx context.Context, driverID uuid.UUID) (int, error)
}

// Snapper maps a raw GPS fix onto the road network.
type Snapper interface {
	Nearest(ctx context.Context, p geo.LatLng) geo.LatLng
}

// GeoIndexer maintains the searchable driver position index.
type GeoIndexer interface {
	GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error
	GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]string, error)
}

// TripContext is the dispatch-relevant slice of a driver's active trip.
type TripContext struct {
	TripID   uuid.UUID
	RiderID  uuid.UUID
	Status   models.TripStatus
	Pickup   geo.LatLng
	Polyline []geo.LatLng
}

// TripSource resolves the driver's active trip, nil when idle.
type TripSource interface {
	ActiveTripForDriver(ctx context.Context, driverID uuid.UUID) (*TripContext, error)
}

// Arrivals is notified when a driver reaches the pickup point.
type Arrivals interface {
	AutoArrive(ctx context.Context, tripID uuid.UUID) error
}

// FlagSink records an anomaly flag on the driver row.
type FlagSink interface {
	Flag(ctx context.Context, driverID uuid.UUID) error
}

// Emitter delivers room-scoped events.
type Emitter interface {
	EmitToRoom(room string, msg *rooms.Message) error
}

// Bus publishes domain events.
type Bus interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Update is the outcome of one position fix.
type Update struct {
	SnappedLat   float64 `json:"snapped_lat"`
	SnappedLng   float64 `json:"snapped_lng"`
	Flagged      bool    `json:"flagged"`
	AnomalyCount int     `json:"anomaly_count"`
	GeoHash      string  `json:"geo_hash"`
}

// Service validates, snaps, stores and fans out driver position updates.
type Service struct {
	repo    RepositoryInterface
	snapper Snapper
	index   GeoIndexer
	trips   TripSource
	arrive  Arrivals
	flags   FlagSink
	emitter Emitter
	bus     Bus
	cfg     config.AnomalyConfig

	precision int

	now func() time.Time
}

// NewService creates a new location service. bus may be nil when the event
// broker is not configured.
func NewService(
	repo RepositoryInterface,
	snapper Snapper,
	index GeoIndexer,
	trips TripSource,
	arrive Arrivals,
	flags FlagSink,
	emitter Emitter,
	bus Bus,
	cfg config.AnomalyConfig,
	precision int,
) *Service {
	if precision <= 0 {
		precision = geohash.DefaultPrecision
	}
	return &Service{
		repo:      repo,
		snapper:   snapper,
		index:     index,
		trips:     trips,
		arrive:    arrive,
		flags:     flags,
		emitter:   emitter,
		bus:       bus,
		cfg:       cfg,
		precision: precision,
		now:       time.Now,
	}
}

// UpdateDriverLocation applies the anomaly rules to a raw fix. Clean fixes
// are snapped, persisted, indexed and fanned out to the 9 neighboring
// geohash rooms; flagged fixes are rejected and never propagate.
func (s *Service) UpdateDriverLocation(ctx context.Context, driverID uuid.UUID, rawLat, rawLng, bearing float64) (*Update, error) {
	if rawLat < -90 || rawLat > 90 || rawLng < -180 || rawLng > 180 {
		return nil, common.NewValidationError("coordinates out of range")
	}

	prev, err := s.repo.Get(ctx, driverID)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load previous position")
	}

	now := s.now()

	if reason := s.movementAnomaly(prev, rawLat, rawLng, now); reason != "" {
		return s.reject(ctx, driverID, reason)
	}

	trip, err := s.trips.ActiveTripForDriver(ctx, driverID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to resolve active trip",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}

	deviation, strikes := s.routeDeviation(prev, trip, rawLat, rawLng)
	if strikes >= s.cfg.DeviationStrikes {
		return s.reject(ctx, driverID, "route deviation")
	}

	snapped := s.snapper.Nearest(ctx, geo.LatLng{Lat: rawLat, Lng: rawLng})

	loc := &models.DriverLocation{
		DriverID:     driverID,
		RawLat:       rawLat,
		RawLng:       rawLng,
		SnappedLat:   snapped.Lat,
		SnappedLng:   snapped.Lng,
		Bearing:      bearing,
		Deviation:    deviation,
		AnomalyCount: strikes,
	}
	if err := s.repo.Upsert(ctx, loc); err != nil {
		return nil, common.NewInternalServerError("failed to store position")
	}

	if err := s.index.GeoAdd(ctx, driversGeoKey, snapped.Lng, snapped.Lat, driverID.String()); err != nil {
		logger.ErrorContext(ctx, "failed to index driver position",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}

	hash := geohash.Encode(snapped.Lat, snapped.Lng, s.precision)
	s.fanOut(driverID, snapped, bearing, hash)

	s.checkArrival(ctx, trip, snapped)

	return &Update{
		SnappedLat:   snapped.Lat,
		SnappedLng:   snapped.Lng,
		AnomalyCount: strikes,
		GeoHash:      hash,
	}, nil
}

// NearbyDrivers returns driver ids within radiusKm of the point, nearest
// first.
func (s *Service) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]uuid.UUID, error) {
	members, err := s.index.GeoRadius(ctx, driversGeoKey, lng, lat, radiusKm, limit)
	if err != nil {
		return nil, common.NewInternalServerError("failed to search nearby drivers")
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// movementAnomaly applies the teleport and speed rules against the previous
// accepted fix.
func (s *Service) movementAnomaly(prev *models.DriverLocation, rawLat, rawLng float64, now time.Time) string {
	if prev == nil || prev.UpdatedAt.IsZero() {
		return ""
	}

	elapsed := now.Sub(prev.UpdatedAt)
	if elapsed <= 0 {
		return ""
	}

	distKm := geo.Haversine(prev.SnappedLat, prev.SnappedLng, rawLat, rawLng)

	if distKm > s.cfg.MaxJumpKm && elapsed < time.Duration(s.cfg.MaxJumpWindowSec)*time.Second {
		return "teleport"
	}

	if distKm/elapsed.Hours() > s.cfg.MaxSpeedKmh {
		return "speed"
	}

	return ""
}

// routeDeviation measures the fix against the active trip's planned route.
// Returns the perpendicular distance and the consecutive strike count after
// this fix (0 when the fix is on route or no route applies).
func (s *Service) routeDeviation(prev *models.DriverLocation, trip *TripContext, rawLat, rawLng float64) (float64, int) {
	if trip == nil || trip.Status != models.TripInProgress || len(trip.Polyline) < 2 {
		return 0, 0
	}

	perp := geo.PerpendicularDistanceM(geo.LatLng{Lat: rawLat, Lng: rawLng}, trip.Polyline)
	if perp <= s.cfg.MaxDeviationM {
		return perp, 0
	}

	strikes := 1
	if prev != nil {
		strikes = prev.AnomalyCount + 1
	}

	return perp, strikes
}

// reject handles a flagged fix: count it, flag the driver, notify.
func (s *Service) reject(ctx context.Context, driverID uuid.UUID, reason string) (*Update, error) {
	count, err := s.repo.IncrementAnomaly(ctx, driverID)
	if err != nil {
		return nil, common.NewInternalServerError("failed to record anomaly")
	}

	if err := s.flags.Flag(ctx, driverID); err != nil {
		logger.ErrorContext(ctx, "failed to flag driver",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}

	logger.WarnContext(ctx, "driver position rejected",
		zap.String("driver_id", driverID.String()),
		zap.String("reason", reason),
		zap.Int("anomaly_count", count),
	)

	msg := &rooms.Message{
		Type:      "driver:flagged",
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"reason":        reason,
			"anomaly_count": count,
		},
	}
	if err := s.emitter.EmitToRoom(rooms.DriverRoom(driverID.String()), msg); err != nil {
		logger.ErrorContext(ctx, "failed to emit flag event", zap.Error(err))
	}

	if s.bus != nil {
		event, err := eventbus.NewEvent(eventbus.SubjectDriverFlagged, "location", map[string]interface{}{
			"driver_id":     driverID.String(),
			"reason":        reason,
			"anomaly_count": count,
		})
		if err == nil {
			if err := s.bus.Publish(ctx, eventbus.SubjectDriverFlagged, event); err != nil {
				logger.ErrorContext(ctx, "failed to publish flag event", zap.Error(err))
			}
		}
	}

	return &Update{Flagged: true, AnomalyCount: count}, nil
}

// fanOut emits the position to the 9-tile neighborhood so riders sitting
// exactly on a tile boundary still see the driver.
func (s *Service) fanOut(driverID uuid.UUID, snapped geo.LatLng, bearing float64, hash string) {
	msg := &rooms.Message{
		Type:      "driver:location:update",
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"driver_id": driverID.String(),
			"lat":       snapped.Lat,
			"lng":       snapped.Lng,
			"bearing":   bearing,
		},
	}

	for _, tile := range geohash.Neighbors(hash) {
		if err := s.emitter.EmitToRoom(rooms.GeoRoom(tile), msg); err != nil {
			logger.Error("failed to emit location update",
				zap.String("room", rooms.GeoRoom(tile)),
				zap.Error(err),
			)
		}
	}
}

// checkArrival auto-arrives the trip when the driver is within 50m of the
// pickup while en route.
func (s *Service) checkArrival(ctx context.Context, trip *TripContext, snapped geo.LatLng) {
	if trip == nil || trip.Status != models.TripAccepted {
		return
	}

	if geo.HaversineM(snapped.Lat, snapped.Lng, trip.Pickup.Lat, trip.Pickup.Lng) > arrivalRadiusM {
		return
	}

	if err := s.arrive.AutoArrive(ctx, trip.TripID); err != nil {
		logger.ErrorContext(ctx, "auto-arrival failed",
			zap.String("trip_id", trip.TripID.String()),
			zap.Error(err),
		)
	}
}
