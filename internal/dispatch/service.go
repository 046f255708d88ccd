package dispatch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/routing"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

// maxEtaMinutes caps the ETA normalization: anything slower scores zero on
// the ETA component.
const maxEtaMinutes = 30.0

// candidateLimit bounds the spatial search per dispatch.
const candidateLimit = 50

// RepositoryInterface defines the storage operations the engine needs.
type RepositoryInterface interface {
	GetSettings(ctx context.Context) (*models.DispatchSettings, error)
	UpdateSettings(ctx context.Context, s *models.DispatchSettings) error
	ListCandidates(ctx context.Context, ids []uuid.UUID) ([]*Candidate, error)
	CreateOffer(ctx context.Context, offer *models.TripOffer) error
	GetOffer(ctx context.Context, id uuid.UUID) (*models.TripOffer, error)
	AcceptOffer(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error)
	RejectOffer(ctx context.Context, tripID, driverID uuid.UUID) (bool, error)
	ExpireOffer(ctx context.Context, offerID uuid.UUID) (bool, error)
	ListOffersByTrip(ctx context.Context, tripID uuid.UUID) ([]*models.TripOffer, error)
	ListRecentOffers(ctx context.Context, limit int) ([]*models.TripOffer, error)
}

// Locator finds driver ids near a point, nearest first.
type Locator interface {
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]uuid.UUID, error)
}

// ETASource provides pairwise travel durations.
type ETASource interface {
	Table(ctx context.Context, points []geo.LatLng) (*routing.Matrix, error)
}

// DriverPool flips driver availability and records offer outcomes.
type DriverPool interface {
	MarkBusy(ctx context.Context, driverID uuid.UUID) (bool, error)
	RecordOfferOutcome(ctx context.Context, driverID uuid.UUID, accepted bool)
}

// TripLifecycle cancels trips the engine could not place.
type TripLifecycle interface {
	CancelNoDrivers(ctx context.Context, tripID uuid.UUID) error
}

// Emitter delivers room-scoped events.
type Emitter interface {
	EmitToRoom(room string, msg *rooms.Message) error
}

// Bus publishes domain events.
type Bus interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

type scored struct {
	cand   *Candidate
	etaMin float64
	score  float64
}

// Service is the offer engine: it ranks nearby drivers and walks the ranking
// with sequential exclusive offers until one accepts or the list runs out.
type Service struct {
	repo    RepositoryInterface
	locator Locator
	eta     ETASource
	pool    DriverPool
	trips   TripLifecycle
	emitter Emitter
	bus     Bus
	cfg     config.DispatchConfig

	waiters waiterRegistry

	now func() time.Time
}

// NewService creates a new dispatch service. eta and bus may be nil.
func NewService(
	repo RepositoryInterface,
	locator Locator,
	eta ETASource,
	pool DriverPool,
	trips TripLifecycle,
	emitter Emitter,
	bus Bus,
	cfg config.DispatchConfig,
) *Service {
	return &Service{
		repo:    repo,
		locator: locator,
		eta:     eta,
		pool:    pool,
		trips:   trips,
		emitter: emitter,
		bus:     bus,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Dispatch starts the offer loop for a trip. It returns immediately; the loop
// runs detached from the request that created the trip.
func (s *Service) Dispatch(ctx context.Context, trip *models.Trip) {
	go s.run(context.WithoutCancel(ctx), trip)
}

func (s *Service) run(ctx context.Context, trip *models.Trip) {
	start := s.now()
	defer func() {
		dispatchDuration.Observe(s.now().Sub(start).Seconds())
	}()

	settings := s.loadSettings(ctx)

	ranked := s.rankCandidates(ctx, trip, settings)
	if len(ranked) == 0 {
		logger.WarnContext(ctx, "no candidates for trip",
			zap.String("trip_id", trip.ID.String()),
			zap.Float64("radius_km", settings.SearchRadiusKm),
		)
		s.giveUp(ctx, trip)
		return
	}

	offers := 0
	for _, sc := range ranked {
		if offers >= settings.MaxOffers {
			break
		}
		offers++

		outcome, stop := s.offerTo(ctx, trip, sc, settings)
		if stop || outcome == models.OfferAccepted {
			return
		}
	}

	s.giveUp(ctx, trip)
}

// offerTo issues one exclusive offer and blocks until the driver responds or
// the timer fires. stop reports that the loop should end without cancelling
// the trip (another dispatcher owns it).
func (s *Service) offerTo(ctx context.Context, trip *models.Trip, sc *scored, settings *models.DispatchSettings) (models.OfferStatus, bool) {
	driverID := sc.cand.Driver.ID
	offer := &models.TripOffer{
		ID:        uuid.New(),
		TripID:    trip.ID,
		DriverID:  driverID,
		Score:     sc.score,
		EtaMin:    sc.etaMin,
		Status:    models.OfferPending,
		ExpiresAt: s.now().Add(time.Duration(settings.OfferTimeoutSec) * time.Second),
	}

	if err := s.repo.CreateOffer(ctx, offer); err != nil {
		if errors.Is(err, ErrOfferRace) {
			logger.WarnContext(ctx, "another dispatcher owns this trip",
				zap.String("trip_id", trip.ID.String()))
			return "", true
		}
		logger.ErrorContext(ctx, "failed to create offer",
			zap.String("trip_id", trip.ID.String()),
			zap.Error(err),
		)
		return "", true
	}

	ch := s.waiters.register(trip.ID)
	defer s.waiters.unregister(trip.ID)

	offersIssuedTotal.Inc()
	s.emit(rooms.DriverRoom(driverID.String()), &rooms.Message{
		Type:      "offer:new",
		TripID:    trip.ID.String(),
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"offer_id":     offer.ID.String(),
			"pickup_lat":   trip.PickupLat,
			"pickup_lng":   trip.PickupLng,
			"drop_lat":     trip.DropLat,
			"drop_lng":     trip.DropLng,
			"fare":         trip.Fare,
			"service_type": trip.ServiceType,
			"eta_min":      sc.etaMin,
			"expires_at":   offer.ExpiresAt,
		},
	})

	timer := time.NewTimer(time.Until(offer.ExpiresAt))
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome, false

	case <-timer.C:
		expired, err := s.repo.ExpireOffer(ctx, offer.ID)
		if err != nil {
			logger.ErrorContext(ctx, "failed to expire offer", zap.Error(err))
			return "", true
		}
		if expired {
			recordOfferOutcome("expired")
			s.pool.RecordOfferOutcome(ctx, driverID, false)
			s.emit(rooms.DriverRoom(driverID.String()), &rooms.Message{
				Type:      "offer:expired",
				TripID:    trip.ID.String(),
				Timestamp: s.now(),
				Data:      map[string]interface{}{"offer_id": offer.ID.String()},
			})
			return models.OfferExpired, false
		}

		// the driver resolved the offer right at the deadline
		resolved, err := s.repo.GetOffer(ctx, offer.ID)
		if err != nil || resolved == nil {
			return "", true
		}
		return resolved.Status, false
	}
}

// Accept resolves a driver's acceptance: offer CAS and trip CAS commit in one
// transaction, then the winner is announced.
func (s *Service) Accept(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	trip, err := s.repo.AcceptOffer(ctx, tripID, driverID)
	if err != nil {
		switch {
		case errors.Is(err, ErrOfferNotPending):
			return nil, common.NewOfferExpiredError("offer is no longer available")
		case errors.Is(err, ErrTripNotRequested):
			return nil, common.NewOfferExpiredError("trip is no longer available")
		default:
			logger.ErrorContext(ctx, "failed to accept offer",
				zap.String("trip_id", tripID.String()),
				zap.Error(err),
			)
			return nil, common.NewInternalServerError("failed to accept offer")
		}
	}

	recordOfferOutcome("accepted")
	s.pool.RecordOfferOutcome(ctx, driverID, true)

	busy, err := s.pool.MarkBusy(ctx, driverID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark driver busy",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	} else if !busy {
		logger.WarnContext(ctx, "accepting driver was not online",
			zap.String("driver_id", driverID.String()))
	}

	s.waiters.signal(tripID, models.OfferAccepted)
	s.announceAccepted(ctx, trip)

	return trip, nil
}

// Reject resolves a driver's rejection and lets the loop move on.
func (s *Service) Reject(ctx context.Context, tripID, driverID uuid.UUID) error {
	ok, err := s.repo.RejectOffer(ctx, tripID, driverID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to reject offer", zap.Error(err))
		return common.NewInternalServerError("failed to reject offer")
	}
	if !ok {
		return common.NewOfferExpiredError("offer is no longer available")
	}

	recordOfferOutcome("rejected")
	s.pool.RecordOfferOutcome(ctx, driverID, false)
	s.waiters.signal(tripID, models.OfferRejected)

	return nil
}

// GetSettings returns the live dispatch settings.
func (s *Service) GetSettings(ctx context.Context) (*models.DispatchSettings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load dispatch settings")
	}
	if settings == nil {
		return s.defaults(), nil
	}
	return settings, nil
}

// UpdateSettings validates and overwrites the live dispatch settings (admin).
func (s *Service) UpdateSettings(ctx context.Context, settings *models.DispatchSettings) (*models.DispatchSettings, error) {
	if settings.OfferTimeoutSec <= 0 || settings.MaxOffers <= 0 || settings.SearchRadiusKm <= 0 {
		return nil, common.NewValidationError("timeout, max offers and radius must be positive")
	}
	if settings.WeightETA < 0 || settings.WeightRating < 0 || settings.WeightAcceptance < 0 || settings.ServiceMatchBonus < 0 {
		return nil, common.NewValidationError("weights must not be negative")
	}

	if err := s.repo.UpdateSettings(ctx, settings); err != nil {
		logger.ErrorContext(ctx, "failed to update dispatch settings", zap.Error(err))
		return nil, common.NewInternalServerError("failed to update dispatch settings")
	}

	return settings, nil
}

// TripOffers returns a trip's offer history (admin).
func (s *Service) TripOffers(ctx context.Context, tripID uuid.UUID) ([]*models.TripOffer, error) {
	offers, err := s.repo.ListOffersByTrip(ctx, tripID)
	if err != nil {
		return nil, common.NewInternalServerError("failed to list offers")
	}
	return offers, nil
}

// RecentOffers returns the latest offers across all trips (admin).
func (s *Service) RecentOffers(ctx context.Context, limit int) ([]*models.TripOffer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offers, err := s.repo.ListRecentOffers(ctx, limit)
	if err != nil {
		return nil, common.NewInternalServerError("failed to list offers")
	}
	return offers, nil
}

// rankCandidates finds, filters and scores nearby drivers.
func (s *Service) rankCandidates(ctx context.Context, trip *models.Trip, settings *models.DispatchSettings) []*scored {
	ids, err := s.locator.NearbyDrivers(ctx, trip.PickupLat, trip.PickupLng, settings.SearchRadiusKm, candidateLimit)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search nearby drivers", zap.Error(err))
		return nil
	}

	cands, err := s.repo.ListCandidates(ctx, ids)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load candidates", zap.Error(err))
		return nil
	}

	// premium classes require an exact vehicle match; economy takes anyone
	if trip.ServiceType != "" && trip.ServiceType != "economy" {
		matched := cands[:0]
		for _, c := range cands {
			if c.Driver.VehicleType == trip.ServiceType {
				matched = append(matched, c)
			}
		}
		cands = matched
	}
	if len(cands) == 0 {
		return nil
	}

	pickup := geo.LatLng{Lat: trip.PickupLat, Lng: trip.PickupLng}
	etas := s.etaMinutes(ctx, pickup, cands)

	ranked := make([]*scored, len(cands))
	for i, c := range cands {
		ranked[i] = &scored{
			cand:   c,
			etaMin: etas[i],
			score:  scoreCandidate(settings, c, etas[i], trip.ServiceType),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].etaMin != ranked[j].etaMin {
			return ranked[i].etaMin < ranked[j].etaMin
		}
		return earlier(ranked[i].cand.Driver.LastAcceptedAt, ranked[j].cand.Driver.LastAcceptedAt)
	})

	return ranked
}

// etaMinutes asks the routing matrix for driver-to-pickup durations and
// degrades to straight-line estimates when the provider is down.
func (s *Service) etaMinutes(ctx context.Context, pickup geo.LatLng, cands []*Candidate) []float64 {
	etas := make([]float64, len(cands))

	if s.eta != nil {
		points := make([]geo.LatLng, 0, len(cands)+1)
		points = append(points, pickup)
		for _, c := range cands {
			points = append(points, geo.LatLng{Lat: c.Lat, Lng: c.Lng})
		}

		matrix, err := s.eta.Table(ctx, points)
		if err == nil && matrix != nil && len(matrix.Durations) == len(points) {
			for i := range cands {
				etas[i] = matrix.Durations[i+1][0] / 60.0
			}
			return etas
		}
		if err != nil {
			logger.WarnContext(ctx, "eta matrix unavailable, using straight-line estimates", zap.Error(err))
		}
	}

	for i, c := range cands {
		dist := geo.Haversine(c.Lat, c.Lng, pickup.Lat, pickup.Lng)
		etas[i] = float64(geo.EstimateDuration(dist))
	}

	return etas
}

// giveUp cancels the trip after exhausting the candidate list.
func (s *Service) giveUp(ctx context.Context, trip *models.Trip) {
	tripsUnplacedTotal.Inc()
	if err := s.trips.CancelNoDrivers(ctx, trip.ID); err != nil {
		logger.ErrorContext(ctx, "failed to cancel unplaced trip",
			zap.String("trip_id", trip.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) announceAccepted(ctx context.Context, trip *models.Trip) {
	data := map[string]interface{}{
		"status": string(trip.Status),
	}
	if trip.DriverID != nil {
		data["driver_id"] = trip.DriverID.String()
	}

	msg := &rooms.Message{
		Type:      "trip:accepted",
		TripID:    trip.ID.String(),
		Timestamp: s.now(),
		Data:      data,
	}
	s.emit(rooms.UserRoom(trip.RiderID.String()), msg)
	if trip.DriverID != nil {
		s.emit(rooms.DriverRoom(trip.DriverID.String()), msg)
	}

	if s.bus != nil {
		event, err := eventbus.NewEvent(eventbus.SubjectTripAccepted, "dispatch", data)
		if err == nil {
			if err := s.bus.Publish(ctx, eventbus.SubjectTripAccepted, event); err != nil {
				logger.ErrorContext(ctx, "failed to publish acceptance", zap.Error(err))
			}
		}
	}
}

func (s *Service) emit(room string, msg *rooms.Message) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.EmitToRoom(room, msg); err != nil {
		logger.Error("failed to emit dispatch event",
			zap.String("room", room),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}

func (s *Service) loadSettings(ctx context.Context) *models.DispatchSettings {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load dispatch settings, using defaults", zap.Error(err))
	}
	if settings == nil {
		return s.defaults()
	}
	return settings
}

func (s *Service) defaults() *models.DispatchSettings {
	return &models.DispatchSettings{
		ID:                1,
		WeightETA:         s.cfg.WeightETA,
		WeightRating:      s.cfg.WeightRating,
		WeightAcceptance:  s.cfg.WeightAcceptance,
		ServiceMatchBonus: s.cfg.WeightBonus,
		OfferTimeoutSec:   s.cfg.OfferTimeoutSec,
		MaxOffers:         s.cfg.MaxOffers,
		SearchRadiusKm:    s.cfg.SearchRadiusKm,
	}
}

// scoreCandidate computes the weighted ranking score for one driver.
func scoreCandidate(settings *models.DispatchSettings, c *Candidate, etaMin float64, serviceType string) float64 {
	etaNorm := 1 - clamp(etaMin/maxEtaMinutes, 0, 1)
	ratingNorm := c.Driver.Rating / 5
	acceptanceNorm := c.Driver.AcceptanceRate

	bonus := 0.0
	if serviceType != "" && c.Driver.VehicleType == serviceType {
		bonus = 1.0
	}

	return settings.WeightETA*etaNorm +
		settings.WeightRating*ratingNorm +
		settings.WeightAcceptance*acceptanceNorm +
		settings.ServiceMatchBonus*bonus
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// earlier orders drivers who accepted least recently first; a driver who
// never accepted sorts before everyone.
func earlier(a, b *time.Time) bool {
	if a == nil {
		return true
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
