package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/cache"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/geo"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/resilience"
	"github.com/hamsafar/dispatch/pkg/tracing"
)

// Route is a driving route between two points.
type Route struct {
	Polyline       []geo.LatLng `json:"polyline"`
	DistanceMeters float64      `json:"distance_meters"`
	DurationSec    float64      `json:"duration_sec"`
}

// EtaMinutes returns the route duration in minutes.
func (r *Route) EtaMinutes() float64 {
	return r.DurationSec / 60.0
}

// Matrix holds pairwise distances and durations for a set of points.
type Matrix struct {
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
}

// AlertSink receives operational alerts for administrators.
type AlertSink interface {
	RecordAlert(ctx context.Context, kind, message string)
}

type cachedRoute struct {
	route   *Route
	expires time.Time
}

// Client calls an OSRM-compatible routing provider. All calls go through a
// circuit breaker; when the circuit is open callers get RoutingUnavailable
// immediately and must decide for themselves whether a straight-line
// estimate is acceptable.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *resilience.CircuitBreaker
	local      *lru.Cache[string, cachedRoute]
	shared     *cache.Manager
	ttl        time.Duration
	snapToRoad bool
}

// NewClient creates a routing client. shared may be nil, in which case only
// the in-process LRU is used.
func NewClient(cfg *config.RoutingConfig, breakerCfg config.CircuitBreakerSettings, shared *cache.Manager, alerts AlertSink) (*Client, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1000
	}
	local, err := lru.New[string, cachedRoute](size)
	if err != nil {
		return nil, fmt.Errorf("create route cache: %w", err)
	}

	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "routing",
		Timeout:          time.Duration(breakerCfg.TimeoutSeconds) * time.Second,
		FailureThreshold: uint32(breakerCfg.FailureThreshold),
		SuccessThreshold: 1, // half-open admits exactly one probe
		OnOpen: func(name string) {
			logger.Warn("routing circuit opened", zap.String("breaker", name))
			if alerts != nil {
				alerts.RecordAlert(context.Background(), "ROUTING_CIRCUIT_OPEN",
					"routing provider circuit breaker opened; ETAs degraded to straight-line estimates")
			}
		},
	}, nil)

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		breaker:    breaker,
		local:      local,
		shared:     shared,
		ttl:        cfg.CacheTTL(),
		snapToRoad: cfg.SnapToRoad,
	}, nil
}

// Available reports whether the circuit currently admits requests.
func (c *Client) Available() bool {
	return c.breaker.Allow()
}

// Directions returns the driving route from start to end. Results are cached
// by rounded endpoints for a short TTL.
func (c *Client) Directions(ctx context.Context, start, end geo.LatLng) (*Route, error) {
	key := cache.Keys.Route(start.Lat, start.Lng, end.Lat, end.Lng)

	if entry, ok := c.local.Get(key); ok && time.Now().Before(entry.expires) {
		return entry.route, nil
	}
	if c.shared != nil {
		var route Route
		if err := c.shared.Get(ctx, key, &route); err == nil {
			c.local.Add(key, cachedRoute{route: &route, expires: time.Now().Add(c.ttl)})
			return &route, nil
		}
	}

	path := fmt.Sprintf("/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		start.Lng, start.Lat, end.Lng, end.Lat)

	body, err := c.call(ctx, "route", path)
	if err != nil {
		return nil, err
	}

	var resp osrmRouteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, common.NewRoutingUnavailableError("routing provider returned malformed response", err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, common.NewRoutingUnavailableError("no route found", nil)
	}

	route := &Route{
		DistanceMeters: resp.Routes[0].Distance,
		DurationSec:    resp.Routes[0].Duration,
		Polyline:       decodeGeometry(resp.Routes[0].Geometry),
	}

	c.local.Add(key, cachedRoute{route: route, expires: time.Now().Add(c.ttl)})
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, route, c.ttl); err != nil {
			logger.Debug("route cache write failed", zap.Error(err))
		}
	}

	return route, nil
}

// Table returns the pairwise distance/duration matrix for the given points.
// The first point is treated as the single source when sources is "0".
func (c *Client) Table(ctx context.Context, points []geo.LatLng) (*Matrix, error) {
	if len(points) < 2 {
		return nil, common.NewValidationError("matrix requires at least two points")
	}

	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = fmt.Sprintf("%f,%f", p.Lng, p.Lat)
	}
	path := fmt.Sprintf("/table/v1/driving/%s?annotations=duration,distance", strings.Join(coords, ";"))

	body, err := c.call(ctx, "table", path)
	if err != nil {
		return nil, err
	}

	var resp osrmTableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, common.NewRoutingUnavailableError("routing provider returned malformed response", err)
	}
	if resp.Code != "Ok" {
		return nil, common.NewRoutingUnavailableError("matrix request failed", nil)
	}

	return &Matrix{Distances: resp.Distances, Durations: resp.Durations}, nil
}

// Nearest snaps a raw GPS fix to the nearest road. When snapping is disabled
// or the provider is unavailable it returns the input unchanged, so location
// updates keep flowing with raw coordinates.
func (c *Client) Nearest(ctx context.Context, p geo.LatLng) geo.LatLng {
	if !c.snapToRoad {
		return p
	}

	path := fmt.Sprintf("/nearest/v1/driving/%f,%f?number=1", p.Lng, p.Lat)
	body, err := c.call(ctx, "nearest", path)
	if err != nil {
		return p
	}

	var resp osrmNearestResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != "Ok" || len(resp.Waypoints) == 0 {
		return p
	}
	loc := resp.Waypoints[0].Location
	if len(loc) != 2 {
		return p
	}
	return geo.LatLng{Lat: loc[1], Lng: loc[0]}
}

func (c *Client) call(ctx context.Context, operation, path string) ([]byte, error) {
	var result interface{}
	err := tracing.TraceExternalAPI(ctx, "routing", "osrm", operation, func(ctx context.Context) error {
		var execErr error
		result, execErr = c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return nil, err
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("routing provider returned %d", resp.StatusCode)
			}
			return body, nil
		})
		return execErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, common.NewRoutingUnavailableError("routing provider circuit open", err)
		}
		return nil, common.NewRoutingUnavailableError("routing provider request failed", err)
	}

	return result.([]byte), nil
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64      `json:"distance"`
		Duration float64      `json:"duration"`
		Geometry osrmGeometry `json:"geometry"`
	} `json:"routes"`
}

type osrmGeometry struct {
	Coordinates [][]float64 `json:"coordinates"`
}

type osrmTableResponse struct {
	Code      string      `json:"code"`
	Distances [][]float64 `json:"distances"`
	Durations [][]float64 `json:"durations"`
}

type osrmNearestResponse struct {
	Code      string `json:"code"`
	Waypoints []struct {
		Location []float64 `json:"location"`
	} `json:"waypoints"`
}

// decodeGeometry converts GeoJSON [lng,lat] pairs into LatLng points.
func decodeGeometry(g osrmGeometry) []geo.LatLng {
	points := make([]geo.LatLng, 0, len(g.Coordinates))
	for _, c := range g.Coordinates {
		if len(c) != 2 {
			continue
		}
		points = append(points, geo.LatLng{Lat: c[1], Lng: c[0]})
	}
	return points
}
