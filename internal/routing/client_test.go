package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/geo"
)

const routeBody = `{
	"code": "Ok",
	"routes": [{
		"distance": 5200.0,
		"duration": 780.0,
		"geometry": {"coordinates": [[69.1667, 34.5333], [69.1700, 34.5400]]}
	}]
}`

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []string
}

func (r *recordingAlerts) RecordAlert(_ context.Context, kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, kind)
}

func (r *recordingAlerts) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

func newTestClient(t *testing.T, serverURL string, alerts AlertSink) *Client {
	t.Helper()
	client, err := NewClient(
		&config.RoutingConfig{BaseURL: serverURL, TimeoutMs: 1000, CacheTTLSeconds: 30, CacheSize: 10},
		config.CircuitBreakerSettings{FailureThreshold: 5, SuccessThreshold: 1, TimeoutSeconds: 60},
		nil,
		alerts,
	)
	require.NoError(t, err)
	return client
}

func TestDirectionsParsesRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(routeBody))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	route, err := client.Directions(context.Background(),
		geo.LatLng{Lat: 34.5333, Lng: 69.1667},
		geo.LatLng{Lat: 34.5400, Lng: 69.1700},
	)
	require.NoError(t, err)
	assert.Equal(t, 5200.0, route.DistanceMeters)
	assert.Equal(t, 780.0, route.DurationSec)
	assert.InDelta(t, 13.0, route.EtaMinutes(), 0.01)
	require.Len(t, route.Polyline, 2)
	assert.Equal(t, 34.5333, route.Polyline[0].Lat)
	assert.Equal(t, 69.1667, route.Polyline[0].Lng)
}

func TestDirectionsServedFromCache(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Write([]byte(routeBody))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	start := geo.LatLng{Lat: 34.5333, Lng: 69.1667}
	end := geo.LatLng{Lat: 34.5400, Lng: 69.1700}

	_, err := client.Directions(context.Background(), start, end)
	require.NoError(t, err)
	_, err = client.Directions(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// endpoints within the rounding resolution share the cache entry
	_, err = client.Directions(context.Background(),
		geo.LatLng{Lat: 34.53331, Lng: 69.16672}, end)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestCircuitOpensAfterFiveConsecutiveFailures(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	alerts := &recordingAlerts{}
	client := newTestClient(t, server.URL, alerts)
	start := geo.LatLng{Lat: 34.5333, Lng: 69.1667}

	for i := 0; i < 5; i++ {
		// vary the destination so every call misses the cache
		end := geo.LatLng{Lat: 34.6 + float64(i)*0.01, Lng: 69.2}
		_, err := client.Directions(context.Background(), start, end)
		require.Error(t, err)
	}
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))
	assert.False(t, client.Available())

	// sixth call is rejected without an outbound request
	_, err := client.Directions(context.Background(), start, geo.LatLng{Lat: 34.9, Lng: 69.9})
	require.Error(t, err)
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeRoutingUnavailable, appErr.ErrorCode)

	assert.Contains(t, alerts.kinds(), "ROUTING_CIRCUIT_OPEN")
}

func TestTableParsesMatrix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"code": "Ok",
			"distances": [[0, 1200.5], [1180.2, 0]],
			"durations": [[0, 240], [230, 0]]
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	matrix, err := client.Table(context.Background(), []geo.LatLng{
		{Lat: 34.5333, Lng: 69.1667},
		{Lat: 34.5400, Lng: 69.1700},
	})
	require.NoError(t, err)
	assert.Equal(t, 1200.5, matrix.Distances[0][1])
	assert.Equal(t, 240.0, matrix.Durations[0][1])
}

func TestTableRejectsSinglePoint(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", nil)

	_, err := client.Table(context.Background(), []geo.LatLng{{Lat: 1, Lng: 1}})
	require.Error(t, err)
}

func TestNearestIdentityWhenSnapDisabled(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", nil)

	p := geo.LatLng{Lat: 34.5333, Lng: 69.1667}
	assert.Equal(t, p, client.Nearest(context.Background(), p))
}

func TestNearestSnapsToRoad(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "Ok", "waypoints": [{"location": [69.1670, 34.5335]}]}`))
	}))
	defer server.Close()

	client, err := NewClient(
		&config.RoutingConfig{BaseURL: server.URL, TimeoutMs: 1000, CacheTTLSeconds: 30, CacheSize: 10, SnapToRoad: true},
		config.CircuitBreakerSettings{FailureThreshold: 5, SuccessThreshold: 1, TimeoutSeconds: 60},
		nil,
		nil,
	)
	require.NoError(t, err)

	snapped := client.Nearest(context.Background(), geo.LatLng{Lat: 34.5333, Lng: 69.1667})
	assert.Equal(t, 34.5335, snapped.Lat)
	assert.Equal(t, 69.1670, snapped.Lng)
}
