package location

import (
	"context"
	"sort"
	"sync"

	"github.com/hamsafar/dispatch/pkg/geo"
)

// MemoryGeoIndex is a process-local stand-in for the Redis GEO index, used
// when Redis is not configured. Single-instance deployments only: each API
// process would otherwise see a different driver pool.
type MemoryGeoIndex struct {
	mu      sync.RWMutex
	members map[string]map[string]geo.LatLng // key -> member -> position
}

// NewMemoryGeoIndex creates an empty index.
func NewMemoryGeoIndex() *MemoryGeoIndex {
	return &MemoryGeoIndex{members: make(map[string]map[string]geo.LatLng)}
}

// GeoAdd stores or updates a member's position.
func (m *MemoryGeoIndex) GeoAdd(_ context.Context, key string, longitude, latitude float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[key]; !ok {
		m.members[key] = make(map[string]geo.LatLng)
	}
	m.members[key][member] = geo.LatLng{Lat: latitude, Lng: longitude}
	return nil
}

// GeoRadius returns members within radiusKm of the point, nearest first.
func (m *MemoryGeoIndex) GeoRadius(_ context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		member string
		distKm float64
	}

	var hits []hit
	for member, pos := range m.members[key] {
		d := geo.Haversine(latitude, longitude, pos.Lat, pos.Lng)
		if d <= radiusKm {
			hits = append(hits, hit{member: member, distKm: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].distKm < hits[j].distKm })
	if count > 0 && len(hits) > count {
		hits = hits[:count]
	}

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.member
	}
	return out, nil
}
