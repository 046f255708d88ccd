package location

import (
	"sort"
	"sync"
	"time"

	"github.com/uber/h3-go/v4"
)

// H3 resolution levels. See https://h3geo.org/docs/core-library/restable
const (
	// demandResolution aggregates demand into ~5 km² hexes (~1.2 km edge),
	// coarse enough for the admin heatmap.
	demandResolution = 7

	// demandWindow is how long a request contributes to a zone's demand.
	demandWindow = 15 * time.Minute
)

// ZoneDemand is one hex of the admin demand heatmap.
type ZoneDemand struct {
	Cell     string  `json:"cell"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Requests int     `json:"requests"`
	Surge    float64 `json:"surge"`
}

// DemandTracker keeps a sliding window of trip requests per H3 cell. It is
// a read model for operators, not an input to pricing, so in-process state
// is fine: each API instance sees its own slice of demand.
type DemandTracker struct {
	mu     sync.Mutex
	window time.Duration
	events map[h3.Cell][]time.Time
	now    func() time.Time
}

// NewDemandTracker creates a demand tracker with the default window.
func NewDemandTracker() *DemandTracker {
	return &DemandTracker{
		window: demandWindow,
		events: make(map[h3.Cell][]time.Time),
		now:    time.Now,
	}
}

// RecordDemand registers one trip request at the pickup point.
func (d *DemandTracker) RecordDemand(lat, lng float64) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), demandResolution)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.events[cell] = append(d.prune(d.events[cell], now), now)
}

// SurgeSnapshot returns the zones with live demand, busiest first. The
// surge factor grows with the request count and is capped at 3x.
func (d *DemandTracker) SurgeSnapshot() []ZoneDemand {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var out []ZoneDemand
	for cell, events := range d.events {
		live := d.prune(events, now)
		if len(live) == 0 {
			delete(d.events, cell)
			continue
		}
		d.events[cell] = live

		center, err := cell.LatLng()
		if err != nil {
			continue
		}
		out = append(out, ZoneDemand{
			Cell:     cell.String(),
			Lat:      center.Lat,
			Lng:      center.Lng,
			Requests: len(live),
			Surge:    surgeFactor(len(live)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Cell < out[j].Cell
	})

	return out
}

func (d *DemandTracker) prune(events []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-d.window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}

// surgeFactor maps a window request count to a multiplier: flat until 5
// requests, then +0.2 per request, capped at 3x.
func surgeFactor(requests int) float64 {
	if requests <= 5 {
		return 1.0
	}
	surge := 1.0 + 0.2*float64(requests-5)
	if surge > 3.0 {
		return 3.0
	}
	return surge
}
