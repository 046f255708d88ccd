package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	// Kabul city center to airport, roughly 4.5km
	d := Haversine(34.5333, 69.1667, 34.5659, 69.2123)
	assert.InDelta(t, 5.5, d, 1.0)

	// same point
	assert.Zero(t, Haversine(34.5333, 69.1667, 34.5333, 69.1667))

	// rounded to 2dp
	d = Haversine(40.7128, -74.0060, 40.7130, -74.0062)
	assert.Equal(t, math.Round(d*100)/100, d)
}

func TestHaversineM(t *testing.T) {
	// ~111km per degree of latitude
	d := HaversineM(0, 0, 1, 0)
	assert.InDelta(t, 111_195, d, 500)

	// sub-100m resolution survives (Haversine would round to 0.02km)
	d = HaversineM(40.7128, -74.0060, 40.71285, -74.0060)
	assert.InDelta(t, 5.5, d, 1)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 15, EstimateDuration(10)) // 10km at 40km/h
	assert.Equal(t, 60, EstimateDuration(40))
	assert.Equal(t, 0, EstimateDuration(0))
}

func TestPerpendicularDistanceM(t *testing.T) {
	// route running due north along lng=0
	route := []LatLng{{Lat: 0, Lng: 0}, {Lat: 0.01, Lng: 0}}

	// point on the route
	assert.InDelta(t, 0, PerpendicularDistanceM(LatLng{Lat: 0.005, Lng: 0}, route), 1)

	// ~111m east of the route
	d := PerpendicularDistanceM(LatLng{Lat: 0.005, Lng: 0.001}, route)
	assert.InDelta(t, 111, d, 3)

	// beyond the segment end, distance is to the endpoint
	d = PerpendicularDistanceM(LatLng{Lat: 0.02, Lng: 0}, route)
	assert.InDelta(t, 1113, d, 15)
}

func TestPerpendicularDistanceMDegenerate(t *testing.T) {
	assert.True(t, math.IsInf(PerpendicularDistanceM(LatLng{}, nil), 1))

	single := []LatLng{{Lat: 0, Lng: 0}}
	d := PerpendicularDistanceM(LatLng{Lat: 0.001, Lng: 0}, single)
	assert.InDelta(t, 111, d, 3)
}
