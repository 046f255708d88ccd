package geo

import "math"

const (
	earthRadiusKm   = 6371.0
	averageSpeedKmh = 40.0 // city traffic average
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Haversine calculates the great-circle distance in kilometres between two
// coordinates. The result is rounded to two decimal places.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(earthRadiusKm*c*100) / 100
}

// HaversineM is Haversine without rounding, in metres. Used where sub-100m
// resolution matters (auto-arrival, deviation checks).
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000
}

// EstimateDuration returns the estimated travel time in minutes for a given
// distance in kilometres, assuming an average city speed of 40 km/h.
func EstimateDuration(distanceKm float64) int {
	return int(math.Round((distanceKm / averageSpeedKmh) * 60))
}

// PerpendicularDistanceM returns the shortest distance in metres from point
// to the polyline, measured against each segment. An empty polyline returns
// +Inf; a single point degenerates to point-to-point distance.
func PerpendicularDistanceM(point LatLng, polyline []LatLng) float64 {
	if len(polyline) == 0 {
		return math.Inf(1)
	}
	if len(polyline) == 1 {
		return HaversineM(point.Lat, point.Lng, polyline[0].Lat, polyline[0].Lng)
	}

	min := math.Inf(1)
	for i := 0; i < len(polyline)-1; i++ {
		d := segmentDistanceM(point, polyline[i], polyline[i+1])
		if d < min {
			min = d
		}
	}
	return min
}

// segmentDistanceM computes point-to-segment distance in metres on an
// equirectangular projection centered at the point. Accurate enough for the
// few-hundred-metre scales deviation checks operate at.
func segmentDistanceM(p, a, b LatLng) float64 {
	const metersPerDegLat = 111320.0
	cosLat := math.Cos(p.Lat * math.Pi / 180.0)

	ax := (a.Lng - p.Lng) * metersPerDegLat * cosLat
	ay := (a.Lat - p.Lat) * metersPerDegLat
	bx := (b.Lng - p.Lng) * metersPerDegLat * cosLat
	by := (b.Lat - p.Lat) * metersPerDegLat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(ax, ay)
	}

	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	return math.Hypot(ax+t*dx, ay+t*dy)
}
