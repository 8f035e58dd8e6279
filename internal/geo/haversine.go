// Package geo holds the great-circle math used to classify position fixes
// against circular geofences.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by every distance computation.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	// Rounding can push h a hair above 1 for antipodal points.
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(math.Min(1, h)))
}

// Valid reports whether p lies within the decimal-degree ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Within reports whether p is inside the circle of radiusMeters around center,
// together with the computed distance. The boundary counts as inside.
func Within(center, p Point, radiusMeters float64) (float64, bool) {
	d := DistanceMeters(center, p)
	return d, d <= radiusMeters
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
