// Package geo provides great-circle distance helpers for preference checks.
package geo

import "math"

const earthRadiusKm = 6371

// DefaultMaxDistanceKm applies when a user has no stated radius preference.
const DefaultMaxDistanceKm = 50.0

// DistanceKm computes the haversine distance between two coordinates.
// Missing coordinates (nil) yield +Inf so the pair reads as out of range.
func DistanceKm(lat1, lon1, lat2, lon2 *float64) float64 {
	if lat1 == nil || lon1 == nil || lat2 == nil || lon2 == nil {
		return math.Inf(1)
	}

	dLat := deg2rad(*lat2 - *lat1)
	dLon := deg2rad(*lon2 - *lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(*lat1))*math.Cos(deg2rad(*lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Point is one side of a distance-preference check.
type Point struct {
	Latitude      *float64
	Longitude     *float64
	MaxDistanceKm *float64
}

// WithinPreferredDistance reports whether a and b are within both parties'
// stated radius. Missing coordinates on either side fail closed.
func WithinPreferredDistance(a, b Point) bool {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return false
	}

	dist := DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)

	maxA := DefaultMaxDistanceKm
	if a.MaxDistanceKm != nil {
		maxA = *a.MaxDistanceKm
	}
	maxB := DefaultMaxDistanceKm
	if b.MaxDistanceKm != nil {
		maxB = *b.MaxDistanceKm
	}

	return dist <= maxA && dist <= maxB
}

func deg2rad(deg float64) float64 {
	return deg * (math.Pi / 180)
}
