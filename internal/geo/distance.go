// Package geo holds great-circle helpers for user location fixes.
package geo

import (
	"math"

	"github.com/micro-ha/follower-watch/internal/model"
)

const earthRadiusMeters = 6_371_000.0

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b model.Position) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PathLength sums the distances between consecutive points.
func PathLength(points []model.Position) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
