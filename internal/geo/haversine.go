package geo

import (
	"math"

	"freight-procurement/internal/procurement"
)

const (
	earthRadiusMiles = 3958.8
	metersPerMile    = 1609.344
)

// Haversine computes great-circle distances from coordinates.
type Haversine struct{}

// DistanceMiles returns the great-circle distance between two locations.
// The second result is false when either location lacks coordinates.
func (Haversine) DistanceMiles(from, to procurement.Location) (float64, bool) {
	if !from.HasCoordinates() || !to.HasCoordinates() {
		return 0, false
	}
	return HaversineMiles(*from.Lat, *from.Lng, *to.Lat, *to.Lng), true
}

// HaversineMiles returns the great-circle distance in miles between two
// points given in decimal degrees.
func HaversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
