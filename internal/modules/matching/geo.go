// README: Pure geographic computation helpers.
package matching

import (
	"math"

	"courier/internal/modules/driver"
	"courier/internal/types"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.0
)

// DistanceKm returns the great-circle (haversine) distance between two points.
func DistanceKm(p1, p2 types.Point) float64 {
	dLat := degreesToRadians(p2.Lat - p1.Lat)
	dLng := degreesToRadians(p2.Lng - p1.Lng)

	rLat1 := degreesToRadians(p1.Lat)
	rLat2 := degreesToRadians(p2.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// BoundingBox returns the lat/lng rectangle that contains every point within radiusKm of center.
// Near the poles the longitude span covers the whole range.
func BoundingBox(center types.Point, radiusKm float64) driver.Area {
	latDelta := radiusKm / kmPerDegree
	cosLat := math.Cos(degreesToRadians(center.Lat))

	lngDelta := 180.0
	if cosLat > 1e-9 {
		lngDelta = math.Min(180, radiusKm/(kmPerDegree*cosLat))
	}
	return driver.Area{
		MinLat: math.Max(-90, center.Lat-latDelta),
		MaxLat: math.Min(90, center.Lat+latDelta),
		MinLng: math.Max(-180, center.Lng-lngDelta),
		MaxLng: math.Min(180, center.Lng+lngDelta),
	}
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
