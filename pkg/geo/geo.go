package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0

// DefaultSpeedKMH is the assumed average delivery speed.
const DefaultSpeedKMH = 40.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate rejects coordinates outside latitude [-90,90] and longitude [-180,180].
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Lng)
	}
	return nil
}

// DistanceKM returns the haversine distance between a and b in kilometres.
func DistanceKM(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKM * c
}

// ETAMinutes rounds the travel time for distanceKM at speedKMH up to whole minutes.
// A non-positive speed falls back to DefaultSpeedKMH.
func ETAMinutes(distanceKM, speedKMH float64) int {
	if speedKMH <= 0 {
		speedKMH = DefaultSpeedKMH
	}
	if distanceKM <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKM / speedKMH * 60))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
