// Package geo holds the great-circle math and clock helpers used across the
// optimizer.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"fleetroute/internal/model"
)

const (
	EarthRadiusKm = 6371.0

	// MinKm and MaxKm bound every solver-facing distance. A zero-cost edge
	// lets the search build degenerate loops.
	MinKm = 0.1
	MaxKm = 20000.0
)

// Haversine returns the great-circle distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	c := 2 * math.Asin(math.Sqrt(a))
	return EarthRadiusKm * c
}

// DistanceKm is Haversine over two locations.
func DistanceKm(a, b model.Location) float64 {
	if a == b {
		return 0
	}
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// ValidLocation reports whether l is inside the lat/lng ranges.
func ValidLocation(l model.Location) bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// ClampKm bounds d to [MinKm, MaxKm].
func ClampKm(d float64) float64 {
	if math.IsNaN(d) || d < MinKm {
		return MinKm
	}
	if d > MaxKm {
		return MaxKm
	}
	return d
}

// ToMeters converts a clamped kilometer distance to integer meters.
func ToMeters(km float64) int {
	return int(ClampKm(km) * 1000)
}

// TravelMinutes rounds down.
func TravelMinutes(km, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(km / speedKmh * 60)
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("parse clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM", wrapping past 24h.
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
