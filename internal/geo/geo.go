// Package geo holds the geographic types shared by ingestion and planning,
// plus the collaborators that resolve places, shelters and routes.
package geo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is a finite coordinate inside the WGS84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Shelter is a candidate evacuation site. Results are ordered best match first.
type Shelter struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	PlaceID  string  `json:"place_id,omitempty"`
	Capacity int     `json:"capacity,omitempty"`
}

// Point returns the shelter location.
func (s Shelter) Point() Point { return Point{Lat: s.Lat, Lon: s.Lon} }

// Route is an estimated travel path between two points.
type Route struct {
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	Polyline        string  `json:"polyline,omitempty"`
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Float converts a loosely typed JSON value (number, json.Number or numeric
// string) into a float64.
func Float(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
