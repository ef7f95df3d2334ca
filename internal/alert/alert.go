// Package alert defines the normalized disaster alert, the decoding of raw
// source candidates into alerts, and the shared in-process alert store.
package alert

import (
	"maps"
	"time"

	"github.com/linnemanlabs/haven/internal/geo"
)

// DefaultConfidence is applied when a candidate carries no usable confidence.
const DefaultConfidence = 0.5

// Alert is a normalized disaster signal. Once committed to a Store it is
// never mutated; readers always receive copies.
type Alert struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Location   string         `json:"location"`
	Time       time.Time      `json:"time"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Payload    map[string]any `json:"payload"`
}

// Raw is one decoded candidate record as produced by an alert source.
type Raw map[string]any

// Point returns the coordinates carried in the payload, if both lat and lon
// are numeric and in range.
func (a *Alert) Point() (geo.Point, bool) {
	if a == nil || a.Payload == nil {
		return geo.Point{}, false
	}
	lat, ok := geo.Float(a.Payload["lat"])
	if !ok {
		return geo.Point{}, false
	}
	lon, ok := geo.Float(a.Payload["lon"])
	if !ok {
		return geo.Point{}, false
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return geo.Point{}, false
	}
	return p, true
}

// SetPoint writes coordinates into the payload.
func (a *Alert) SetPoint(p geo.Point) {
	if a.Payload == nil {
		a.Payload = make(map[string]any, 2)
	}
	a.Payload["lat"] = p.Lat
	a.Payload["lon"] = p.Lon
}

// Clone returns a deep copy of the alert. Nested maps and slices inside the
// payload are copied as well.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Payload = cloneMap(a.Payload)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Raw:
		return Raw(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
