// Package memory defines the append-only record of incidents, plans and
// terse log events kept alongside the alert store.
package memory

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/plan"
)

// DefaultRecentEvents is how many events readers are served by default.
const DefaultRecentEvents = 200

// Event types written by the bank itself.
const (
	EventIncident = "incident"
	EventPlan     = "plan"
)

// Bank is the append-only memory. Nothing is ever updated or deleted, and
// lookups are linear scans.
type Bank interface {
	// WriteIncident appends the alert and an "incident" event.
	WriteIncident(ctx context.Context, al *alert.Alert) error
	// WritePlan appends the plan and a "plan" event.
	WritePlan(ctx context.Context, p *plan.Plan) error
	Record(ctx context.Context, typ string, fields map[string]any) error
	Incidents(ctx context.Context) ([]*alert.Alert, error)
	Plans(ctx context.Context) ([]*plan.Plan, error)
	// RecentEvents returns the last n events in append order, all when n <= 0.
	RecentEvents(ctx context.Context, n int) ([]Event, error)
	// QueryByLocation returns incidents whose location matches exactly.
	QueryByLocation(ctx context.Context, location string) ([]*alert.Alert, error)
}

// Event is a terse log entry. It encodes flat: {"type":..., <fields>, "time":...}.
type Event struct {
	Type   string
	Fields map[string]any
	Time   time.Time
}

// NewEvent creates an event stamped with the current time. fields is copied.
func NewEvent(typ string, fields map[string]any) Event {
	return Event{Type: typ, Fields: maps.Clone(fields), Time: time.Now().UTC()}
}

// MarshalJSON implements json.Marshaler. type and time win over fields
// of the same name.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["type"] = e.Type
	m["time"] = e.Time.UTC().Format(time.RFC3339Nano)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	e.Type, _ = m["type"].(string)
	e.Time = time.Time{}
	if s, ok := m["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Time = t
		}
	}
	delete(m, "type")
	delete(m, "time")
	e.Fields = m
	return nil
}

// Tail returns the last n events, or all of them when n <= 0. The result is
// a fresh slice.
func Tail(events []Event, n int) []Event {
	if n <= 0 || n > len(events) {
		n = len(events)
	}
	out := make([]Event, n)
	copy(out, events[len(events)-n:])
	return out
}
