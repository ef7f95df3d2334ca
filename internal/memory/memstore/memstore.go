// Package memstore provides an in-memory implementation of memory.Bank.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/memory"
	"github.com/linnemanlabs/haven/internal/plan"
)

// Store holds the memory bank in process. Records are copied in and out.
type Store struct {
	mu        sync.RWMutex
	incidents []*alert.Alert
	plans     []*plan.Plan
	events    []memory.Event
}

// New initializes an empty Store.
func New() *Store {
	return &Store{}
}

// WriteIncident appends a copy of the alert and an incident event.
func (s *Store) WriteIncident(_ context.Context, al *alert.Alert) error {
	cp := al.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, cp)
	s.events = append(s.events, memory.NewEvent(memory.EventIncident, map[string]any{"id": cp.ID}))
	return nil
}

// WritePlan appends a copy of the plan and a plan event.
func (s *Store) WritePlan(_ context.Context, p *plan.Plan) error {
	cp := p.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, cp)
	s.events = append(s.events, memory.NewEvent(memory.EventPlan, map[string]any{"id": cp.EventID}))
	return nil
}

// Record appends a log event.
func (s *Store) Record(_ context.Context, typ string, fields map[string]any) error {
	e := memory.NewEvent(typ, fields)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Incidents returns copies of all incidents in append order.
func (s *Store) Incidents(_ context.Context) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*alert.Alert, len(s.incidents))
	for i, a := range s.incidents {
		out[i] = a.Clone()
	}
	return out, nil
}

// Plans returns copies of all plans in append order.
func (s *Store) Plans(_ context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*plan.Plan, len(s.plans))
	for i, p := range s.plans {
		out[i] = p.Clone()
	}
	return out, nil
}

// RecentEvents returns the last n events, all when n <= 0.
func (s *Store) RecentEvents(_ context.Context, n int) ([]memory.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := memory.Tail(s.events, n)
	for i := range out {
		out[i].Fields = maps.Clone(out[i].Fields)
	}
	return out, nil
}

// QueryByLocation returns copies of incidents at exactly this location.
func (s *Store) QueryByLocation(_ context.Context, location string) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, a := range s.incidents {
		if a.Location == location {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}
