package alert

import "sync"

// Store is the shared in-process alert set. Alerts are kept in insertion
// order, keyed by id, and never removed. The lock only covers the
// membership check with append and the copy-out for readers.
type Store struct {
	mu     sync.RWMutex
	alerts []*Alert
	index  map[string]int // alert ID -> position in alerts
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Snapshot returns copies of all stored alerts in insertion order.
func (s *Store) Snapshot() []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Alert, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.Clone()
	}
	return out
}

// AppendBatch commits every alert whose id is not yet stored, including
// duplicates within the batch itself, and returns copies of those added.
// The whole batch is applied under one write lock, so concurrent snapshots
// see either none or all of it.
func (s *Store) AppendBatch(batch []*Alert) []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []*Alert
	for _, a := range batch {
		if a == nil || a.ID == "" {
			continue
		}
		if _, ok := s.index[a.ID]; ok {
			continue
		}
		cp := a.Clone()
		s.index[cp.ID] = len(s.alerts)
		s.alerts = append(s.alerts, cp)
		added = append(added, cp.Clone())
	}
	return added
}

// Find returns a copy of the alert with the given id.
func (s *Store) Find(id string) (*Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.alerts[i].Clone(), true
}

// Contains reports whether an alert with the given id is stored.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Len returns the number of stored alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
