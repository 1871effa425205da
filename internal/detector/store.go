package detector

import (
	"sort"
	"sync"
	"time"
)

// EventStore holds the shockwave events of one partition. Each partition's
// detector owns its store; there is no shared global event state.
//
// Every read returns a deep copy and every write replaces the stored entry,
// so API goroutines can hold results while the detector keeps mutating its
// working copy. The detector mutates the clone it read and writes it back
// with put.
type EventStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	grace  time.Duration
}

// NewEventStore creates a store. Resolved events remain queryable for the
// grace period before being pruned.
func NewEventStore(grace time.Duration) *EventStore {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &EventStore{
		events: make(map[string]*Event),
		grace:  grace,
	}
}

func (s *EventStore) put(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e.Clone()
}

// Get returns a copy of the event with the given ID.
func (s *EventStore) Get(id string) (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Active returns active events ordered by detection time.
func (s *EventStore) Active() []*Event {
	return s.list(true)
}

// All returns every retained event, including resolved ones still inside
// the display grace period.
func (s *EventStore) All() []*Event {
	return s.list(false)
}

func (s *EventStore) list(activeOnly bool) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// activeWithStation returns a copy of the active event containing the
// station, if any.
func (s *EventStore) activeWithStation(stationID string) *Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.Active && e.Contains(stationID) {
			return e.Clone()
		}
	}
	return nil
}

// prune drops resolved events older than the grace period.
func (s *EventStore) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.events {
		if !e.Active && now.Sub(e.ResolvedAt) > s.grace {
			delete(s.events, id)
		}
	}
}
