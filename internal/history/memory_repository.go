package history

import (
	"context"
	"sort"
	"sync"

	"github.com/ws97109/highway-traffic/internal/detector"
)

// MemoryRepository is an in-memory Repository, used in tests and when no
// database is configured.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]*detector.Event
	audits []AlertAudit
}

// NewMemoryRepository creates an empty in-memory archive.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]*detector.Event)}
}

// Save stores a copy of the event.
func (r *MemoryRepository) Save(_ context.Context, ev *detector.Event) error {
	cp := *ev
	cp.Affected = append([]string(nil), ev.Affected...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[ev.ID] = &cp
	return nil
}

// Get retrieves one event by ID.
func (r *MemoryRepository) Get(_ context.Context, id string) (*detector.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

// List returns matching events, most recent first.
func (r *MemoryRepository) List(_ context.Context, q Query) ([]*detector.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*detector.Event
	for _, ev := range r.events {
		if q.Highway != "" && ev.Highway != q.Highway {
			continue
		}
		if q.Direction != "" && ev.Dir != q.Direction {
			continue
		}
		if !q.From.IsZero() && ev.DetectedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !ev.DetectedAt.Before(q.To) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Audit appends one alert audit row.
func (r *MemoryRepository) Audit(_ context.Context, a AlertAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, a)
	return nil
}

// Audits returns a copy of the recorded audit rows.
func (r *MemoryRepository) Audits() []AlertAudit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AlertAudit(nil), r.audits...)
}

var _ Repository = (*MemoryRepository)(nil)
