// Package history archives resolved and active shockwave events so the
// detection query surface can serve time-ranged lookups beyond the
// in-memory grace window.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/ws97109/highway-traffic/internal/detector"
)

// ErrEventNotFound is returned when no archived event matches the ID.
var ErrEventNotFound = errors.New("event not found")

// Query filters an archive lookup. Zero fields match everything.
type Query struct {
	Highway   string
	Direction string
	From      time.Time
	To        time.Time
	Limit     int
}

// AlertAudit is one composed-alert record kept for operator review. Alerts
// themselves are ephemeral; the audit row is what happened, not what is.
type AlertAudit struct {
	EventID    string
	Severity   detector.Severity
	StationID  string
	ComposedAt time.Time
}

// Repository stores shockwave events and alert audit rows.
type Repository interface {
	// Save inserts or updates an event snapshot.
	Save(ctx context.Context, ev *detector.Event) error

	// Get retrieves one event by ID.
	Get(ctx context.Context, id string) (*detector.Event, error)

	// List returns events matching the query, most recent first.
	List(ctx context.Context, q Query) ([]*detector.Event, error)

	// Audit records that an alert was composed for an event.
	Audit(ctx context.Context, a AlertAudit) error
}
