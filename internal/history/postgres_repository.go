package history

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ws97109/highway-traffic/internal/detector"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL event archive.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save upserts an event snapshot; the detector re-saves on every update so
// the archive always holds the latest state.
func (r *PostgresRepository) Save(ctx context.Context, ev *detector.Event) error {
	query := `
		INSERT INTO shockwave_events (
			event_id, origin_station, highway, direction,
			severity, max_drop_kmh, affected_stations,
			propagation_kmh, theoretical_wave_kmh,
			detected_at, last_confirmation, estimated_duration_s,
			active, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO UPDATE SET
			severity = EXCLUDED.severity,
			max_drop_kmh = EXCLUDED.max_drop_kmh,
			affected_stations = EXCLUDED.affected_stations,
			propagation_kmh = EXCLUDED.propagation_kmh,
			theoretical_wave_kmh = EXCLUDED.theoretical_wave_kmh,
			last_confirmation = EXCLUDED.last_confirmation,
			estimated_duration_s = EXCLUDED.estimated_duration_s,
			active = EXCLUDED.active,
			resolved_at = EXCLUDED.resolved_at
	`

	var resolvedAt *time.Time
	if !ev.ResolvedAt.IsZero() {
		resolvedAt = &ev.ResolvedAt
	}

	_, err := r.pool.Exec(ctx, query,
		ev.ID,
		ev.Origin,
		ev.Highway,
		ev.Dir,
		string(ev.Severity),
		ev.MaxDropKMH,
		ev.Affected,
		ev.PropagationKMH,
		ev.TheoreticalWaveKMH,
		ev.DetectedAt,
		ev.LastConfirmation,
		int64(ev.EstimatedDuration.Seconds()),
		ev.Active,
		resolvedAt,
	)
	return err
}

// Get retrieves one archived event.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*detector.Event, error) {
	query := selectColumns + ` WHERE event_id = $1`

	ev, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return ev, nil
}

// List returns archived events matching the query, most recent first.
func (r *PostgresRepository) List(ctx context.Context, q Query) ([]*detector.Event, error) {
	query := selectColumns + `
		WHERE ($1 = '' OR highway = $1)
		  AND ($2 = '' OR direction = $2)
		  AND ($3::timestamptz IS NULL OR detected_at >= $3)
		  AND ($4::timestamptz IS NULL OR detected_at < $4)
		ORDER BY detected_at DESC
		LIMIT $5
	`

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var from, to *time.Time
	if !q.From.IsZero() {
		from = &q.From
	}
	if !q.To.IsZero() {
		to = &q.To
	}

	rows, err := r.pool.Query(ctx, query, q.Highway, q.Direction, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*detector.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Audit appends one alert audit row. Append-only, no conflict handling.
func (r *PostgresRepository) Audit(ctx context.Context, a AlertAudit) error {
	query := `
		INSERT INTO alert_audit (event_id, severity, station_id, composed_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, a.EventID, string(a.Severity), a.StationID, a.ComposedAt)
	return err
}

const selectColumns = `
	SELECT
		event_id, origin_station, highway, direction,
		severity, max_drop_kmh, affected_stations,
		propagation_kmh, theoretical_wave_kmh,
		detected_at, last_confirmation, estimated_duration_s,
		active, resolved_at
	FROM shockwave_events
`

func scanEvent(row pgx.Row) (*detector.Event, error) {
	var (
		ev         detector.Event
		severity   string
		durationS  int64
		resolvedAt *time.Time
	)
	err := row.Scan(
		&ev.ID,
		&ev.Origin,
		&ev.Highway,
		&ev.Dir,
		&severity,
		&ev.MaxDropKMH,
		&ev.Affected,
		&ev.PropagationKMH,
		&ev.TheoreticalWaveKMH,
		&ev.DetectedAt,
		&ev.LastConfirmation,
		&durationS,
		&ev.Active,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Severity = detector.Severity(severity)
	ev.EstimatedDuration = time.Duration(durationS) * time.Second
	if resolvedAt != nil {
		ev.ResolvedAt = *resolvedAt
	}
	return &ev, nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
