// Package pgstore provides a PostgreSQL implementation of store.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists beacon state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// InsertSignal persists a new signal.
func (s *Store) InsertSignal(ctx context.Context, sig *signal.Signal) error {
	ctx, span := s.startSpan(ctx, "pgstore.InsertSignal", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO signals (id, source, text, lat, lng, event_type, city_hint, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sig.ID, string(sig.Source), sig.Text, sig.Latitude, sig.Longitude,
		sig.EventType, sig.CityHint, string(sig.Status), sig.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert signal: %w", err))
	}
	return nil
}

// UpdateSignalStatus transitions a signal's status.
func (s *Store) UpdateSignalStatus(ctx context.Context, id string, status signal.Status) error {
	ctx, span := s.startSpan(ctx, "pgstore.UpdateSignalStatus", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return spanErr(span, fmt.Errorf("update signal status: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanErr(span, fmt.Errorf("signal %s not found", id))
	}
	return nil
}

// ListPendingSignals returns pending signals created at or after since,
// oldest first.
func (s *Store) ListPendingSignals(ctx context.Context, since time.Time) ([]signal.Signal, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListPendingSignals", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, source, text, lat, lng, event_type, city_hint, status, created_at
		 FROM signals WHERE status = 'pending' AND created_at >= $1
		 ORDER BY created_at, id`, since)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query pending signals: %w", err))
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *sig)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate signals: %w", err))
	}
	return out, nil
}

const incidentColumns = `id, event_type, city, lat, lng, status, severity,
	confidence_score, title, summary, signal_count, created_at, updated_at, resolved_at`

// InsertIncident persists a new incident.
func (s *Store) InsertIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := s.startSpan(ctx, "pgstore.InsertIncident", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		inc.ID, inc.EventType, inc.City, inc.Latitude, inc.Longitude,
		string(inc.Status), string(inc.Severity), inc.ConfidenceScore,
		inc.Title, inc.Summary, inc.SignalCount, inc.CreatedAt, inc.UpdatedAt, inc.ResolvedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert incident: %w", err))
	}
	return nil
}

// UpdateIncident overwrites mutable incident fields by id.
func (s *Store) UpdateIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := s.startSpan(ctx, "pgstore.UpdateIncident", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET
			event_type = $2, city = $3, lat = $4, lng = $5, status = $6,
			severity = $7, confidence_score = $8, title = $9, summary = $10,
			signal_count = $11, updated_at = $12, resolved_at = $13
		 WHERE id = $1`,
		inc.ID, inc.EventType, inc.City, inc.Latitude, inc.Longitude,
		string(inc.Status), string(inc.Severity), inc.ConfidenceScore,
		inc.Title, inc.Summary, inc.SignalCount, inc.UpdatedAt, inc.ResolvedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update incident: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return spanErr(span, fmt.Errorf("incident %s not found", inc.ID))
	}
	return nil
}

// GetIncident retrieves an incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}
	return inc, true, nil
}

// ListIncidents returns the most recent incidents, newest first.
func (s *Store) ListIncidents(ctx context.Context, limit int) ([]incident.Incident, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListIncidents", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	return collectIncidents(span, rows)
}

// ListIncidentsNear returns unresolved incidents within delta degrees on
// both axes.
func (s *Store) ListIncidentsNear(ctx context.Context, lat, lng, delta float64) ([]incident.Incident, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListIncidentsNear", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE status <> 'resolved'
		   AND abs(lat - $1) <= $3 AND abs(lng - $2) <= $3
		 ORDER BY id`, lat, lng, delta)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query nearby incidents: %w", err))
	}
	defer rows.Close()

	return collectIncidents(span, rows)
}

// LinkSignals attaches signals to an incident and marks them processed,
// atomically.
func (s *Store) LinkSignals(ctx context.Context, incidentID string, signalIDs []string) error {
	ctx, span := s.startSpan(ctx, "pgstore.LinkSignals", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for _, sigID := range signalIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO incident_signals (incident_id, signal_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, incidentID, sigID); err != nil {
			return spanErr(span, fmt.Errorf("link signal %s: %w", sigID, err))
		}
		if _, err := tx.Exec(ctx,
			`UPDATE signals SET status = 'processed' WHERE id = $1`, sigID); err != nil {
			return spanErr(span, fmt.Errorf("mark signal %s processed: %w", sigID, err))
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE incidents SET
			signal_count = (SELECT count(*) FROM incident_signals WHERE incident_id = $1),
			updated_at = now()
		 WHERE id = $1`, incidentID); err != nil {
		return spanErr(span, fmt.Errorf("refresh signal count: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// AppendLifecycle records a status transition.
func (s *Store) AppendLifecycle(ctx context.Context, ev *incident.LifecycleEvent) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendLifecycle", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO incident_lifecycle (incident_id, from_status, to_status, reason, at)
		 VALUES ($1,$2,$3,$4,$5)`,
		ev.IncidentID, string(ev.From), string(ev.To), ev.Reason, ev.At,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("append lifecycle: %w", err))
	}
	return nil
}

// InsertTrace appends one agent audit trace.
func (s *Store) InsertTrace(ctx context.Context, tr *agent.Trace) error {
	ctx, span := s.startSpan(ctx, "pgstore.InsertTrace", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_traces (session_id, incident_id, step, input, output, model, input_tokens, output_tokens, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tr.SessionID, tr.IncidentID, tr.Step, tr.Input, tr.Output, tr.Model,
		tr.Usage.InputTokens, tr.Usage.OutputTokens, tr.Timestamp,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert trace: %w", err))
	}
	return nil
}

// BindTraces backfills the incident id on every trace of a session.
func (s *Store) BindTraces(ctx context.Context, sessionID, incidentID string) error {
	ctx, span := s.startSpan(ctx, "pgstore.BindTraces", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE agent_traces SET incident_id = $2 WHERE session_id = $1`,
		sessionID, incidentID)
	if err != nil {
		return spanErr(span, fmt.Errorf("bind traces: %w", err))
	}
	return nil
}

// ListTracesByIncident returns an incident's traces in insertion order.
func (s *Store) ListTracesByIncident(ctx context.Context, incidentID string) ([]agent.Trace, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListTracesByIncident", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, incident_id, step, input, output, model, input_tokens, output_tokens, created_at
		 FROM agent_traces WHERE incident_id = $1 ORDER BY id`, incidentID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query traces: %w", err))
	}
	defer rows.Close()

	var out []agent.Trace
	for rows.Next() {
		var tr agent.Trace
		if err := rows.Scan(&tr.SessionID, &tr.IncidentID, &tr.Step, &tr.Input, &tr.Output, &tr.Model,
			&tr.Usage.InputTokens, &tr.Usage.OutputTokens, &tr.Timestamp); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan trace: %w", err))
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate traces: %w", err))
	}
	return out, nil
}

func scanSignal(row pgx.Row) (*signal.Signal, error) {
	var (
		sig    signal.Signal
		source string
		status string
	)
	if err := row.Scan(&sig.ID, &source, &sig.Text, &sig.Latitude, &sig.Longitude,
		&sig.EventType, &sig.CityHint, &status, &sig.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan signal: %w", err)
	}
	sig.Source = signal.Source(source)
	sig.Status = signal.Status(status)
	return &sig, nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc      incident.Incident
		status   string
		severity string
	)
	if err := row.Scan(&inc.ID, &inc.EventType, &inc.City, &inc.Latitude, &inc.Longitude,
		&status, &severity, &inc.ConfidenceScore, &inc.Title, &inc.Summary,
		&inc.SignalCount, &inc.CreatedAt, &inc.UpdatedAt, &inc.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Status = incident.Status(status)
	inc.Severity = incident.Severity(severity)
	return &inc, nil
}

func collectIncidents(span trace.Span, rows pgx.Rows) ([]incident.Incident, error) {
	var out []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate incidents: %w", err))
	}
	return out, nil
}
