// Package store defines the persistence interface for beacon's durable
// state: signals, incidents, their links, lifecycle events, and agent
// traces. The datastore is the sole source of truth; nothing in memory
// survives a restart except the reasoning cache, which is disposable.
package store

import (
	"context"
	"time"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/signal"
)

// Store is the persistence interface implemented by pgstore and memstore.
type Store interface {
	// InsertSignal persists a new signal. Critical write: errors propagate.
	InsertSignal(ctx context.Context, s *signal.Signal) error

	// UpdateSignalStatus transitions a signal's status, the only mutation
	// allowed on a persisted signal.
	UpdateSignalStatus(ctx context.Context, id string, status signal.Status) error

	// ListPendingSignals returns pending signals created at or after since.
	ListPendingSignals(ctx context.Context, since time.Time) ([]signal.Signal, error)

	// InsertIncident persists a new incident. Critical write.
	InsertIncident(ctx context.Context, inc *incident.Incident) error

	// UpdateIncident overwrites mutable incident fields by id.
	UpdateIncident(ctx context.Context, inc *incident.Incident) error

	// GetIncident retrieves an incident by id.
	GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error)

	// ListIncidents returns the most recent incidents, newest first.
	ListIncidents(ctx context.Context, limit int) ([]incident.Incident, error)

	// ListIncidentsNear returns unresolved incidents within an absolute
	// coordinate delta on both axes.
	ListIncidentsNear(ctx context.Context, lat, lng, delta float64) ([]incident.Incident, error)

	// LinkSignals attaches signals to an incident and marks them processed.
	LinkSignals(ctx context.Context, incidentID string, signalIDs []string) error

	// AppendLifecycle records a status transition. Best-effort write:
	// callers log failures and continue.
	AppendLifecycle(ctx context.Context, ev *incident.LifecycleEvent) error

	// InsertTrace appends one agent audit trace. Best-effort write.
	InsertTrace(ctx context.Context, tr *agent.Trace) error

	// BindTraces backfills the incident id on every trace of a session,
	// the single allowed late-bind on trace records.
	BindTraces(ctx context.Context, sessionID, incidentID string) error

	// ListTracesByIncident returns an incident's traces in insertion order.
	ListTracesByIncident(ctx context.Context, incidentID string) ([]agent.Trace, error)
}
