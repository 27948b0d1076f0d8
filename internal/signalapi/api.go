// Package signalapi exposes the HTTP surface for signal ingestion and
// incident inspection.
package signalapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/store"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	store    store.Store
	ingestor *Ingestor
}

// New creates a new API handler.
func New(logger log.Logger, st store.Store, ingestor *Ingestor) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if st == nil {
		panic(xerrors.New("store is required"))
	}
	if ingestor == nil {
		panic(xerrors.New("ingestor is required"))
	}
	return &API{
		logger:   logger,
		store:    st,
		ingestor: ingestor,
	}
}

// RegisterRoutes attaches API endpoints to the router. The auth middleware,
// when configured, guards the routes that write state or spend model
// tokens; incident reads stay open.
func (a *API) RegisterRoutes(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(auth)
			}
			r.Post("/signals", a.handleIngestSignal)
			r.Post("/signals/batch", a.handleIngestBatch)
			r.Post("/incidents/{id}/resolve", a.handleResolveIncident)
			r.Post("/analyze/authenticity", a.handleAnalyzeAuthenticity)
			r.Post("/analyze/location-match", a.handleMatchLocations)
			r.Post("/guide/qa", a.handleGuideQA)
		})
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/incidents/{id}/traces", a.handleListTraces)
	})
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	incidents, err := a.store.ListIncidents(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []incident.Incident{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.incident.id", id))

	inc, ok, err := a.store.GetIncident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("beacon.incident.status", string(inc.Status)))

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListTraces(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok, err := a.store.GetIncident(r.Context(), id); err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	} else if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	traces, err := a.store.ListTracesByIncident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list traces", "incident_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if traces == nil {
		traces = []agent.Trace{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

func (a *API) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inc, err := a.resolveIncident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to resolve incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if inc == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	a.logger.Info(r.Context(), "incident resolved", "incident_id", id)
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) resolveIncident(ctx context.Context, id string) (*incident.Incident, error) {
	inc, ok, err := a.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if inc.Status == incident.StatusResolved {
		return inc, nil
	}

	prev := inc.Status
	now := nowUTC()
	inc.Status = incident.StatusResolved
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
	if err := a.store.UpdateIncident(ctx, inc); err != nil {
		return nil, err
	}

	// Lifecycle is best-effort, the resolve itself already committed.
	ev := &incident.LifecycleEvent{
		IncidentID: inc.ID,
		From:       prev,
		To:         incident.StatusResolved,
		Reason:     "resolved via API",
		At:         now,
	}
	if err := a.store.AppendLifecycle(ctx, ev); err != nil {
		a.logger.Warn(ctx, "failed to append lifecycle event", "error", err.Error(), "incident_id", inc.ID)
	}
	return inc, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
