// Package memstore provides an in-memory implementation of store.Store.
// Suitable for dev and tests.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/signal"
)

// Store holds all state in process memory.
type Store struct {
	mu        sync.RWMutex
	signals   map[string]*signal.Signal
	incidents map[string]*incident.Incident
	links     map[string][]string // incident ID -> signal IDs
	lifecycle []incident.LifecycleEvent
	traces    []agent.Trace
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		signals:   make(map[string]*signal.Signal),
		incidents: make(map[string]*incident.Incident),
		links:     make(map[string][]string),
	}
}

// InsertSignal stores a copy of the signal.
func (s *Store) InsertSignal(_ context.Context, sig *signal.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; ok {
		return fmt.Errorf("memstore: signal %s exists", sig.ID)
	}
	cp := *sig
	s.signals[sig.ID] = &cp
	return nil
}

// UpdateSignalStatus transitions a signal's status.
func (s *Store) UpdateSignalStatus(_ context.Context, id string, status signal.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return fmt.Errorf("memstore: signal %s not found", id)
	}
	sig.Status = status
	return nil
}

// ListPendingSignals returns pending signals created at or after since,
// oldest first.
func (s *Store) ListPendingSignals(_ context.Context, since time.Time) ([]signal.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []signal.Signal
	for _, sig := range s.signals {
		if sig.Status == signal.StatusPending && !sig.CreatedAt.Before(since) {
			out = append(out, *sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// InsertIncident stores a copy of the incident.
func (s *Store) InsertIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; ok {
		return fmt.Errorf("memstore: incident %s exists", inc.ID)
	}
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

// UpdateIncident overwrites an existing incident.
func (s *Store) UpdateIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; !ok {
		return fmt.Errorf("memstore: incident %s not found", inc.ID)
	}
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

// GetIncident retrieves an incident by id. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := *inc
	return &cp, true, nil
}

// ListIncidents returns the most recent incidents, newest first.
func (s *Store) ListIncidents(_ context.Context, limit int) ([]incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListIncidentsNear returns unresolved incidents within delta degrees on
// both axes.
func (s *Store) ListIncidentsNear(_ context.Context, lat, lng, delta float64) ([]incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []incident.Incident
	for _, inc := range s.incidents {
		if inc.Status == incident.StatusResolved {
			continue
		}
		if math.Abs(inc.Latitude-lat) <= delta && math.Abs(inc.Longitude-lng) <= delta {
			out = append(out, *inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LinkSignals attaches signals to an incident and marks them processed.
// Re-linking an already attached signal is a no-op.
func (s *Store) LinkSignals(_ context.Context, incidentID string, signalIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return fmt.Errorf("memstore: incident %s not found", incidentID)
	}
	for _, id := range signalIDs {
		sig, ok := s.signals[id]
		if !ok {
			return fmt.Errorf("memstore: signal %s not found", id)
		}
		sig.Status = signal.StatusProcessed
		if !linked(s.links[incidentID], id) {
			s.links[incidentID] = append(s.links[incidentID], id)
		}
	}
	inc.SignalCount = len(s.links[incidentID])
	inc.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendLifecycle records a status transition.
func (s *Store) AppendLifecycle(_ context.Context, ev *incident.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle = append(s.lifecycle, *ev)
	return nil
}

// InsertTrace appends an agent trace.
func (s *Store) InsertTrace(_ context.Context, tr *agent.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, *tr)
	return nil
}

// BindTraces backfills the incident id on every trace of a session.
func (s *Store) BindTraces(_ context.Context, sessionID, incidentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.traces {
		if s.traces[i].SessionID == sessionID {
			s.traces[i].IncidentID = incidentID
		}
	}
	return nil
}

// ListTracesByIncident returns an incident's traces in insertion order.
func (s *Store) ListTracesByIncident(_ context.Context, incidentID string) ([]agent.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agent.Trace
	for _, tr := range s.traces {
		if tr.IncidentID == incidentID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func linked(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// LinkedSignals returns the signal ids attached to an incident. Test helper.
func (s *Store) LinkedSignals(incidentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.links[incidentID]...)
}
