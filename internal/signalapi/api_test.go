package signalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/authmw"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/signal"
	"github.com/linnemanlabs/beacon/internal/store/memstore"
)

type mockProvider struct {
	text  string
	err   error
	calls int
}

func (m *mockProvider) Complete(context.Context, *agent.Request) (*agent.Response, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &agent.Response{Text: m.text, Model: "test-model"}, nil
}

const enrichedFlood = `{"severity":"high","urgency_score":0.9,"event_type":"flood","location":"Jakarta","reason":"official flood warning"}`

func newTestRouter(provider agent.Provider, auth func(http.Handler) http.Handler) (chi.Router, *memstore.Store) {
	st := memstore.New()
	ing := NewIngestor(st, provider, "test-model", nil)
	api := New(nil, st, ing)
	r := chi.NewRouter()
	api.RegisterRoutes(r, auth)
	return r, st
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestNew_NilStore_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil store did not panic")
		}
	}()
	New(nil, nil, nil)
}

func TestIngestSignal(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{text: enrichedFlood}
	r, st := newTestRouter(provider, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/signals",
		`{"source":"bmkg","text":"Flood warning for North Jakarta","lat":-6.12,"lng":106.85}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var result IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Enrichment.Severity != "high" {
		t.Errorf("Severity = %q, want high", result.Enrichment.Severity)
	}
	if result.Signal.EventType != signal.EventFlood {
		t.Errorf("EventType = %q, want flood (from enrichment)", result.Signal.EventType)
	}
	if result.Signal.CityHint != "Jakarta" {
		t.Errorf("CityHint = %q, want Jakarta (from enrichment)", result.Signal.CityHint)
	}

	pending, err := st.ListPendingSignals(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListPendingSignals: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != result.Signal.ID {
		t.Errorf("pending = %+v, want the ingested signal", pending)
	}
}

func TestIngestSignalEnrichmentFallback(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{err: errors.New("model unavailable")}
	r, st := newTestRouter(provider, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/signals",
		`{"source":"user","text":"something happened","city_hint":"Bandung"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (ingestion never blocks on model outage): %s", rec.Code, rec.Body.String())
	}

	var result IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Enrichment.Severity != "low" {
		t.Errorf("fallback Severity = %q, want low", result.Enrichment.Severity)
	}
	if result.Enrichment.UrgencyScore != 0 {
		t.Errorf("fallback UrgencyScore = %v, want 0", result.Enrichment.UrgencyScore)
	}
	if result.Enrichment.Reason != agent.FallbackReason {
		t.Errorf("fallback Reason = %q, want %q", result.Enrichment.Reason, agent.FallbackReason)
	}
	// Fallback marks the signal as noise so it never clusters, but it is
	// still persisted for audit.
	if result.Signal.EventType != signal.EventNoise {
		t.Errorf("EventType = %q, want noise", result.Signal.EventType)
	}
	pending, _ := st.ListPendingSignals(context.Background(), time.Now().Add(-time.Hour))
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1 (persisted despite outage)", len(pending))
	}
}

func TestIngestSignalValidation(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(&mockProvider{text: enrichedFlood}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{bad`},
		{"missing text", `{"source":"bmkg"}`},
		{"missing source", `{"text":"flood"}`},
		{"lat without lng", `{"source":"bmkg","text":"flood","lat":-6.1}`},
		{"bad created_at", `{"source":"bmkg","text":"flood","created_at":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, r, http.MethodPost, "/api/v1/signals", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestIngestBatch(t *testing.T) {
	t.Parallel()

	batchOut := `{"results":[` + enrichedFlood + `,` + enrichedFlood + `]}`
	provider := &mockProvider{text: batchOut}
	r, st := newTestRouter(provider, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/signals/batch",
		`{"signals":[
			{"source":"bmkg","text":"flood warning","lat":-6.1,"lng":106.8},
			{"source":"twitter","text":"streets flooded","lat":-6.11,"lng":106.81}
		]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (single batch call)", provider.calls)
	}

	var resp struct {
		Results []BatchItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	for i, item := range resp.Results {
		if item.Status != "accepted" {
			t.Errorf("results[%d].Status = %q, want accepted", i, item.Status)
		}
		if item.Signal.EventType != signal.EventFlood {
			t.Errorf("results[%d] EventType = %q, want flood", i, item.Signal.EventType)
		}
	}

	pending, _ := st.ListPendingSignals(context.Background(), time.Now().Add(-time.Hour))
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestIngestBatchModelOutageFallsBack(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{err: errors.New("overloaded")}
	r, _ := newTestRouter(provider, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/signals/batch",
		`{"signals":[
			{"source":"bmkg","text":"flood"},
			{"source":"user","text":"report"},
			{"source":"news","text":"article"}
		]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []BatchItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want one fallback per input", len(resp.Results))
	}
	for i, item := range resp.Results {
		if item.Status != "accepted" {
			t.Errorf("results[%d].Status = %q, want accepted", i, item.Status)
		}
		if item.Enrichment.Reason != agent.FallbackReason {
			t.Errorf("results[%d].Reason = %q, want fallback reason", i, item.Enrichment.Reason)
		}
		if item.Enrichment.EventType != signal.EventNoise {
			t.Errorf("results[%d].EventType = %q, want noise", i, item.Enrichment.EventType)
		}
	}
}

func TestIngestBatchMixedValidity(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{text: `{"results":[` + enrichedFlood + `]}`}
	r, _ := newTestRouter(provider, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/signals/batch",
		`{"signals":[
			{"source":"bmkg"},
			{"source":"bmkg","text":"flood warning"}
		]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []BatchItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Results[0].Status != "invalid" {
		t.Errorf("results[0].Status = %q, want invalid", resp.Results[0].Status)
	}
	if resp.Results[1].Status != "accepted" {
		t.Errorf("results[1].Status = %q, want accepted", resp.Results[1].Status)
	}
}

func seedIncident(t *testing.T, st *memstore.Store) *incident.Incident {
	t.Helper()
	now := time.Now().UTC()
	inc := &incident.Incident{
		ID:              "inc-test-1",
		EventType:       signal.EventFlood,
		City:            "Jakarta",
		Latitude:        -6.2,
		Longitude:       106.8,
		Status:          incident.StatusAlert,
		Severity:        incident.SeverityHigh,
		ConfidenceScore: 0.85,
		Title:           "Flooding in Jakarta",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.InsertIncident(context.Background(), inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}
	return inc
}

func TestGetIncident(t *testing.T) {
	t.Parallel()

	r, st := newTestRouter(&mockProvider{text: enrichedFlood}, nil)
	inc := seedIncident(t, st)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/incidents/"+inc.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got incident.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != inc.ID || got.City != "Jakarta" {
		t.Errorf("got %+v, want seeded incident", got)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/incidents/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing incident status = %d, want 404", rec.Code)
	}
}

func TestListIncidents(t *testing.T) {
	t.Parallel()

	r, st := newTestRouter(&mockProvider{text: enrichedFlood}, nil)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/incidents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"incidents":[]`) {
		t.Errorf("empty list body = %s, want empty array not null", rec.Body.String())
	}

	seedIncident(t, st)
	rec = doJSON(t, r, http.MethodGet, "/api/v1/incidents?limit=10", "")
	var resp struct {
		Incidents []incident.Incident `json:"incidents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Incidents) != 1 {
		t.Errorf("incidents = %d, want 1", len(resp.Incidents))
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/incidents?limit=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestListTraces(t *testing.T) {
	t.Parallel()

	r, st := newTestRouter(&mockProvider{text: enrichedFlood}, nil)
	inc := seedIncident(t, st)

	for i, step := range []string{"observer", "classifier"} {
		tr := &agent.Trace{
			SessionID:  "sess-1",
			IncidentID: inc.ID,
			Step:       step,
			Input:      "{}",
			Output:     "{}",
			Model:      "test-model",
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.InsertTrace(context.Background(), tr); err != nil {
			t.Fatalf("InsertTrace: %v", err)
		}
	}

	rec := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/incidents/%s/traces", inc.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Traces []agent.Trace `json:"traces"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Traces) != 2 {
		t.Fatalf("traces = %d, want 2", len(resp.Traces))
	}
	if resp.Traces[0].Step != "observer" {
		t.Errorf("traces[0].Step = %q, want observer (insertion order)", resp.Traces[0].Step)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/incidents/nope/traces", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing incident traces status = %d, want 404", rec.Code)
	}
}

func TestResolveIncident(t *testing.T) {
	t.Parallel()

	r, st := newTestRouter(&mockProvider{text: enrichedFlood}, nil)
	inc := seedIncident(t, st)

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/incidents/%s/resolve", inc.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	got, ok, err := st.GetIncident(context.Background(), inc.ID)
	if err != nil || !ok {
		t.Fatalf("GetIncident: ok=%v err=%v", ok, err)
	}
	if got.Status != incident.StatusResolved {
		t.Errorf("Status = %q, want resolved", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	// Resolving again is idempotent.
	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/incidents/%s/resolve", inc.ID), "")
	if rec.Code != http.StatusOK {
		t.Errorf("repeat resolve status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/incidents/nope/resolve", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing incident resolve status = %d, want 404", rec.Code)
	}
}

func TestAuthGuardsWritesOnly(t *testing.T) {
	t.Parallel()

	r, st := newTestRouter(&mockProvider{text: enrichedFlood}, authmw.BearerToken("sekrit"))
	seedIncident(t, st)

	// Writes without a token are rejected.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/signals", `{"source":"bmkg","text":"flood"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated ingest status = %d, want 401", rec.Code)
	}

	// Reads stay open.
	rec = doJSON(t, r, http.MethodGet, "/api/v1/incidents", "")
	if rec.Code != http.StatusOK {
		t.Errorf("unauthenticated read status = %d, want 200", rec.Code)
	}

	// Writes with the token pass.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(`{"source":"bmkg","text":"flood"}`))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusCreated {
		t.Errorf("authenticated ingest status = %d, want 201", rec2.Code)
	}
}
