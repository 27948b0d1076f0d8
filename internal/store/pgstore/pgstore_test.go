package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/postgres"
	"github.com/linnemanlabs/beacon/internal/signal"
	"github.com/linnemanlabs/beacon/internal/store/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("BEACON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BEACON_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestSignal(source signal.Source, text string) *signal.Signal {
	lat, lng := -6.2, 106.8
	return &signal.Signal{
		ID:        ulid.Make().String(),
		Source:    source,
		Text:      text,
		Latitude:  &lat,
		Longitude: &lng,
		EventType: signal.EventFlood,
		CityHint:  "Jakarta",
		Status:    signal.StatusPending,
		CreatedAt: time.Now().Truncate(time.Microsecond).UTC(),
	}
}

func newTestIncident() *incident.Incident {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &incident.Incident{
		ID:              ulid.Make().String(),
		EventType:       signal.EventFlood,
		City:            "Jakarta",
		Latitude:        -6.2,
		Longitude:       106.8,
		Status:          incident.StatusMonitor,
		Severity:        incident.SeverityMedium,
		ConfidenceScore: 0.65,
		Title:           "Flooding in Jakarta",
		Summary:         "Multiple reports of street flooding",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSignalRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	sig := newTestSignal(signal.SourceOfficial, "BMKG: flood warning issued")
	if err := s.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("InsertSignal: %v", err)
	}

	pending, err := s.ListPendingSignals(ctx, sig.CreatedAt.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListPendingSignals: %v", err)
	}
	var got *signal.Signal
	for i := range pending {
		if pending[i].ID == sig.ID {
			got = &pending[i]
		}
	}
	if got == nil {
		t.Fatalf("inserted signal %s not in pending list", sig.ID)
	}
	if got.Source != sig.Source || got.Text != sig.Text || got.CityHint != sig.CityHint {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, sig)
	}
	if got.Latitude == nil || *got.Latitude != *sig.Latitude {
		t.Errorf("latitude not preserved: got %v", got.Latitude)
	}

	if err := s.UpdateSignalStatus(ctx, sig.ID, signal.StatusRejected); err != nil {
		t.Fatalf("UpdateSignalStatus: %v", err)
	}
	pending, err = s.ListPendingSignals(ctx, sig.CreatedAt.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListPendingSignals after reject: %v", err)
	}
	for i := range pending {
		if pending[i].ID == sig.ID {
			t.Error("rejected signal still listed as pending")
		}
	}
}

func TestUpdateSignalStatusMissing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.UpdateSignalStatus(ctx, "nonexistent-signal", signal.StatusProcessed); err == nil {
		t.Error("UpdateSignalStatus succeeded for nonexistent id")
	}
}

func TestIncidentRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newTestIncident()
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	got, ok, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if !ok {
		t.Fatal("GetIncident returned ok=false")
	}
	if got.EventType != inc.EventType || got.City != inc.City || got.Status != inc.Status {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, inc)
	}
	if got.ConfidenceScore != inc.ConfidenceScore {
		t.Errorf("ConfidenceScore: got %v, want %v", got.ConfidenceScore, inc.ConfidenceScore)
	}
	if got.ResolvedAt != nil {
		t.Errorf("ResolvedAt: got %v, want nil", got.ResolvedAt)
	}

	resolved := time.Now().Truncate(time.Microsecond).UTC()
	inc.Status = incident.StatusResolved
	inc.ResolvedAt = &resolved
	inc.UpdatedAt = resolved
	if err := s.UpdateIncident(ctx, inc); err != nil {
		t.Fatalf("UpdateIncident: %v", err)
	}

	got, ok, err = s.GetIncident(ctx, inc.ID)
	if err != nil || !ok {
		t.Fatalf("GetIncident after update: ok=%v err=%v", ok, err)
	}
	if got.Status != incident.StatusResolved {
		t.Errorf("Status after update: got %s, want resolved", got.Status)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolved) {
		t.Errorf("ResolvedAt after update: got %v, want %v", got.ResolvedAt, resolved)
	}
}

func TestGetIncidentMissing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.GetIncident(ctx, "nonexistent-incident")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if ok {
		t.Error("GetIncident returned ok=true for nonexistent id")
	}
}

func TestListIncidentsNearExcludesResolved(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	active := newTestIncident()
	if err := s.InsertIncident(ctx, active); err != nil {
		t.Fatalf("InsertIncident active: %v", err)
	}

	resolvedAt := time.Now().Truncate(time.Microsecond).UTC()
	done := newTestIncident()
	done.Status = incident.StatusResolved
	done.ResolvedAt = &resolvedAt
	if err := s.InsertIncident(ctx, done); err != nil {
		t.Fatalf("InsertIncident resolved: %v", err)
	}

	far := newTestIncident()
	far.Latitude = -8.65
	far.Longitude = 115.2
	if err := s.InsertIncident(ctx, far); err != nil {
		t.Fatalf("InsertIncident far: %v", err)
	}

	near, err := s.ListIncidentsNear(ctx, -6.2, 106.8, 0.1)
	if err != nil {
		t.Fatalf("ListIncidentsNear: %v", err)
	}

	ids := make(map[string]bool, len(near))
	for _, inc := range near {
		ids[inc.ID] = true
	}
	if !ids[active.ID] {
		t.Error("active nearby incident not returned")
	}
	if ids[done.ID] {
		t.Error("resolved incident returned by ListIncidentsNear")
	}
	if ids[far.ID] {
		t.Error("distant incident returned by ListIncidentsNear")
	}
}

func TestLinkSignals(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newTestIncident()
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	sigs := []*signal.Signal{
		newTestSignal(signal.SourceOfficial, "official flood bulletin"),
		newTestSignal(signal.SourceSocialMedia, "streets underwater near station"),
	}
	ids := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		if err := s.InsertSignal(ctx, sig); err != nil {
			t.Fatalf("InsertSignal: %v", err)
		}
		ids = append(ids, sig.ID)
	}

	if err := s.LinkSignals(ctx, inc.ID, ids); err != nil {
		t.Fatalf("LinkSignals: %v", err)
	}

	got, ok, err := s.GetIncident(ctx, inc.ID)
	if err != nil || !ok {
		t.Fatalf("GetIncident: ok=%v err=%v", ok, err)
	}
	if got.SignalCount != 2 {
		t.Errorf("SignalCount: got %d, want 2", got.SignalCount)
	}

	pending, err := s.ListPendingSignals(ctx, sigs[0].CreatedAt.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListPendingSignals: %v", err)
	}
	for i := range pending {
		for _, id := range ids {
			if pending[i].ID == id {
				t.Errorf("linked signal %s still pending", id)
			}
		}
	}

	// Linking again must be idempotent.
	if err := s.LinkSignals(ctx, inc.ID, ids[:1]); err != nil {
		t.Fatalf("LinkSignals repeat: %v", err)
	}
	got, _, err = s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident after repeat: %v", err)
	}
	if got.SignalCount != 2 {
		t.Errorf("SignalCount after repeat link: got %d, want 2", got.SignalCount)
	}
}

func TestAppendLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newTestIncident()
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	ev := &incident.LifecycleEvent{
		IncidentID: inc.ID,
		From:       incident.StatusMonitor,
		To:         incident.StatusAlert,
		Reason:     "confidence rose above threshold",
		At:         time.Now().Truncate(time.Microsecond).UTC(),
	}
	if err := s.AppendLifecycle(ctx, ev); err != nil {
		t.Fatalf("AppendLifecycle: %v", err)
	}
}

func TestTraceBindAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newTestIncident()
	if err := s.InsertIncident(ctx, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	sessionID := ulid.Make().String()
	steps := []string{"observer", "classifier", "skeptic", "synthesizer", "action"}
	now := time.Now().Truncate(time.Microsecond).UTC()
	for i, step := range steps {
		tr := &agent.Trace{
			SessionID: sessionID,
			Step:      step,
			Input:     `{"in":true}`,
			Output:    `{"out":true}`,
			Model:     "claude-sonnet-4-5",
			Usage:     agent.Usage{InputTokens: 100 + i, OutputTokens: 50 + i},
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertTrace(ctx, tr); err != nil {
			t.Fatalf("InsertTrace %s: %v", step, err)
		}
	}

	if err := s.BindTraces(ctx, sessionID, inc.ID); err != nil {
		t.Fatalf("BindTraces: %v", err)
	}

	traces, err := s.ListTracesByIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("ListTracesByIncident: %v", err)
	}
	if len(traces) != len(steps) {
		t.Fatalf("traces: got %d, want %d", len(traces), len(steps))
	}
	for i, tr := range traces {
		if tr.Step != steps[i] {
			t.Errorf("trace[%d].Step: got %s, want %s", i, tr.Step, steps[i])
		}
		if tr.IncidentID != inc.ID {
			t.Errorf("trace[%d].IncidentID: got %s, want %s", i, tr.IncidentID, inc.ID)
		}
		if tr.Usage.InputTokens != 100+i || tr.Usage.OutputTokens != 50+i {
			t.Errorf("trace[%d].Usage: got %+v, want %d in / %d out", i, tr.Usage, 100+i, 50+i)
		}
	}
}
