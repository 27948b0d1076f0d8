package signalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/signal"
	"github.com/linnemanlabs/beacon/internal/store"
)

// SignalPayload is the wire shape of an inbound signal report. Source is
// kept verbatim (connectors send raw channel names like "bmkg" or "tiktok");
// diversity scoring buckets unknown values conservatively.
type SignalPayload struct {
	Source    string   `json:"source"`
	Text      string   `json:"text"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lng"`
	EventType string   `json:"event_type"`
	CityHint  string   `json:"city_hint"`
	CreatedAt string   `json:"created_at"` // ISO-8601, optional
}

// IngestResult pairs a persisted signal with its enrichment.
type IngestResult struct {
	Signal     *signal.Signal    `json:"signal"`
	Enrichment *agent.Enrichment `json:"enrichment"`
}

// Ingestor enriches and persists inbound signals. Enrichment is best-effort:
// a model outage degrades to a synthetic low-severity result, never a
// rejected ingest. Persistence failures propagate.
type Ingestor struct {
	store    store.Store
	provider agent.Provider
	model    string
	logger   log.Logger
}

// NewIngestor wires an ingestor.
func NewIngestor(st store.Store, provider agent.Provider, model string, logger log.Logger) *Ingestor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Ingestor{
		store:    st,
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// Ingest enriches one signal and persists it.
func (ing *Ingestor) Ingest(ctx context.Context, payload *SignalPayload) (*IngestResult, error) {
	sig, err := payload.toSignal()
	if err != nil {
		return nil, err
	}

	enr, tr, perr := agent.ProcessSignal(ctx, ing.provider, ing.model, sig)
	if perr != nil {
		ing.logger.Warn(ctx, "signal enrichment failed, using fallback",
			"signal_id", sig.ID, "error", perr.Error())
		fb := agent.FallbackEnrichment(sig)
		enr = &fb
	}
	applyEnrichment(sig, enr)

	if err := ing.store.InsertSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}
	if tr != nil {
		if err := ing.store.InsertTrace(ctx, tr); err != nil {
			ing.logger.Warn(ctx, "failed to persist enrichment trace",
				"signal_id", sig.ID, "error", err.Error())
		}
	}

	ing.logger.Info(ctx, "signal ingested",
		"signal_id", sig.ID,
		"source", string(sig.Source),
		"event_type", sig.EventType,
		"severity", enr.Severity,
		"urgency", enr.UrgencyScore,
	)
	return &IngestResult{Signal: sig, Enrichment: enr}, nil
}

// IngestBatch enriches a batch in one model call and persists every signal.
// Enrichment never fails the batch; per-signal persistence errors are
// reported in the result.
func (ing *Ingestor) IngestBatch(ctx context.Context, payloads []*SignalPayload) ([]BatchItem, error) {
	sigs := make([]signal.Signal, 0, len(payloads))
	items := make([]BatchItem, len(payloads))
	idx := make([]int, 0, len(payloads)) // position of each valid signal in items

	for i, p := range payloads {
		sig, err := p.toSignal()
		if err != nil {
			items[i] = BatchItem{Status: "invalid", Error: err.Error()}
			continue
		}
		sigs = append(sigs, *sig)
		idx = append(idx, i)
	}
	if len(sigs) == 0 {
		return items, nil
	}

	enrichments, tr := agent.ProcessSignalBatch(ctx, ing.provider, ing.model, sigs)
	if tr != nil {
		if err := ing.store.InsertTrace(ctx, tr); err != nil {
			ing.logger.Warn(ctx, "failed to persist batch enrichment trace", "error", err.Error())
		}
	}

	for j := range sigs {
		sig := sigs[j]
		enr := enrichments[j]
		applyEnrichment(&sig, &enr)

		item := BatchItem{
			Status:     "accepted",
			Signal:     &sig,
			Enrichment: &enr,
		}
		if err := ing.store.InsertSignal(ctx, &sig); err != nil {
			ing.logger.Error(ctx, err, "failed to persist batch signal", "signal_id", sig.ID)
			item = BatchItem{Status: "failed", Error: "persist failed"}
		}
		items[idx[j]] = item
	}
	return items, nil
}

// BatchItem is the per-input outcome of a batch ingest.
type BatchItem struct {
	Status     string            `json:"status"` // accepted | invalid | failed
	Error      string            `json:"error,omitempty"`
	Signal     *signal.Signal    `json:"signal,omitempty"`
	Enrichment *agent.Enrichment `json:"enrichment,omitempty"`
}

// ErrInvalidPayload marks client errors in a signal payload.
var ErrInvalidPayload = errors.New("invalid signal payload")

func (p *SignalPayload) toSignal() (*signal.Signal, error) {
	if p.Text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidPayload)
	}
	if p.Source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidPayload)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return nil, fmt.Errorf("%w: lat and lng must be provided together", ErrInvalidPayload)
	}

	createdAt := nowUTC()
	if p.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: bad created_at: %v", ErrInvalidPayload, err)
		}
		createdAt = t.UTC()
	}

	return &signal.Signal{
		ID:        ulid.Make().String(),
		Source:    signal.Source(p.Source),
		Text:      p.Text,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		EventType: p.EventType,
		CityHint:  p.CityHint,
		Status:    signal.StatusPending,
		CreatedAt: createdAt,
	}, nil
}

// applyEnrichment folds the model's assessment back into the signal before
// persistence. The enriched event type is authoritative: this is what keeps
// noise out of clustering.
func applyEnrichment(sig *signal.Signal, enr *agent.Enrichment) {
	enr.SignalID = sig.ID
	if enr.EventType != "" {
		sig.EventType = enr.EventType
	}
	if !sig.HasCoordinates() && enr.Latitude != nil && enr.Longitude != nil {
		sig.Latitude = enr.Latitude
		sig.Longitude = enr.Longitude
	}
	if sig.CityHint == "" && enr.Location != "" {
		sig.CityHint = enr.Location
	}
}

func (a *API) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	var payload SignalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	result, err := a.ingestor.Ingest(r.Context(), &payload)
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		a.logger.Error(r.Context(), err, "signal ingest failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Signals []*SignalPayload `json:"signals"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if len(payload.Signals) == 0 {
		http.Error(w, `{"error":"signals array is empty"}`, http.StatusBadRequest)
		return
	}

	items, err := a.ingestor.IngestBatch(r.Context(), payload.Signals)
	if err != nil {
		a.logger.Error(r.Context(), err, "batch ingest failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"results": items})
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
