package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/signal"
)

const (
	RoleEnrich      = "enrich"
	RoleEnrichBatch = "enrich_batch"
)

// FallbackReason marks enrichment results synthesized after a model outage.
const FallbackReason = "Batch Analysis Failed - requires manual review"

// Enrichment is the per-signal assessment produced before persistence:
// severity, urgency, a resolved location, and a normalized event type.
type Enrichment struct {
	SignalID     string   `json:"signal_id,omitempty"`
	Severity     string   `json:"severity"`
	UrgencyScore float64  `json:"urgency_score"`
	EventType    string   `json:"event_type"`
	Location     string   `json:"location,omitempty"`
	Latitude     *float64 `json:"lat,omitempty"`
	Longitude    *float64 `json:"lng,omitempty"`
	Reason       string   `json:"reason"`
}

type enrichBatchOutput struct {
	Results []Enrichment `json:"results"`
}

// Enricher returns the single-signal enrichment agent.
func Enricher(model string) Definition {
	return Definition{
		Role:      RoleEnrich,
		Model:     model,
		MaxTokens: 1024,
		System: `You assess one raw disaster report. Estimate severity, urgency, event type, and location.
Respond with strict JSON only: {"severity": "low"|"medium"|"high", "urgency_score": number, "event_type": string, "location": string, "lat": number|null, "lng": number|null, "reason": string}.
urgency_score is 0-10. Use event_type "noise" for spam, jokes, or off-topic text.`,
		BuildPrompt: func(input any) (string, error) {
			s, ok := input.(*signal.Signal)
			if !ok {
				return "", fmt.Errorf("enrich: input is %T, want *signal.Signal", input)
			}
			return buildSignalPrompt(s), nil
		},
	}
}

// BatchEnricher returns the batch variant: one call, one result per signal,
// in input order.
func BatchEnricher(model string) Definition {
	return Definition{
		Role:      RoleEnrichBatch,
		Model:     model,
		MaxTokens: 4096,
		System: `You assess a batch of raw disaster reports. For EACH report, in order, estimate severity, urgency, event type, and location.
Respond with strict JSON only: {"results": [{"signal_id": string, "severity": "low"|"medium"|"high", "urgency_score": number, "event_type": string, "location": string, "lat": number|null, "lng": number|null, "reason": string}]}.
The results array must have exactly one entry per input report, in input order.`,
		BuildPrompt: func(input any) (string, error) {
			sigs, ok := input.([]signal.Signal)
			if !ok {
				return "", fmt.Errorf("enrich batch: input is %T, want []signal.Signal", input)
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Reports (%d):\n", len(sigs))
			for i := range sigs {
				fmt.Fprintf(&sb, "%d. id=%s\n%s\n", i+1, sigs[i].ID, buildSignalPrompt(&sigs[i]))
			}
			return sb.String(), nil
		},
	}
}

func buildSignalPrompt(s *signal.Signal) string {
	loc := "unknown"
	if s.HasCoordinates() {
		loc = fmt.Sprintf("%.4f,%.4f", *s.Latitude, *s.Longitude)
	}
	return fmt.Sprintf("source: %s\ncity_hint: %s\ncoordinates: %s\nevent_hint: %s\ntext: %s",
		s.Source, s.CityHint, loc, s.EventType, s.Text)
}

// ProcessSignal enriches a single signal. Errors propagate; callers on a
// never-block ingestion path should fall back to FallbackEnrichment.
func ProcessSignal(ctx context.Context, p Provider, model string, s *signal.Signal) (*Enrichment, *Trace, error) {
	var out Enrichment
	tr, err := Run(ctx, p, Enricher(model), newAuditSession(), s, &out)
	if err != nil {
		return nil, nil, err
	}
	out.SignalID = s.ID
	return &out, tr, nil
}

// ProcessSignalBatch enriches a batch of signals in one model call. It never
// fails: when the call errors, returns unparsable output, or returns the
// wrong cardinality, every input gets a synthetic fallback result so
// ingestion proceeds. The signal is tagged event_type "noise", which keeps
// it out of clustering but persisted for manual review.
func ProcessSignalBatch(ctx context.Context, p Provider, model string, sigs []signal.Signal) ([]Enrichment, *Trace) {
	if len(sigs) == 0 {
		return nil, nil
	}

	var out enrichBatchOutput
	tr, err := Run(ctx, p, BatchEnricher(model), newAuditSession(), sigs, &out)
	if err != nil || len(out.Results) != len(sigs) {
		results := make([]Enrichment, len(sigs))
		for i := range sigs {
			results[i] = FallbackEnrichment(&sigs[i])
		}
		return results, nil
	}

	for i := range out.Results {
		out.Results[i].SignalID = sigs[i].ID
	}
	return out.Results, tr
}

// FallbackEnrichment synthesizes the conservative result used when model
// enrichment is unavailable. Location hints from the input pass through.
func FallbackEnrichment(s *signal.Signal) Enrichment {
	return Enrichment{
		SignalID:     s.ID,
		Severity:     "low",
		UrgencyScore: 0,
		EventType:    signal.EventNoise,
		Location:     s.CityHint,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		Reason:       FallbackReason,
	}
}

// newAuditSession builds a session id for standalone (non-pipeline) agent
// calls so their traces still group.
func newAuditSession() string {
	return "adhoc-" + ulid.Make().String()
}
