// Package cluster turns pending signals into incidents. Each pass buckets
// recent signals by coordinate proximity, runs the reasoning pipeline over
// every surviving bucket, and applies the resulting action decision against
// the store.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/reasoning"
	"github.com/linnemanlabs/beacon/internal/signal"
	"github.com/linnemanlabs/beacon/internal/store"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/cluster")

// Reasoner runs a deliberation session over a signal cluster. Satisfied by
// *reasoning.Pipeline.
type Reasoner interface {
	Run(ctx context.Context, signals []signal.Signal, nearby []incident.Incident, incidentID string) (*reasoning.LoopResult, error)
	BindSession(ctx context.Context, sessionID, incidentID string) error
}

// Geocoder resolves coordinates to a city name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Notifier fans out incident events. Failures are logged, never escalated.
type Notifier interface {
	NotifyIncident(ctx context.Context, inc *incident.Incident, decision agent.Decision) error
}

// Options tune one engine instance.
type Options struct {
	// Window bounds how far back a pass looks for pending signals.
	Window time.Duration
	// Proximity is the absolute degree delta for bucket membership and
	// for the nearby-incident lookup handed to the reasoner.
	Proximity float64
	// MinSignals is the evidence floor below which a bucket is discarded.
	MinSignals int
	// MaxConcurrent caps simultaneous bucket sessions. Zero means 1.
	MaxConcurrent int
}

// Engine drives clustering passes.
type Engine struct {
	store    store.Store
	reasoner Reasoner
	geocoder Geocoder
	notifier Notifier
	opts     Options
	logger   log.Logger
	hooks    Hooks
}

// NewEngine wires a clustering engine. geocoder and notifier may be nil.
func NewEngine(st store.Store, reasoner Reasoner, geocoder Geocoder, notifier Notifier, opts Options, logger log.Logger, hooks Hooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MinSignals <= 0 {
		opts.MinSignals = 2
	}
	return &Engine{
		store:    st,
		reasoner: reasoner,
		geocoder: geocoder,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		hooks:    hooks,
	}
}

// RunLoop executes passes on the given interval until ctx is cancelled.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunPass(ctx); err != nil {
				e.logger.Error(ctx, err, "clustering pass failed")
			}
		}
	}
}

// RunPass executes one clustering pass: fetch the pending window, form
// buckets, and process every bucket. A failing bucket never blocks the
// others; its signals stay pending for the next pass.
func (e *Engine) RunPass(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "cluster.RunPass")
	defer span.End()
	start := time.Now()

	since := time.Now().Add(-e.opts.Window)
	pending, err := e.store.ListPendingSignals(ctx, since)
	if err != nil {
		return fmt.Errorf("list pending signals: %w", err)
	}

	// Bucket formation is a single sequential pass so the outcome is
	// deterministic for a given signal order.
	buckets := FormBuckets(pending, e.opts.Proximity, e.opts.MinSignals)
	span.SetAttributes(
		attribute.Int("cluster.pending_signals", len(pending)),
		attribute.Int("cluster.buckets", len(buckets)),
	)
	if len(buckets) == 0 {
		if e.hooks.OnPass != nil {
			e.hooks.OnPass(time.Since(start).Seconds(), 0)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)
	for i := range buckets {
		b := buckets[i]
		g.Go(func() error {
			outcome := "ok"
			if err := e.processBucket(gctx, b); err != nil {
				outcome = "failed"
				e.logger.Error(gctx, err, "bucket processing failed",
					"lat", b.Lat, "lng", b.Lng, "signals", len(b.Signals))
			}
			if e.hooks.OnBucket != nil {
				e.hooks.OnBucket(outcome)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // bucket failures are absorbed above

	if e.hooks.OnPass != nil {
		e.hooks.OnPass(time.Since(start).Seconds(), len(buckets))
	}
	e.logger.Info(ctx, "clustering pass complete",
		"pending", len(pending), "buckets", len(buckets),
		"duration", time.Since(start).Seconds())
	return nil
}

func (e *Engine) processBucket(ctx context.Context, b Bucket) error {
	ctx, span := tracer.Start(ctx, "cluster.processBucket", trace.WithAttributes(
		attribute.Float64("cluster.lat", b.Lat),
		attribute.Float64("cluster.lng", b.Lng),
		attribute.Int("cluster.signals", len(b.Signals)),
	))
	defer span.End()

	city := e.resolveCity(ctx, b.Lat, b.Lng)

	nearby, err := e.store.ListIncidentsNear(ctx, b.Lat, b.Lng, e.opts.Proximity)
	if err != nil {
		return fmt.Errorf("list nearby incidents: %w", err)
	}

	result, err := e.reasoner.Run(ctx, b.Signals, nearby, "")
	if err != nil {
		// Session aborted; signals stay pending and are retried next pass.
		return fmt.Errorf("reasoning session: %w", err)
	}

	return e.applyDecision(ctx, b, city, result)
}

func (e *Engine) applyDecision(ctx context.Context, b Bucket, city string, result *reasoning.LoopResult) error {
	L := e.logger.With("session_id", result.SessionID, "decision", string(result.Decision.Decision))

	switch result.Decision.Decision {
	case agent.DecisionCreate:
		return e.createIncident(ctx, L, b, city, result)
	case agent.DecisionMerge:
		return e.mergeIncident(ctx, L, b, result)
	case agent.DecisionWait:
		L.Info(ctx, "deferring cluster, waiting for more evidence",
			"reason", result.Decision.Reason, "signals", len(b.Signals))
		return nil
	case agent.DecisionDismiss:
		L.Info(ctx, "dismissing cluster", "reason", result.Decision.Reason)
		for _, sig := range b.Signals {
			if err := e.store.UpdateSignalStatus(ctx, sig.ID, signal.StatusRejected); err != nil {
				return fmt.Errorf("reject signal %s: %w", sig.ID, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown decision %q", result.Decision.Decision)
	}
}

func (e *Engine) createIncident(ctx context.Context, L log.Logger, b Bucket, city string, result *reasoning.LoopResult) error {
	conc := result.Conclusion
	now := time.Now()
	inc := &incident.Incident{
		ID:              ulid.Make().String(),
		EventType:       conc.FinalClassification,
		City:            city,
		Latitude:        b.Lat,
		Longitude:       b.Lng,
		Status:          incident.DetermineStatus(len(b.Signals), conc.ConfidenceScore, incident.Severity(conc.Severity)),
		Severity:        incident.Severity(conc.Severity),
		ConfidenceScore: conc.ConfidenceScore,
		Title:           conc.Title,
		Summary:         conc.Description,
		SignalCount:     len(b.Signals),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.store.InsertIncident(ctx, inc); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	if err := e.store.LinkSignals(ctx, inc.ID, signalIDs(b.Signals)); err != nil {
		return fmt.Errorf("link signals: %w", err)
	}

	// Best-effort writes from here on.
	if err := e.reasoner.BindSession(ctx, result.SessionID, inc.ID); err != nil {
		L.Warn(ctx, "failed to bind session traces", "error", err.Error(), "incident_id", inc.ID)
	}
	e.recordLifecycle(ctx, L, inc.ID, "", inc.Status, result.Decision.Reason)
	e.notify(ctx, L, inc, agent.DecisionCreate)

	L.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"event_type", inc.EventType,
		"city", inc.City,
		"status", string(inc.Status),
		"severity", string(inc.Severity),
		"confidence", inc.ConfidenceScore,
		"signals", inc.SignalCount,
	)
	return nil
}

func (e *Engine) mergeIncident(ctx context.Context, L log.Logger, b Bucket, result *reasoning.LoopResult) error {
	targetID := result.Decision.TargetIncidentID
	if targetID == "" {
		return fmt.Errorf("merge decision without target incident")
	}

	if err := e.store.LinkSignals(ctx, targetID, signalIDs(b.Signals)); err != nil {
		return fmt.Errorf("link signals to %s: %w", targetID, err)
	}

	inc, ok, err := e.store.GetIncident(ctx, targetID)
	if err != nil {
		return fmt.Errorf("get merge target %s: %w", targetID, err)
	}
	if !ok {
		return fmt.Errorf("merge target %s not found", targetID)
	}

	conc := result.Conclusion
	prev := inc.Status
	inc.ConfidenceScore = conc.ConfidenceScore
	if sev := incident.Severity(conc.Severity); severityRank(sev) > severityRank(inc.Severity) {
		inc.Severity = sev
	}
	if inc.Status != incident.StatusResolved {
		if next := incident.DetermineStatus(inc.SignalCount, inc.ConfidenceScore, inc.Severity); severityOfStatus(next) > severityOfStatus(inc.Status) {
			inc.Status = next
		}
	}
	inc.UpdatedAt = time.Now()

	if err := e.store.UpdateIncident(ctx, inc); err != nil {
		return fmt.Errorf("update incident %s: %w", targetID, err)
	}

	if err := e.reasoner.BindSession(ctx, result.SessionID, inc.ID); err != nil {
		L.Warn(ctx, "failed to bind session traces", "error", err.Error(), "incident_id", inc.ID)
	}
	if inc.Status != prev {
		e.recordLifecycle(ctx, L, inc.ID, prev, inc.Status, result.Decision.Reason)
	}
	e.notify(ctx, L, inc, agent.DecisionMerge)

	L.Info(ctx, "signals merged into incident",
		"incident_id", inc.ID,
		"status", string(inc.Status),
		"confidence", inc.ConfidenceScore,
		"signals_added", len(b.Signals),
	)
	return nil
}

func (e *Engine) resolveCity(ctx context.Context, lat, lng float64) string {
	if e.geocoder == nil {
		return "Unknown City"
	}
	city, err := e.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil || city == "" {
		e.logger.Warn(ctx, "reverse geocoding failed, using placeholder",
			"lat", lat, "lng", lng)
		return "Unknown City"
	}
	return city
}

func (e *Engine) recordLifecycle(ctx context.Context, L log.Logger, incidentID string, from, to incident.Status, reason string) {
	ev := &incident.LifecycleEvent{
		IncidentID: incidentID,
		From:       from,
		To:         to,
		Reason:     reason,
		At:         time.Now(),
	}
	if err := e.store.AppendLifecycle(ctx, ev); err != nil {
		L.Warn(ctx, "failed to append lifecycle event", "error", err.Error(), "incident_id", incidentID)
	}
}

func (e *Engine) notify(ctx context.Context, L log.Logger, inc *incident.Incident, decision agent.Decision) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyIncident(ctx, inc, decision); err != nil {
		if e.hooks.OnNotifyError != nil {
			e.hooks.OnNotifyError()
		}
		L.Warn(ctx, "incident notification failed", "error", err.Error(), "incident_id", inc.ID)
	}
}

func signalIDs(signals []signal.Signal) []string {
	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.ID
	}
	return ids
}

func severityRank(s incident.Severity) int {
	switch s {
	case incident.SeverityHigh:
		return 3
	case incident.SeverityMedium:
		return 2
	case incident.SeverityLow:
		return 1
	default:
		return 0
	}
}

func severityOfStatus(s incident.Status) int {
	switch s {
	case incident.StatusConfirm:
		return 3
	case incident.StatusAlert:
		return 2
	case incident.StatusMonitor:
		return 1
	default:
		return 0
	}
}
