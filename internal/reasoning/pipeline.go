package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/agent"
	"github.com/linnemanlabs/beacon/internal/diversity"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/reasoning")

// TraceStore is the persistence surface the pipeline needs for audit traces.
type TraceStore interface {
	InsertTrace(ctx context.Context, tr *agent.Trace) error
	BindTraces(ctx context.Context, sessionID, incidentID string) error
}

// LoopResult is the outcome of one reasoning session over a signal cluster.
type LoopResult struct {
	SessionID   string                      `json:"session_id"`
	Conclusion  agent.Conclusion            `json:"conclusion"`
	Decision    agent.ActionResult          `json:"decision"`
	MultiVector diversity.MultiVectorResult `json:"multi_vector"`
	FromCache   bool                        `json:"from_cache"`
}

// Pipeline sequences the five deliberation agents over a signal cluster,
// persists their traces, folds the source-diversity bonus into the final
// confidence, and returns an action decision.
type Pipeline struct {
	provider agent.Provider
	traces   TraceStore
	cache    *Cache
	model    string
	logger   log.Logger
	hooks    PipelineHooks
}

// NewPipeline creates a reasoning pipeline with the given dependencies.
// traces may be nil (audit disabled); cache must not be nil.
func NewPipeline(provider agent.Provider, traces TraceStore, cache *Cache, model string, logger log.Logger, hooks PipelineHooks) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		provider: provider,
		traces:   traces,
		cache:    cache,
		model:    model,
		logger:   logger,
		hooks:    hooks,
	}
}

// Run executes one reasoning session: cache check, then
// Observer -> Classifier -> Skeptic -> Synthesizer -> diversity adjustment
// -> Action. Any stage failure aborts the whole session and propagates; the
// caller defers the cluster to a later pass. incidentID, when non-empty,
// binds the session's traces to an existing incident up front
// (re-evaluation path).
func (p *Pipeline) Run(ctx context.Context, signals []signal.Signal, nearby []incident.Incident, incidentID string) (*LoopResult, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("reasoning: empty signal set")
	}

	start := time.Now()
	city := RepresentativeCity(signals)
	eventType := RepresentativeEventType(signals)

	ctx, span := tracer.Start(ctx, "reasoning.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("beacon.cluster.city", city),
		attribute.String("beacon.cluster.event_type", eventType),
		attribute.Int("beacon.cluster.signals", len(signals)),
	)

	key := CacheKey(city, eventType, signals)
	if cached, ok := p.cache.Get(key); ok {
		if p.hooks.OnCache != nil {
			p.hooks.OnCache(true)
		}
		span.SetAttributes(attribute.Bool("beacon.cache.hit", true))
		cached.FromCache = true
		return cached, nil
	}
	if p.hooks.OnCache != nil {
		p.hooks.OnCache(false)
	}

	sessionID := ulid.Make().String()
	L := p.logger.With("session_id", sessionID, "city", city, "event_type", eventType)
	span.SetAttributes(attribute.String("beacon.session.id", sessionID))

	mv := diversity.Score(diversity.Categorize(signals))

	var obs agent.Observation
	if err := p.stage(ctx, L, agent.Observer(p.model), sessionID, incidentID,
		&agent.ObserverInput{City: city, Signals: signals}, &obs); err != nil {
		return nil, p.fail(span, start, err)
	}

	var cls agent.Classification
	if err := p.stage(ctx, L, agent.Classifier(p.model), sessionID, incidentID, &obs, &cls); err != nil {
		return nil, p.fail(span, start, err)
	}

	var crit agent.Critique
	if err := p.stage(ctx, L, agent.Skeptic(p.model), sessionID, incidentID,
		&agent.SkepticInput{Observation: obs, Classification: cls, Breakdown: &mv.Breakdown}, &crit); err != nil {
		return nil, p.fail(span, start, err)
	}

	var conc agent.Conclusion
	if err := p.stage(ctx, L, agent.Synthesizer(p.model), sessionID, incidentID,
		&agent.SynthesizerInput{Observation: obs, Classification: cls, Critique: crit}, &conc); err != nil {
		return nil, p.fail(span, start, err)
	}

	// Fold source diversity into the confidence the Action stage sees, not
	// just the stored metric.
	raw := conc.ConfidenceScore
	conc.ConfidenceScore = incident.ClampConfidence(raw + mv.DiversityBonus)
	L.Info(ctx, "confidence adjusted",
		"raw", raw,
		"diversity_bonus", mv.DiversityBonus,
		"adjusted", conc.ConfidenceScore,
		"category_count", mv.CategoryCount,
		"has_official", mv.HasOfficialSource,
	)

	var act agent.ActionResult
	if err := p.stage(ctx, L, agent.Action(p.model), sessionID, incidentID,
		&agent.ActionInput{Conclusion: conc, Nearby: nearby}, &act); err != nil {
		return nil, p.fail(span, start, err)
	}

	// The decision policy is deterministic; the agent supplies the reason
	// and a merge-target suggestion, but the policy verdict wins.
	decision, target := ResolveDecision(&conc, nearby)
	if act.Decision != decision {
		L.Warn(ctx, "action agent deviated from policy",
			"agent_decision", act.Decision,
			"policy_decision", decision,
		)
		act.Decision = decision
	}
	if decision == agent.DecisionMerge {
		if !nearbyContains(nearby, act.TargetIncidentID) {
			act.TargetIncidentID = target
		}
	} else {
		act.TargetIncidentID = ""
	}

	if p.hooks.OnDecision != nil {
		p.hooks.OnDecision(string(act.Decision))
	}

	res := &LoopResult{
		SessionID:   sessionID,
		Conclusion:  conc,
		Decision:    act,
		MultiVector: mv,
	}
	p.cache.Put(key, res)

	if p.hooks.OnSession != nil {
		p.hooks.OnSession("complete", time.Since(start).Seconds())
	}
	span.SetAttributes(
		attribute.String("beacon.decision", string(act.Decision)),
		attribute.Float64("beacon.confidence", conc.ConfidenceScore),
	)
	L.Info(ctx, "reasoning session complete",
		"decision", act.Decision,
		"confidence", conc.ConfidenceScore,
		"severity", conc.Severity,
		"duration", time.Since(start).Seconds(),
	)

	return res, nil
}

// BindSession retroactively attaches an incident id to all traces of a
// session. The only post-hoc mutation allowed on traces.
func (p *Pipeline) BindSession(ctx context.Context, sessionID, incidentID string) error {
	if p.traces == nil {
		return nil
	}
	return p.traces.BindTraces(ctx, sessionID, incidentID)
}

// stage executes one agent and persists its trace best-effort.
func (p *Pipeline) stage(ctx context.Context, L log.Logger, def agent.Definition, sessionID, incidentID string, in, out any) error {
	stageStart := time.Now()
	tr, err := agent.Run(ctx, p.provider, def, sessionID, in, out)
	if p.hooks.OnStage != nil {
		p.hooks.OnStage(def.Role, time.Since(stageStart).Seconds())
	}
	if err != nil {
		L.Error(ctx, err, "agent stage failed", "stage", def.Role)
		return fmt.Errorf("stage %s: %w", def.Role, err)
	}
	if p.hooks.OnLLMCall != nil {
		p.hooks.OnLLMCall(tr.Usage.InputTokens, tr.Usage.OutputTokens)
	}
	if incidentID != "" {
		tr.IncidentID = incidentID
	}
	p.persistTrace(ctx, L, tr)
	return nil
}

// persistTrace writes an audit trace without blocking or failing the
// session. Reasoning correctness must not depend on audit durability.
func (p *Pipeline) persistTrace(ctx context.Context, L log.Logger, tr *agent.Trace) {
	if p.traces == nil {
		return
	}
	wctx := context.WithoutCancel(ctx)
	go func() {
		if err := p.traces.InsertTrace(wctx, tr); err != nil {
			L.Warn(wctx, "trace write failed", "step", tr.Step, "error", err)
		}
	}()
}

func (p *Pipeline) fail(span oteltrace.Span, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if p.hooks.OnSession != nil {
		p.hooks.OnSession("failed", time.Since(start).Seconds())
	}
	return err
}

// ResolveDecision applies the action policy to a conclusion:
// benign classification dismisses, confidence under 0.6 waits, otherwise
// merge into the first similar unresolved nearby incident or create.
func ResolveDecision(c *agent.Conclusion, nearby []incident.Incident) (agent.Decision, string) {
	if c.FinalClassification == signal.EventOther || c.FinalClassification == signal.EventNoise {
		return agent.DecisionDismiss, ""
	}
	if c.ConfidenceScore < 0.6 {
		return agent.DecisionWait, ""
	}
	for _, inc := range nearby {
		if inc.Status != incident.StatusResolved && inc.EventType == c.FinalClassification {
			return agent.DecisionMerge, inc.ID
		}
	}
	return agent.DecisionCreate, ""
}

// RepresentativeCity picks the cluster's city: the first non-empty hint.
func RepresentativeCity(signals []signal.Signal) string {
	for _, s := range signals {
		if s.CityHint != "" {
			return s.CityHint
		}
	}
	return "Unknown City"
}

// RepresentativeEventType picks the most common non-noise event type.
func RepresentativeEventType(signals []signal.Signal) string {
	counts := make(map[string]int)
	for _, s := range signals {
		if s.IsNoise() || s.EventType == "" {
			continue
		}
		counts[s.EventType]++
	}
	best, bestN := "unknown", 0
	for et, n := range counts {
		if n > bestN || (n == bestN && et < best) {
			best, bestN = et, n
		}
	}
	return best
}

func nearbyContains(nearby []incident.Incident, id string) bool {
	if id == "" {
		return false
	}
	for _, inc := range nearby {
		if inc.ID == id {
			return true
		}
	}
	return false
}
