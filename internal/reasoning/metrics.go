package reasoning

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the reasoning subsystem.
type Metrics struct {
	SessionsTotal  *prometheus.CounterVec
	SessionTime    *prometheus.HistogramVec
	StageTime      *prometheus.HistogramVec
	DecisionsTotal *prometheus.CounterVec
	CacheTotal     *prometheus.CounterVec
	LLMTokensIn    prometheus.Counter
	LLMTokensOut   prometheus.Counter
}

// NewMetrics registers and returns reasoning metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_reasoning_sessions_total",
			Help: "Total reasoning sessions by outcome.",
		}, []string{"outcome"}),
		SessionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_reasoning_session_duration_seconds",
			Help:    "Duration of full reasoning sessions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"outcome"}),
		StageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_reasoning_stage_duration_seconds",
			Help:    "Duration of individual agent stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. ~64s
		}, []string{"stage"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_reasoning_decisions_total",
			Help: "Total action decisions by kind.",
		}, []string{"decision"}),
		CacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_reasoning_cache_total",
			Help: "Reasoning cache lookups by result.",
		}, []string{"result"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.SessionTime,
		m.StageTime,
		m.DecisionsTotal,
		m.CacheTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
	)

	return m
}

// Hooks returns a PipelineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() PipelineHooks {
	return PipelineHooks{
		OnStage: func(stage string, duration float64) {
			m.StageTime.WithLabelValues(stage).Observe(duration)
		},
		OnLLMCall: func(inputTokens, outputTokens int) {
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
		},
		OnCache: func(hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			m.CacheTotal.WithLabelValues(result).Inc()
		},
		OnSession: func(outcome string, duration float64) {
			m.SessionsTotal.WithLabelValues(outcome).Inc()
			m.SessionTime.WithLabelValues(outcome).Observe(duration)
		},
		OnDecision: func(decision string) {
			m.DecisionsTotal.WithLabelValues(decision).Inc()
		},
	}
}

// PipelineHooks carries optional observation callbacks into the pipeline.
// Nil fields are skipped.
type PipelineHooks struct {
	OnStage    func(stage string, duration float64)
	OnLLMCall  func(inputTokens, outputTokens int)
	OnCache    func(hit bool)
	OnSession  func(outcome string, duration float64)
	OnDecision func(decision string)
}
