package cluster

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the clustering engine.
type Metrics struct {
	PassTime       prometheus.Histogram
	BucketsPerPass prometheus.Histogram
	BucketsTotal   *prometheus.CounterVec
	NotifyFailures prometheus.Counter
}

// NewMetrics registers and returns clustering metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_cluster_pass_duration_seconds",
			Help:    "Duration of full clustering passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		BucketsPerPass: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_cluster_buckets_per_pass",
			Help:    "Surviving buckets formed per clustering pass.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
		BucketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_cluster_buckets_total",
			Help: "Total buckets processed by outcome.",
		}, []string{"outcome"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_cluster_notify_failures_total",
			Help: "Total failed incident notifications.",
		}),
	}

	reg.MustRegister(
		m.PassTime,
		m.BucketsPerPass,
		m.BucketsTotal,
		m.NotifyFailures,
	)

	return m
}

// Hooks returns engine hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnPass: func(duration float64, buckets int) {
			m.PassTime.Observe(duration)
			m.BucketsPerPass.Observe(float64(buckets))
		},
		OnBucket: func(outcome string) {
			m.BucketsTotal.WithLabelValues(outcome).Inc()
		},
		OnNotifyError: func() {
			m.NotifyFailures.Inc()
		},
	}
}

// Hooks carries optional observation callbacks into the engine. Nil fields
// are skipped.
type Hooks struct {
	OnPass        func(duration float64, buckets int)
	OnBucket      func(outcome string)
	OnNotifyError func()
}
