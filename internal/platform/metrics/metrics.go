package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kairos"

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	ResolverTier      *prometheus.CounterVec
	OracleCalls       *prometheus.CounterVec
	OracleLatency     prometheus.Histogram
	SessionsActive    prometheus.Gauge
	SessionTransition *prometheus.CounterVec
	Classifications   *prometheus.CounterVec
	RetrainRuns       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ResolverTier: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_tier_total",
			Help:      "Diagnosis bundles produced, by resolution tier",
		}, []string{"tier"}),
		OracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls, by outcome",
		}, []string{"outcome"}),
		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Oracle call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Consultation sessions held by the registry",
		}),
		SessionTransition: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions, by target state",
		}, []string{"state"}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Utterances classified, by source (model or rules)",
		}, []string{"source"}),
		RetrainRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_runs_total",
			Help:      "Learning loop retrain attempts, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveTier(tier string) {
	if m == nil {
		return
	}
	m.ResolverTier.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveOracle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.OracleCalls.WithLabelValues(outcome).Inc()
	m.OracleLatency.Observe(took.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransition.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveClassification(source string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRetrain(outcome string) {
	if m == nil {
		return
	}
	m.RetrainRuns.WithLabelValues(outcome).Inc()
}
