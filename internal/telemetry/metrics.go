package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the worker-pool and gate counters the scheduler and
// retry wrapper publish. This is the "worker-pool metrics" half of the
// retry-driven-by-classifier-and-worker-pool-metrics resolution: both
// halves of the source's conflicting implementations are present, per
// the specification this engine implements.
type Metrics struct {
	ActiveWorkers        prometheus.Gauge
	GateAttempts         *prometheus.CounterVec
	GateDuration         *prometheus.HistogramVec
	RetryCount           *prometheus.CounterVec
	EligibilityDecisions *prometheus.CounterVec
}

// NewMetrics constructs a Metrics registered against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in a long-lived host process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mergepilot",
			Subsystem: "scheduler",
			Name:      "active_workers",
			Help:      "Number of items currently dispatched to scheduler workers.",
		}),
		GateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergepilot",
			Subsystem: "gate",
			Name:      "attempts_total",
			Help:      "Gate attempts by the status of each attempt.",
		}, []string{"status"}),
		GateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mergepilot",
			Subsystem: "gate",
			Name:      "duration_seconds",
			Help:      "Gate attempt wall-clock duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gate"}),
		RetryCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergepilot",
			Subsystem: "gate",
			Name:      "retries_total",
			Help:      "Retry attempts by classification type.",
		}, []string{"classification"}),
		EligibilityDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergepilot",
			Subsystem: "eligibility",
			Name:      "decisions_total",
			Help:      "Merge-eligibility decisions by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.ActiveWorkers, m.GateAttempts, m.GateDuration, m.RetryCount, m.EligibilityDecisions)
	}
	return m
}

// NoopMetrics returns a Metrics instance not registered anywhere, safe
// to use in components/tests that don't care about observability.
func NoopMetrics() *Metrics {
	return NewMetrics(nil)
}
