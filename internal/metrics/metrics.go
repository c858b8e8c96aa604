// Package metrics defines the Prometheus collectors for sessions, sandboxes
// and commands. Every method is safe to call on a nil *Metrics, so components
// can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shellbox"

// Command outcomes recorded by CommandHandled.
const (
	CommandOK      = "ok"
	CommandInvalid = "invalid"
	CommandBlocked = "blocked"
	CommandFailed  = "failed"
)

// Metrics holds the collectors.
type Metrics struct {
	sessionsCreated   prometheus.Counter
	sessionsReclaimed *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	provisionFailures prometheus.Counter
	teardownFailures  prometheus.Counter
	commands          *prometheus.CounterVec
	sweeps            prometheus.Counter
	sweepDuration     prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created after a successful provision.",
		}),
		sessionsReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reclaimed_total",
			Help:      "Sessions moved to reclaimed, by reason.",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Active sessions, resynced with the store after every sweep.",
		}),
		provisionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_failures_total",
			Help:      "Sandbox provisions rejected by the engine.",
		}),
		teardownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Sandbox teardowns that failed and may have left an orphan.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands received, by outcome.",
		}, []string{"outcome"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweeps_total",
			Help:      "Expiry sweeps run.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.sessionsCreated,
			m.sessionsReclaimed,
			m.sessionsActive,
			m.provisionFailures,
			m.teardownFailures,
			m.commands,
			m.sweeps,
			m.sweepDuration,
		)
	}
	return m
}

// SessionCreated counts a new active session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// SessionReclaimed counts an active session leaving the active state.
func (m *Metrics) SessionReclaimed(reason string) {
	if m == nil {
		return
	}
	m.sessionsReclaimed.WithLabelValues(reason).Inc()
	m.sessionsActive.Dec()
}

// SetActive overwrites the active gauge with the count read from the store.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) ProvisionFailed() {
	if m == nil {
		return
	}
	m.provisionFailures.Inc()
}

func (m *Metrics) TeardownFailed() {
	if m == nil {
		return
	}
	m.teardownFailures.Inc()
}

// CommandHandled counts a command by outcome (CommandOK, CommandBlocked, ...).
func (m *Metrics) CommandHandled(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

// SweepDone records one expiry sweep.
func (m *Metrics) SweepDone(seconds float64) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(seconds)
}
