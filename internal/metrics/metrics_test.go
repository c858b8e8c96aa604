package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionCreated()
	m.SessionReclaimed("owner")
	m.SetActive(3)
	m.ProvisionFailed()
	m.TeardownFailed()
	m.CommandHandled(CommandOK)
	m.SweepDone(0.1)
}

func TestSessionLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionCreated()
	m.SessionCreated()
	m.SessionReclaimed("expired")

	if got := testutil.ToFloat64(m.sessionsCreated); got != 2 {
		t.Errorf("sessions_created_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsReclaimed.WithLabelValues("expired")); got != 1 {
		t.Errorf("sessions_reclaimed_total{reason=expired} = %v, want 1", got)
	}
}

func TestCommandOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CommandHandled(CommandOK)
	m.CommandHandled(CommandOK)
	m.CommandHandled(CommandBlocked)

	tests := []struct {
		outcome string
		want    float64
	}{
		{CommandOK, 2},
		{CommandBlocked, 1},
		{CommandInvalid, 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.commands.WithLabelValues(tt.outcome)); got != tt.want {
			t.Errorf("commands_total{outcome=%s} = %v, want %v", tt.outcome, got, tt.want)
		}
	}
}

func TestRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SessionReclaimed("owner")
	m.CommandHandled(CommandFailed)
	m.SweepDone(0.5)

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	// Vectors only report children that have been touched.
	if count != 8 {
		t.Errorf("gathered %d series, want 8", count)
	}
}
