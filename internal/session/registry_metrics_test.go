package session

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hkuds/shellbox/internal/metrics"
	"github.com/hkuds/shellbox/internal/sandbox"
)

func TestRegistryRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := &fakeEngine{execStream: stdoutFrame("ok\n")}
	r, store, clock := newTestRegistry(engine, WithMetrics(m))

	s, err := r.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := r.Execute(ctx, "alice", s.SandboxID, "ls"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := r.Execute(ctx, "alice", s.SandboxID, "rm -rf /"); !errors.Is(err, sandbox.ErrPolicyViolation) {
		t.Fatalf("Execute(rm -rf /) error = %v", err)
	}
	if _, err := r.Execute(ctx, "alice", s.SandboxID, ""); !errors.Is(err, sandbox.ErrValidation) {
		t.Fatalf("Execute(empty) error = %v", err)
	}

	want := map[string]float64{
		"shellbox_sessions_created_total": 1,
		"shellbox_sessions_active":        1,
	}
	for name, v := range want {
		if got := gatherValue(t, reg, name); got != v {
			t.Errorf("%s = %v, want %v", name, got, v)
		}
	}

	commands := map[string]float64{
		metrics.CommandOK:      1,
		metrics.CommandBlocked: 1,
		metrics.CommandInvalid: 1,
	}
	for outcome, v := range commands {
		if got := gatherValue(t, reg, "shellbox_commands_total", "outcome", outcome); got != v {
			t.Errorf("commands{outcome=%q} = %v, want %v", outcome, got, v)
		}
	}

	// The gauge follows the store after a sweep, even for sessions this
	// registry did not create.
	other := newRecord("bob", "sb-bob", t0.Add(-DefaultTTL))
	if err := store.InsertActive(ctx, other); err != nil {
		t.Fatal(err)
	}
	clock.Advance(DefaultTTL / 2)
	if _, err := r.ReapExpired(ctx); err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if got := gatherValue(t, reg, "shellbox_sessions_active"); got != 1 {
		t.Errorf("sessions_active after sweep = %v, want 1", got)
	}
}

func TestRegistryCountsProvisionFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine := &fakeEngine{provisionErr: sandbox.ErrProvision}
	r, _, _ := newTestRegistry(engine, WithMetrics(metrics.New(reg)))

	if _, err := r.CreateSession(context.Background(), "alice"); err == nil {
		t.Fatal("CreateSession succeeded")
	}
	if got := gatherValue(t, reg, "shellbox_provision_failures_total"); got != 1 {
		t.Errorf("provision_failures_total = %v, want 1", got)
	}
}

// gatherValue returns the value of the gauge or counter series name whose
// labels include the given name/value pairs.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if !hasLabels(m.GetLabel(), labels) {
				continue
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want []string) bool {
	for i := 0; i+1 < len(want); i += 2 {
		found := false
		for _, lp := range pairs {
			if lp.GetName() == want[i] && lp.GetValue() == want[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
