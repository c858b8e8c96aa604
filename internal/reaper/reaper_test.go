package reaper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hkuds/shellbox/internal/session"
)

// countingSweeper counts calls and can fail or panic on chosen calls.
type countingSweeper struct {
	calls   atomic.Int32
	panicOn int32
	failOn  int32
	block   chan struct{}
}

func (s *countingSweeper) ReapExpired(ctx context.Context) (session.ReapReport, error) {
	n := s.calls.Add(1)
	if n == s.panicOn {
		panic("store exploded")
	}
	if n == s.failOn {
		return session.ReapReport{}, errors.New("store unavailable")
	}
	if s.block != nil {
		<-s.block
	}
	return session.ReapReport{Expired: 1, Reclaimed: 1}, nil
}

func waitForCalls(t *testing.T, s *countingSweeper, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper called %d times, want at least %d", s.calls.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReaperSweepsOnInterval(t *testing.T) {
	s := &countingSweeper{}
	r := New(s, WithInterval(5*time.Millisecond))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCalls(t, s, 3)
	r.Stop()

	after := s.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if s.calls.Load() != after {
		t.Errorf("sweeper called after Stop: %d -> %d", after, s.calls.Load())
	}
}

func TestReaperSurvivesPanicAndError(t *testing.T) {
	s := &countingSweeper{panicOn: 1, failOn: 2}
	r := New(s, WithInterval(5*time.Millisecond))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	waitForCalls(t, s, 4)
}

func TestReaperStartTwice(t *testing.T) {
	r := New(&countingSweeper{}, WithInterval(time.Hour))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestReaperStopWaitsForSweep(t *testing.T) {
	s := &countingSweeper{block: make(chan struct{})}
	r := New(s, WithInterval(time.Hour))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCalls(t, s, 1)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sweep was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(s.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
}

func TestReaperStopWithoutStart(t *testing.T) {
	r := New(&countingSweeper{})
	r.Stop()
}

func TestSweepOnceRecoversPanic(t *testing.T) {
	r := New(&countingSweeper{panicOn: 1})

	_, err := r.SweepOnce(context.Background())
	if err == nil {
		t.Fatal("expected error from panicking sweep")
	}

	report, err := r.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if report.Reclaimed != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestReaperStopsWithContext(t *testing.T) {
	s := &countingSweeper{}
	r := New(s, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCalls(t, s, 1)
	cancel()

	// Stop still returns once the loop has exited on its own.
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop hung after context cancellation")
	}
}
