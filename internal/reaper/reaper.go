// Package reaper runs the periodic sweep that reclaims expired sessions.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/metrics"
	"github.com/hkuds/shellbox/internal/session"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 60 * time.Second

// Sweeper reclaims expired sessions. *session.Registry implements it.
type Sweeper interface {
	ReapExpired(ctx context.Context) (session.ReapReport, error)
}

// Reaper calls its Sweeper on a fixed interval, independent of request
// traffic. A failing or panicking sweep is logged and the loop goes on.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Reaper) {
		r.log = log.With().Str("component", "reaper").Logger()
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

// New creates a stopped Reaper.
func New(sweeper Sweeper, opts ...Option) *Reaper {
	r := &Reaper{
		sweeper:  sweeper,
		interval: DefaultInterval,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start sweeps once, then keeps sweeping every interval until ctx is done or
// Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("reaper already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx, r.done)

	r.log.Info().Dur("interval", r.interval).Msg("reaper started")
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info().Msg("reaper stopped")
}

func (r *Reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	report, err := r.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("sweep failed")
		}
		return
	}
	if report.Expired > 0 {
		r.log.Info().
			Int("expired", report.Expired).
			Int("reclaimed", report.Reclaimed).
			Int("failed", report.Failed).
			Msg("sweep done")
	}
}

// SweepOnce runs a single sweep. A panic in the sweeper is returned as an
// error.
func (r *Reaper) SweepOnce(ctx context.Context) (report session.ReapReport, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sweep panicked: %v", p)
		}
		r.metrics.SweepDone(time.Since(start).Seconds())
	}()

	return r.sweeper.ReapExpired(ctx)
}
