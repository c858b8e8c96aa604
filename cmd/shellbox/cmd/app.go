package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/config"
	"github.com/hkuds/shellbox/internal/metrics"
	"github.com/hkuds/shellbox/internal/sandbox"
	"github.com/hkuds/shellbox/internal/session"
)

// app holds the components shared by every command that touches sandboxes.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	engine   *sandbox.Engine
	store    session.Store
	registry *session.Registry
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	env, err := cfg.SandboxEnvelope()
	if err != nil {
		return nil, err
	}

	engine, err := sandbox.NewEngine(env, sandbox.WithEngineLogger(log))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := engine.Ping(pingCtx); err != nil {
		engine.Close()
		return nil, fmt.Errorf("docker engine unreachable: %w", err)
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		engine.Close()
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	registry := session.NewRegistry(store, engine,
		session.WithTTL(cfg.TTL()),
		session.WithLogger(log),
		session.WithMetrics(m),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		store:    store,
		registry: registry,
		metrics:  m,
		promReg:  promReg,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (session.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Warn().Msg("memory store: sessions are only known to this process")
		return session.NewMemoryStore(), nil
	case config.StorePostgres:
		return session.NewPostgresStore(ctx, cfg.Store.DSN)
	default:
		return session.NewFileStore(cfg.DataPath())
	}
}

// drainSessions terminates every active session. The memory store forgets
// its records on exit, so sandboxes must not outlive the process.
func (a *app) drainSessions(ctx context.Context) {
	if a.cfg.Store.Driver != config.StoreMemory {
		return
	}
	active, err := a.store.ListActive(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to list sessions for shutdown")
		return
	}
	for _, s := range active {
		if err := a.registry.AdminForceTerminate(ctx, s.SandboxID); err != nil {
			a.log.Warn().Err(err).Str("sandbox", s.SandboxID).Msg("failed to terminate session on shutdown")
		}
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	}
	if err := a.engine.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close docker client")
	}
}
