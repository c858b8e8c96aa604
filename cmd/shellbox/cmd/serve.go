package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hkuds/shellbox/internal/bus"
	"github.com/hkuds/shellbox/internal/channels"
	"github.com/hkuds/shellbox/internal/logging"
	"github.com/hkuds/shellbox/internal/reaper"
	"github.com/hkuds/shellbox/internal/relay"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox server",
	Long:  "Start the server that connects to configured chat channels, relays commands into sandboxes, and reclaims expired sessions.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.Channels.Telegram.Enabled {
		fmt.Println("No channels configured.")
		fmt.Println("Run 'shellbox setup' to configure Telegram, or 'shellbox shell' for a local session.")
		return nil
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// Sandboxes labeled as ours but unknown to the store are only reported;
	// removal is left to 'shellbox admin reconcile --remove'.
	if orphans, err := a.registry.Reconcile(ctx, false); err != nil {
		log.Warn().Err(err).Msg("failed to check for orphaned sandboxes")
	} else if len(orphans) > 0 {
		log.Warn().Int("count", len(orphans)).Msg("found orphaned sandboxes, run 'shellbox admin reconcile --remove'")
	}

	r := reaper.New(a.registry,
		reaper.WithInterval(cfg.ReapInterval()),
		reaper.WithLogger(log),
		reaper.WithMetrics(a.metrics),
	)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer r.Stop()

	msgBus := bus.NewMessageBus(100)
	msgBus.SetLogger(log)
	defer msgBus.Close()

	go msgBus.DispatchOutbound(ctx)

	var wg sync.WaitGroup

	rl := relay.New(a.registry, relay.WithLogger(log))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rl.Run(ctx, msgBus); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("relay stopped")
		}
	}()

	mgr := channels.NewManager(cfg.Channels, msgBus, log)
	if err := mgr.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize channels: %w", err)
	}
	if err := mgr.StartAll(ctx); err != nil {
		log.Error().Err(err).Msg("some channels failed to start")
	}
	if len(mgr.RunningChannels()) == 0 {
		stop()
		wg.Wait()
		return errors.New("no channel could be started")
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = newMetricsServer(cfg.Metrics.Addr, a)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
		fmt.Printf("Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	}

	for _, name := range mgr.RunningChannels() {
		fmt.Printf("Channel %s: running\n", name)
	}
	fmt.Printf("Session TTL: %s\n", cfg.TTL())
	fmt.Println()
	fmt.Println("Shellbox is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	if err := mgr.StopAll(); err != nil {
		log.Warn().Err(err).Msg("failed to stop channels cleanly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		fmt.Println("Relay shutdown timed out.")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	a.drainSessions(drainCtx)
	fmt.Println("Shellbox stopped.")
	return nil
}

func newMetricsServer(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.engine.Ping(r.Context()); err != nil {
			http.Error(w, "docker unreachable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
