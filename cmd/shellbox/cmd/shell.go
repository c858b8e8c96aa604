package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hkuds/shellbox/internal/bus"
	"github.com/hkuds/shellbox/internal/channels"
	"github.com/hkuds/shellbox/internal/config"
	"github.com/hkuds/shellbox/internal/logging"
	"github.com/hkuds/shellbox/internal/reaper"
	"github.com/hkuds/shellbox/internal/relay"
	"github.com/hkuds/shellbox/internal/session"
	"github.com/hkuds/shellbox/internal/tui"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive sandbox shell",
	Long: `Open an interactive terminal session. Commands typed here run in your
sandbox; /new, /status and /end manage it, exactly as in chat.`,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The TUI owns the terminal, so logs go to a file.
	logFile, err := openShellLog()
	if err != nil {
		return err
	}
	defer logFile.Close()

	log, err := logging.New(cfg.Log.Level, logging.FormatJSON, logFile)
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

	r := reaper.New(a.registry,
		reaper.WithInterval(cfg.ReapInterval()),
		reaper.WithLogger(log),
		reaper.WithMetrics(a.metrics),
	)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer r.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgBus := bus.NewMessageBus(10)
	msgBus.SetLogger(log)
	defer msgBus.Close()
	go msgBus.DispatchOutbound(runCtx)

	relayDone := make(chan struct{})
	rl := relay.New(a.registry, relay.WithLogger(log))
	go func() {
		defer close(relayDone)
		rl.Run(runCtx, msgBus)
	}()

	username := currentUser()
	cli := channels.NewCLIChannel(msgBus, username, log)
	if err := cli.Start(runCtx); err != nil {
		return err
	}
	defer cli.Stop()

	shellErr := tui.RunShell(runCtx, cli.Exchange)

	cancel()
	select {
	case <-relayDone:
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("relay shutdown timed out")
	}

	if cfg.Store.Driver == config.StoreMemory {
		owner := (&bus.InboundMessage{Channel: cli.Name(), SenderID: username}).OwnerID()
		err := a.registry.TerminateSession(context.WithoutCancel(ctx), owner)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to terminate session on exit")
		}
	}

	return shellErr
}

func openShellLog() (*os.File, error) {
	dir := config.GetConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "shell.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "local"
}
