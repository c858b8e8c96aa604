package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// Sandbox identifies a provisioned container.
type Sandbox struct {
	ID   string
	Name string
}

// Engine is the client for the remote container engine. One Engine, and the
// connection it holds, is shared by every caller for the process lifetime.
type Engine struct {
	config Config
	api    containerAPI
	log    zerolog.Logger
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used for best-effort failures.
func WithEngineLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log.With().Str("component", "engine").Logger()
	}
}

// withAPI replaces the engine API, for tests.
func withAPI(api containerAPI) EngineOption {
	return func(e *Engine) {
		e.api = api
	}
}

// withClock replaces the time source used for sandbox names, for tests.
func withClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine validates cfg and connects to the engine at cfg.DockerHost, or
// the host configured through the DOCKER_* environment.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config: cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.api == nil {
		api, err := newDockerAPI(cfg.DockerHost)
		if err != nil {
			return nil, err
		}
		e.api = api
	}

	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Provision creates and starts a sandbox for owner. The sandbox runs the
// configured shell in the foreground on a pseudo-terminal with stdin open, so
// it stays up until terminated. Failures are wrapped in ErrProvision and are
// not retried.
func (e *Engine) Provision(ctx context.Context, owner string) (Sandbox, error) {
	name := e.sandboxName(owner)
	containerCfg, hostCfg := e.buildContainerConfig(owner)

	id, err := e.api.Create(ctx, name, containerCfg, hostCfg)
	if err != nil {
		return Sandbox{}, fmt.Errorf("%w: create %s: %w", ErrProvision, name, err)
	}

	if err := e.api.Start(ctx, id); err != nil {
		// Don't leave a created container behind.
		if rmErr := e.api.Remove(ctx, id); rmErr != nil {
			e.log.Warn().Err(rmErr).Str("sandbox", id).Msg("failed to remove unstartable container")
		}
		return Sandbox{}, fmt.Errorf("%w: start %s: %w", ErrProvision, name, err)
	}

	e.log.Debug().Str("owner", owner).Str("sandbox", id).Str("name", name).Msg("sandbox started")
	return Sandbox{ID: id, Name: name}, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// sandboxName builds a unique container name from the owner and the creation
// time.
func (e *Engine) sandboxName(owner string) string {
	safe := unsafeNameChars.ReplaceAllString(owner, "_")
	return fmt.Sprintf("%s-%s-%d", e.config.NamePrefix, safe, e.now().UnixMilli())
}

// buildContainerConfig creates the container and host configurations.
func (e *Engine) buildContainerConfig(owner string) (*container.Config, *container.HostConfig) {
	containerCfg := &container.Config{
		Image:     e.config.Image,
		Cmd:       []string{e.config.Shell},
		Tty:       true,
		OpenStdin: true,
		Labels: map[string]string{
			ManagedLabel: "true",
			OwnerLabel:   owner,
		},
	}

	memory := e.config.MemoryBytes()
	pids := e.config.MaxProcesses

	hostCfg := &container.HostConfig{
		ReadonlyRootfs: e.config.ReadOnlyRootfs,

		// Drop all capabilities
		CapDrop: []string{"ALL"},

		// Prevent privilege escalation
		SecurityOpt: []string{"no-new-privileges"},

		Resources: container.Resources{
			Memory: memory,
			// Same as memory to disable swap
			MemorySwap: memory,
			NanoCPUs:   e.config.NanoCPUs(),
			PidsLimit:  &pids,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: e.config.MaxOpenFiles, Hard: e.config.MaxOpenFiles},
			},
		},
	}

	if !e.config.NetworkEnabled {
		hostCfg.NetworkMode = "none"
	}

	if e.config.UseGVisor {
		hostCfg.Runtime = "runsc"
	}

	return containerCfg, hostCfg
}

// Execute runs command in the sandbox through the configured shell, waits
// for it to finish and returns its combined stdout and stderr. No timeout is
// applied; the sandbox's resource ceilings bound the command.
func (e *Engine) Execute(ctx context.Context, sandboxID, command string) (string, error) {
	stream, err := e.api.Exec(ctx, sandboxID, []string{e.config.Shell, "-c", command})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExec, err)
	}
	defer stream.Close()

	output, err := Demultiplex(stream)
	if err != nil {
		return output, fmt.Errorf("%w: read output: %w", ErrExec, err)
	}
	return output, nil
}

// Terminate stops then removes the sandbox. A sandbox the engine no longer
// knows is treated as already gone. Other failures are returned wrapped in
// ErrTeardown; callers log them and move on, which can leave an orphaned
// container for out-of-band reconciliation.
func (e *Engine) Terminate(ctx context.Context, sandboxID string) error {
	var errs []error

	timeout := int(e.config.StopTimeout / time.Second)
	if err := e.api.Stop(ctx, sandboxID, timeout); err != nil && !errdefs.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := e.api.Remove(ctx, sandboxID); err != nil && !errdefs.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrTeardown, sandboxID, errors.Join(errs...))
	}
	e.log.Debug().Str("sandbox", sandboxID).Msg("sandbox removed")
	return nil
}

// ListManaged returns every container this engine created that still exists,
// running or not.
func (e *Engine) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	return e.api.ListManaged(ctx)
}

// Ping checks if the engine is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.api.Ping(ctx)
}

// Close releases the engine connection.
func (e *Engine) Close() error {
	if err := e.api.Close(); err != nil {
		return fmt.Errorf("failed to close Docker client: %w", err)
	}
	return nil
}
