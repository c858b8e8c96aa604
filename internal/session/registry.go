package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/locks"
	"github.com/hkuds/shellbox/internal/metrics"
	"github.com/hkuds/shellbox/internal/sandbox"
)

// DefaultTTL is the lifetime of a session.
const DefaultTTL = 900 * time.Second

const reconcileGrace = time.Minute

// Engine is the part of the sandbox engine the registry drives.
type Engine interface {
	Provision(ctx context.Context, owner string) (sandbox.Sandbox, error)
	Execute(ctx context.Context, sandboxID, command string) (string, error)
	Terminate(ctx context.Context, sandboxID string) error
	Stats(ctx context.Context, sandboxID string) (*sandbox.Usage, bool)
	ListManaged(ctx context.Context) ([]sandbox.ManagedContainer, error)
}

// OwnerDirectory is told when an owner is purged.
type OwnerDirectory interface {
	DeleteOwner(ctx context.Context, owner string) error
}

// Usage pairs an active session with a resource snapshot of its sandbox.
// Stats is nil when the engine could not report one.
type Usage struct {
	Session Session        `json:"session"`
	Stats   *sandbox.Usage `json:"stats,omitempty"`
}

// ReapReport summarizes one expiry sweep.
type ReapReport struct {
	Expired   int
	Reclaimed int
	Failed    int
}

// Registry owns the session lifecycle: it enforces one active session per
// owner and routes every teardown through a single compare-and-set on the
// store, so a sandbox is torn down at most once.
type Registry struct {
	store      Store
	engine     Engine
	ttl        time.Duration
	now        func() time.Time
	log        zerolog.Logger
	metrics    *metrics.Metrics
	directory  OwnerDirectory
	ownerLocks *locks.Keyed
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = log.With().Str("component", "registry").Logger()
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithOwnerDirectory sets the collaborator told about purged owners.
func WithOwnerDirectory(d OwnerDirectory) Option {
	return func(r *Registry) {
		r.directory = d
	}
}

// NewRegistry creates a registry over store and engine.
func NewRegistry(store Store, engine Engine, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		engine:     engine,
		ttl:        DefaultTTL,
		now:        time.Now,
		log:        zerolog.Nop(),
		ownerLocks: locks.NewKeyed(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the session lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// CreateSession provisions a sandbox for owner and records an active session
// expiring TTL from now. It fails with ErrConflict if the owner already holds
// an unexpired session. An expired session the reaper has not reached yet is
// reclaimed first. Nothing is recorded when provisioning fails.
func (r *Registry) CreateSession(ctx context.Context, owner string) (*Session, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is required", sandbox.ErrValidation)
	}

	unlock := r.ownerLocks.Lock(owner)
	defer unlock()

	existing, err := r.store.ActiveByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if existing != nil {
		if !existing.Expired(r.now()) {
			return nil, ErrConflict
		}
		if _, err := r.reclaim(ctx, *existing, ReasonExpired); err != nil {
			return nil, err
		}
	}

	sb, err := r.engine.Provision(ctx, owner)
	if err != nil {
		r.metrics.ProvisionFailed()
		r.log.Error().Err(err).Str("owner", owner).Msg("provision failed")
		return nil, err
	}

	now := r.now()
	s := &Session{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		SandboxID:   sb.ID,
		SandboxName: sb.Name,
		Status:      StatusActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}

	if err := r.store.InsertActive(ctx, s); err != nil {
		// The new sandbox has no record.
		r.teardown(ctx, sb.ID)
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to record session: %w", err)
	}

	r.metrics.SessionCreated()
	r.log.Info().
		Str("owner", owner).
		Str("session", s.ID).
		Str("sandbox", s.SandboxID).
		Time("expires", s.ExpiresAt).
		Msg("session created")
	return s, nil
}

// GetActiveSession returns the owner's active, unexpired session, or nil.
func (r *Registry) GetActiveSession(ctx context.Context, owner string) (*Session, error) {
	s, err := r.store.ActiveByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if s == nil || s.Expired(r.now()) {
		return nil, nil
	}
	return s, nil
}

// TerminateSession ends the owner's active session. It fails with
// ErrNotFound when there is none, including when a concurrent teardown got
// there first. Engine teardown failures are logged, not returned.
func (r *Registry) TerminateSession(ctx context.Context, owner string) error {
	s, err := r.store.ActiveByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if s == nil {
		return ErrNotFound
	}

	claimed, err := r.reclaim(ctx, *s, ReasonOwner)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrNotFound
	}
	return nil
}

// Execute filters command and runs it in sandboxID, which must be bound to
// the owner's active, unexpired session. A failed command leaves the session
// active.
func (r *Registry) Execute(ctx context.Context, owner, sandboxID, command string) (string, error) {
	cmd, err := sandbox.FilterCommand(command)
	if err != nil {
		if errors.Is(err, sandbox.ErrPolicyViolation) {
			r.metrics.CommandHandled(metrics.CommandBlocked)
			r.log.Warn().Str("owner", owner).Str("sandbox", sandboxID).Err(err).Msg("command blocked")
		} else {
			r.metrics.CommandHandled(metrics.CommandInvalid)
		}
		return "", err
	}

	s, err := r.GetActiveSession(ctx, owner)
	if err != nil {
		return "", err
	}
	if s == nil || s.SandboxID != sandboxID {
		return "", ErrNotFound
	}

	output, err := r.engine.Execute(ctx, sandboxID, cmd)
	if err != nil {
		r.metrics.CommandHandled(metrics.CommandFailed)
		r.log.Warn().Err(err).Str("owner", owner).Str("sandbox", sandboxID).Msg("command failed")
		return output, err
	}

	r.metrics.CommandHandled(metrics.CommandOK)
	return output, nil
}

// AdminForceTerminate ends the active session bound to sandboxID regardless
// of owner.
func (r *Registry) AdminForceTerminate(ctx context.Context, sandboxID string) error {
	s, err := r.store.BySandbox(ctx, sandboxID)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if s == nil || !s.Active() {
		return ErrNotFound
	}

	claimed, err := r.reclaim(ctx, *s, ReasonAdmin)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrNotFound
	}
	return nil
}

// AdminPurgeOwner ends the owner's active session, if any, then deletes all
// of the owner's records and tells the owner directory. It returns the
// number of records deleted.
func (r *Registry) AdminPurgeOwner(ctx context.Context, owner string) (int, error) {
	unlock := r.ownerLocks.Lock(owner)
	defer unlock()

	history, err := r.store.ListByOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range history {
		if !s.Active() {
			continue
		}
		if _, err := r.reclaim(ctx, s, ReasonPurge); err != nil {
			return 0, err
		}
	}

	n, err := r.store.DeleteOwner(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}

	if r.directory != nil {
		if err := r.directory.DeleteOwner(ctx, owner); err != nil {
			return n, fmt.Errorf("failed to delete owner: %w", err)
		}
	}

	r.log.Info().Str("owner", owner).Int("records", n).Msg("owner purged")
	return n, nil
}

// AdminListSessions returns every active session with a usage snapshot of
// its sandbox where one is available.
func (r *Registry) AdminListSessions(ctx context.Context) ([]Usage, error) {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := make([]Usage, 0, len(active))
	for _, s := range active {
		u := Usage{Session: s}
		if stats, ok := r.engine.Stats(ctx, s.SandboxID); ok {
			u.Stats = stats
		}
		result = append(result, u)
	}
	return result, nil
}

// ReapExpired reclaims every active session whose lifetime is over. One
// failing record is logged and skipped; it does not stop the sweep.
func (r *Registry) ReapExpired(ctx context.Context) (ReapReport, error) {
	var report ReapReport

	expired, err := r.store.ListExpired(ctx, r.now())
	if err != nil {
		return report, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	report.Expired = len(expired)

	for _, s := range expired {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		claimed, err := r.reclaim(ctx, s, ReasonExpired)
		if err != nil {
			report.Failed++
			r.log.Error().Err(err).Str("session", s.ID).Str("owner", s.OwnerID).Msg("failed to reclaim expired session")
			continue
		}
		if claimed {
			report.Reclaimed++
		}
	}

	if active, err := r.store.ListActive(ctx); err == nil {
		r.metrics.SetActive(len(active))
	}
	return report, nil
}

// Reconcile finds managed sandboxes that no active session is bound to,
// typically left behind by a failed teardown. Sandboxes younger than
// reconcileGrace are skipped since their record may not be written yet. With
// remove set the orphans are torn down.
func (r *Registry) Reconcile(ctx context.Context, remove bool) ([]sandbox.ManagedContainer, error) {
	managed, err := r.engine.ListManaged(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	bound := make(map[string]bool, len(active))
	for _, s := range active {
		bound[s.SandboxID] = true
	}

	var orphans []sandbox.ManagedContainer
	now := r.now()
	for _, c := range managed {
		if bound[c.ID] || now.Sub(c.Created) < reconcileGrace {
			continue
		}
		orphans = append(orphans, c)
		if remove {
			r.teardown(ctx, c.ID)
		}
	}
	return orphans, nil
}

// reclaim claims the active to reclaimed transition of s and, only if this
// call won it, tears the sandbox down. It reports whether it won.
func (r *Registry) reclaim(ctx context.Context, s Session, reason ReclaimReason) (bool, error) {
	claimed, err := r.store.MarkReclaimed(ctx, s.ID, r.now(), reason)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim session: %w", err)
	}
	if !claimed {
		return false, nil
	}

	r.metrics.SessionReclaimed(string(reason))
	r.log.Info().
		Str("owner", s.OwnerID).
		Str("session", s.ID).
		Str("sandbox", s.SandboxID).
		Str("reason", string(reason)).
		Msg("session reclaimed")

	r.teardown(ctx, s.SandboxID)
	return true, nil
}

// teardown terminates a sandbox best-effort, ignoring cancellation of ctx.
func (r *Registry) teardown(ctx context.Context, sandboxID string) {
	if err := r.engine.Terminate(context.WithoutCancel(ctx), sandboxID); err != nil {
		r.metrics.TeardownFailed()
		r.log.Warn().Err(err).Str("sandbox", sandboxID).Msg("teardown failed, sandbox may be orphaned")
	}
}
