// Package relay connects real-time command channels to the session registry.
// Handle is the request/response contract for one command; Run drives the
// chat verbs (/new, /status, /end) from the message bus.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/locks"
	"github.com/hkuds/shellbox/internal/sandbox"
	"github.com/hkuds/shellbox/internal/session"
)

// Sessions is the registry surface the relay uses.
type Sessions interface {
	CreateSession(ctx context.Context, owner string) (*session.Session, error)
	GetActiveSession(ctx context.Context, owner string) (*session.Session, error)
	TerminateSession(ctx context.Context, owner string) error
	Execute(ctx context.Context, owner, sandboxID, command string) (string, error)
}

// Request asks to run Command in SandboxID on behalf of Owner. Owner comes
// from the authenticated connection, never from the client payload.
type Request struct {
	Owner     string `json:"-"`
	SandboxID string `json:"sandboxId"`
	Command   string `json:"command"`
}

// Response carries either the command output or a user-facing error.
type Response struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the response is an error.
func (r Response) Failed() bool {
	return r.Error != ""
}

// Relay serializes commands per sandbox and maps registry errors to text.
type Relay struct {
	sessions     Sessions
	log          zerolog.Logger
	now          func() time.Time
	idle         time.Duration
	sandboxLocks *locks.Keyed

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	workers   sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Relay) {
		r.log = log.With().Str("component", "relay").Logger()
	}
}

// WithClock replaces the time source used in status replies.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

// New creates a relay over sessions.
func New(sessions Sessions, opts ...Option) *Relay {
	r := &Relay{
		sessions:     sessions,
		log:          zerolog.Nop(),
		now:          time.Now,
		idle:         time.Minute,
		sandboxLocks: locks.NewKeyed(),
		mailboxes:    make(map[string]*mailbox),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle runs one command. Commands for the same sandbox run one at a time,
// in arrival order of the lock. Every failure, including a blocked command,
// comes back as Response.Error; the session stays active.
func (r *Relay) Handle(ctx context.Context, req Request) Response {
	unlock := r.sandboxLocks.Lock(req.SandboxID)
	defer unlock()

	output, err := r.sessions.Execute(ctx, req.Owner, req.SandboxID, req.Command)
	if err != nil {
		r.log.Debug().Err(err).Str("owner", req.Owner).Str("sandbox", req.SandboxID).Msg("command rejected")
		return Response{Error: ErrorText(err)}
	}
	return Response{Output: output}
}

// ErrorText maps an error from the registry to the text shown to the owner.
// Internal detail never leaks.
func ErrorText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrConflict):
		return "You already have an active sandbox"
	case errors.Is(err, session.ErrNotFound):
		return "Sandbox not found or not accessible"
	case errors.Is(err, sandbox.ErrPolicyViolation):
		return "Command not allowed for security reasons"
	case errors.Is(err, sandbox.ErrCommandTooLong):
		return "Command is too long"
	case errors.Is(err, sandbox.ErrEmptyCommand):
		return "Command is empty"
	case errors.Is(err, sandbox.ErrValidation):
		return "Invalid request"
	case errors.Is(err, sandbox.ErrProvision):
		return "Failed to create sandbox"
	case errors.Is(err, sandbox.ErrExec):
		return "Command execution failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Request cancelled"
	default:
		return "Internal error"
	}
}
