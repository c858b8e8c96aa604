package session

import (
	"context"
	"time"
)

// Store persists session records. Implementations must make InsertActive and
// MarkReclaimed atomic: at most one active record per owner, and at most one
// caller wins the transition of a given record.
type Store interface {
	// InsertActive persists a new active record, or returns ErrConflict if
	// the owner already has one (expired or not).
	InsertActive(ctx context.Context, s *Session) error

	// ActiveByOwner returns the owner's active record, or nil.
	ActiveByOwner(ctx context.Context, owner string) (*Session, error)

	// BySandbox returns the most recent record bound to sandboxID, or nil.
	BySandbox(ctx context.Context, sandboxID string) (*Session, error)

	// MarkReclaimed moves an active record to reclaimed. It reports false,
	// without error, when the record is unknown or already reclaimed.
	MarkReclaimed(ctx context.Context, id string, at time.Time, reason ReclaimReason) (bool, error)

	// ListActive returns every active record.
	ListActive(ctx context.Context) ([]Session, error)

	// ListExpired returns the active records whose lifetime is over at now.
	ListExpired(ctx context.Context, now time.Time) ([]Session, error)

	// ListByOwner returns all of the owner's records, oldest first.
	ListByOwner(ctx context.Context, owner string) ([]Session, error)

	// DeleteOwner removes all of the owner's records and returns how many
	// were removed.
	DeleteOwner(ctx context.Context, owner string) (int, error)

	Close() error
}
