// Package session keeps the registry of owner sessions: which owner holds
// which sandbox, until when, and how the binding ended.
package session

import (
	"errors"
	"time"
)

var (
	// ErrConflict is returned when an owner already holds an active session.
	ErrConflict = errors.New("owner already has an active session")

	// ErrNotFound is returned when no active session matches the request.
	ErrNotFound = errors.New("no active session")
)

// Status is the lifecycle state of a session record.
type Status string

const (
	StatusActive    Status = "active"
	StatusReclaimed Status = "reclaimed"
)

// ReclaimReason records what ended a session.
type ReclaimReason string

const (
	ReasonOwner   ReclaimReason = "owner"
	ReasonAdmin   ReclaimReason = "admin"
	ReasonExpired ReclaimReason = "expired"
	ReasonPurge   ReclaimReason = "purge"
)

// Session binds one owner to one sandbox for a bounded lifetime. A record
// moves from active to reclaimed once and never back; a new session is a
// new record.
type Session struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	SandboxID     string        `json:"sandboxId"`
	SandboxName   string        `json:"sandboxName"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	ReclaimedAt   time.Time     `json:"reclaimedAt,omitzero"`
	ReclaimReason ReclaimReason `json:"reclaimReason,omitempty"`
}

// Active reports whether the record has not been reclaimed yet.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// Expired reports whether the session lifetime is over at now. A session
// expires at ExpiresAt exactly.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Remaining returns the lifetime left at now, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// reclaim applies the active to reclaimed transition to a copy held by a store.
func (s *Session) reclaim(at time.Time, reason ReclaimReason) {
	s.Status = StatusReclaimed
	s.ReclaimedAt = at
	s.ReclaimReason = reason
}
