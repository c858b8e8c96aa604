package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Records do not survive a
// restart.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	active    map[string]string   // owner -> session id
	byOwner   map[string][]string // owner -> session ids, oldest first
	bySandbox map[string]string   // sandbox id -> latest session id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Session),
		active:    make(map[string]string),
		byOwner:   make(map[string][]string),
		bySandbox: make(map[string]string),
	}
}

func (m *MemoryStore) InsertActive(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[s.OwnerID]; ok {
		return ErrConflict
	}

	rec := *s
	rec.Status = StatusActive
	m.byID[rec.ID] = &rec
	m.active[rec.OwnerID] = rec.ID
	m.byOwner[rec.OwnerID] = append(m.byOwner[rec.OwnerID], rec.ID)
	m.bySandbox[rec.SandboxID] = rec.ID
	return nil
}

func (m *MemoryStore) ActiveByOwner(_ context.Context, owner string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[owner]
	if !ok {
		return nil, nil
	}
	rec := *m.byID[id]
	return &rec, nil
}

func (m *MemoryStore) BySandbox(_ context.Context, sandboxID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySandbox[sandboxID]
	if !ok {
		return nil, nil
	}
	rec := *m.byID[id]
	return &rec, nil
}

func (m *MemoryStore) MarkReclaimed(_ context.Context, id string, at time.Time, reason ReclaimReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok || !rec.Active() {
		return false, nil
	}
	rec.reclaim(at, reason)
	delete(m.active, rec.OwnerID)
	return true, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Session, 0, len(m.active))
	for _, id := range m.active {
		result = append(result, *m.byID[id])
	}
	sortByCreated(result)
	return result, nil
}

func (m *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Session
	for _, id := range m.active {
		if rec := m.byID[id]; rec.Expired(now) {
			result = append(result, *rec)
		}
	}
	sortByCreated(result)
	return result, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, owner string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byOwner[owner]
	result := make([]Session, 0, len(ids))
	for _, id := range ids {
		result = append(result, *m.byID[id])
	}
	return result, nil
}

func (m *MemoryStore) DeleteOwner(_ context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byOwner[owner]
	for _, id := range ids {
		rec := m.byID[id]
		if m.bySandbox[rec.SandboxID] == id {
			delete(m.bySandbox, rec.SandboxID)
		}
		delete(m.byID, id)
	}
	delete(m.byOwner, owner)
	delete(m.active, owner)
	return len(ids), nil
}

func (m *MemoryStore) Close() error { return nil }

func sortByCreated(list []Session) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// ownerRecords returns a copy of the owner's records, oldest first.
func (m *MemoryStore) ownerRecords(owner string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byOwner[owner]
	result := make([]Session, 0, len(ids))
	for _, id := range ids {
		result = append(result, *m.byID[id])
	}
	return result
}

// ownerOf returns the owner of record id.
func (m *MemoryStore) ownerOf(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return "", false
	}
	return rec.OwnerID, true
}

// replaceOwner drops the owner's records and indexes recs in their place.
func (m *MemoryStore) replaceOwner(owner string, recs []Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byOwner[owner] {
		rec := m.byID[id]
		if m.bySandbox[rec.SandboxID] == id {
			delete(m.bySandbox, rec.SandboxID)
		}
		delete(m.byID, id)
	}
	delete(m.byOwner, owner)
	delete(m.active, owner)

	for _, r := range recs {
		rec := r
		m.byID[rec.ID] = &rec
		m.byOwner[owner] = append(m.byOwner[owner], rec.ID)
		m.bySandbox[rec.SandboxID] = rec.ID
		if rec.Active() {
			m.active[owner] = rec.ID
		}
	}
}
