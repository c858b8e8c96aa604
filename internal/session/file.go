package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	sessionFileExt = ".jsonl"
	lockFileName   = ".lock"
	lockRetryDelay = 10 * time.Millisecond
)

// ownerMetadata is the first line of an owner file.
type ownerMetadata struct {
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileStore keeps one JSONL file per owner under <dataDir>/sessions: a
// metadata line followed by one record per line, oldest first.
//
// The files are the only state. Every call takes an exclusive lock on
// <dataDir>/sessions/.lock and reads what it needs from disk, so several
// processes (a server and the admin commands) can share one directory.
type FileStore struct {
	sessionsDir string
	mu          sync.Mutex
	lock        *flock.Flock
}

// NewFileStore opens the store rooted at dataDir, creating the sessions
// directory if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	sessionsDir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	f := &FileStore{
		sessionsDir: sessionsDir,
		lock:        flock.New(filepath.Join(sessionsDir, lockFileName)),
	}

	// Fail at open rather than on first use when the directory is unreadable.
	if err := f.withLock(context.Background(), func() error {
		_, err := f.readAll()
		return err
	}); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) InsertActive(ctx context.Context, s *Session) error {
	return f.withLock(ctx, func() error {
		idx, err := f.readOwner(s.OwnerID)
		if err != nil {
			return err
		}
		if err := idx.InsertActive(ctx, s); err != nil {
			return err
		}
		return f.save(s.OwnerID, idx.ownerRecords(s.OwnerID))
	})
}

func (f *FileStore) ActiveByOwner(ctx context.Context, owner string) (s *Session, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readOwner(owner)
		if err != nil {
			return err
		}
		s, err = idx.ActiveByOwner(ctx, owner)
		return err
	})
	return s, err
}

func (f *FileStore) BySandbox(ctx context.Context, sandboxID string) (s *Session, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readAll()
		if err != nil {
			return err
		}
		s, err = idx.BySandbox(ctx, sandboxID)
		return err
	})
	return s, err
}

func (f *FileStore) MarkReclaimed(ctx context.Context, id string, at time.Time, reason ReclaimReason) (claimed bool, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readAll()
		if err != nil {
			return err
		}
		owner, ok := idx.ownerOf(id)
		if !ok {
			return nil
		}
		won, err := idx.MarkReclaimed(ctx, id, at, reason)
		if err != nil || !won {
			return err
		}
		if err := f.save(owner, idx.ownerRecords(owner)); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (f *FileStore) ListActive(ctx context.Context) (list []Session, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readAll()
		if err != nil {
			return err
		}
		list, err = idx.ListActive(ctx)
		return err
	})
	return list, err
}

func (f *FileStore) ListExpired(ctx context.Context, now time.Time) (list []Session, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readAll()
		if err != nil {
			return err
		}
		list, err = idx.ListExpired(ctx, now)
		return err
	})
	return list, err
}

func (f *FileStore) ListByOwner(ctx context.Context, owner string) (list []Session, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readOwner(owner)
		if err != nil {
			return err
		}
		list, err = idx.ListByOwner(ctx, owner)
		return err
	})
	return list, err
}

func (f *FileStore) DeleteOwner(ctx context.Context, owner string) (n int, err error) {
	err = f.withLock(ctx, func() error {
		idx, err := f.readOwner(owner)
		if err != nil {
			return err
		}
		if err := os.Remove(f.getFilePath(owner)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete session file: %w", err)
		}
		n = len(idx.ownerRecords(owner))
		return nil
	})
	return n, err
}

func (f *FileStore) Close() error {
	return f.lock.Close()
}

// withLock runs fn while holding the in-process mutex and the directory lock.
func (f *FileStore) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock session store: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock session store: %w", ctx.Err())
	}
	defer f.lock.Unlock()

	return fn()
}

// save rewrites the owner's file. The file is replaced atomically so a
// crash never leaves a half-written owner.
func (f *FileStore) save(owner string, records []Session) error {
	filePath := f.getFilePath(owner)

	tmp, err := os.CreateTemp(f.sessionsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)

	// Write metadata as first line
	if err := enc.Encode(ownerMetadata{Owner: owner, UpdatedAt: time.Now().UTC()}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write session: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// readOwner indexes the owner's file. A missing file is an owner with no
// records.
func (f *FileStore) readOwner(owner string) (*MemoryStore, error) {
	idx := NewMemoryStore()
	stored, records, err := loadOwnerFile(f.getFilePath(owner))
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}
	if stored == owner {
		idx.replaceOwner(owner, records)
	}
	return idx, nil
}

// readAll indexes every owner file in the sessions directory.
func (f *FileStore) readAll() (*MemoryStore, error) {
	entries, err := os.ReadDir(f.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	idx := NewMemoryStore()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionFileExt) {
			continue
		}
		owner, records, err := loadOwnerFile(filepath.Join(f.sessionsDir, entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if owner == "" {
			continue
		}
		idx.replaceOwner(owner, records)
	}
	return idx, nil
}

func loadOwnerFile(filePath string) (string, []Session, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)

	// Read metadata from first line
	if !scanner.Scan() {
		return "", nil, scanner.Err()
	}
	var meta ownerMetadata
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return "", nil, nil
	}

	var records []Session
	for scanner.Scan() {
		var rec Session
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // Skip malformed records
		}
		if rec.OwnerID != meta.Owner {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return meta.Owner, records, nil
}

// getFilePath returns the file path for an owner.
func (f *FileStore) getFilePath(owner string) string {
	return filepath.Join(f.sessionsDir, url.PathEscape(owner)+sessionFileExt)
}
