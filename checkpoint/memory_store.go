package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store. Suitable for development
// and testing. The mutex serializes writes across all sessions, which
// trivially satisfies the per-session write ordering requirement.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	closed      bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]*Checkpoint),
	}
}

// Save persists a checkpoint, replacing any prior one for the session.
func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	stored := *cp
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	// Snapshot the state so later engine mutations don't leak into the
	// stored checkpoint.
	stored.State = cp.State.Clone()
	s.checkpoints[cp.SessionID] = &stored
	return nil
}

// Load returns the checkpoint for a session.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	out := *cp
	out.State = cp.State.Clone()
	return &out, nil
}

// Delete removes a session's checkpoint.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	delete(s.checkpoints, sessionID)
	return nil
}

// Cleanup removes checkpoints older than maxAge. The candidate set is
// snapshotted before deletion and each candidate is re-checked under the
// write lock, so a checkpoint written after the scan started survives.
func (s *MemoryStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	candidates := make(map[string]time.Time)
	for id, cp := range s.checkpoints {
		if cp.CreatedAt.Before(cutoff) {
			candidates[id] = cp.CreatedAt
		}
	}
	s.mu.RUnlock()

	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seenAt := range candidates {
		cp, ok := s.checkpoints[id]
		if !ok || !cp.CreatedAt.Equal(seenAt) {
			// Deleted or overwritten since the scan; leave it alone.
			continue
		}
		delete(s.checkpoints, id)
		removed++
	}
	return removed, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.checkpoints = nil
	return nil
}

// Len returns the number of stored checkpoints. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}
