package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
// Expired entries are dropped lazily on read.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	session   CheckoutSession
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Put(ctx context.Context, sess CheckoutSession, ttl time.Duration) error {
	if sess.ID == "" {
		return ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = memoryEntry{
		session:   sess,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CheckoutSession, error) {
	if id == "" {
		return CheckoutSession{}, ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return CheckoutSession{}, ErrSessionNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.sessions, id)
		return CheckoutSession{}, ErrSessionNotFound
	}
	return entry.session, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
