package api

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]RefreshSession
	now  func() time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		data: make(map[string]RefreshSession),
		now:  time.Now,
	}
}

func (s *MemorySessionStore) setClock(now func() time.Time) {
	s.now = now
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (RefreshSession, bool) {
	s.mu.RLock()
	session, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return RefreshSession{}, false
	}
	if session.expired(s.now()) {
		s.mu.Lock()
		if cur, ok := s.data[token]; ok && cur.expired(s.now()) {
			delete(s.data, token)
		}
		s.mu.Unlock()
		return RefreshSession{}, false
	}
	return session, true
}

func (s *MemorySessionStore) Touch(_ context.Context, token string, lastUsed time.Time) (RefreshSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.data[token]
	if !ok {
		return RefreshSession{}, false, nil
	}
	if session.expired(s.now()) {
		delete(s.data, token)
		return RefreshSession{}, false, nil
	}
	session.LastUsedAt = lastUsed
	s.data[token] = session
	return session, true, nil
}

func (s *MemorySessionStore) Put(_ context.Context, token string, session RefreshSession) error {
	s.mu.Lock()
	s.data[token] = session
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	s.data = make(map[string]RefreshSession)
	s.mu.Unlock()
	return nil
}
