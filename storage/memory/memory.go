// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/bearer/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Records live as long as the process, which makes it the session-scoped
// store for a single running client.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
	now  func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		data: make(map[string]map[string]*storage.Envelope),
		now:  time.Now,
	}
}

func (r *Repository) Put(_ context.Context, scope, key string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[scope]; !ok {
		r.data[scope] = make(map[string]*storage.Envelope)
	}
	r.data[scope][key] = envelope.Clone()
	return nil
}

func (r *Repository) Get(_ context.Context, scope, key string) (*storage.Envelope, error) {
	r.mu.RLock()
	scopeData, ok := r.data[scope]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%s: %w", scope, storage.ErrScopeNotFound)
	}
	env, ok := scopeData[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	if env.Expired(r.now()) {
		r.mu.Lock()
		// A Put may have replaced the record since the read lock was released.
		if cur, ok := r.data[scope][key]; ok && cur.Expired(r.now()) {
			delete(r.data[scope], key)
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	return env.Clone(), nil
}

func (r *Repository) Update(_ context.Context, scope, key string, fn storage.UpdateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.data[scope][key]
	if !ok {
		return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	if env.Expired(r.now()) {
		delete(r.data[scope], key)
		return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	next, err := fn(env.Clone())
	if err != nil {
		return err
	}
	r.data[scope][key] = next.Clone()
	return nil
}

func (r *Repository) Delete(_ context.Context, scope, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scopeData, ok := r.data[scope]
	if !ok {
		return fmt.Errorf("%s: %w", scope, storage.ErrScopeNotFound)
	}
	if _, ok := scopeData[key]; !ok {
		return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	delete(scopeData, key)
	return nil
}

func (r *Repository) List(_ context.Context, scope string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var keys []string
	for k, env := range r.data[scope] {
		if env.Expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Close is a no-op; it exists to satisfy storage.Repository.
func (r *Repository) Close() error {
	return nil
}
