// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmcleod/bearer/storage"
	"go.etcd.io/bbolt"
)

// Store implements storage.Repository backed by a BBolt database. Each scope
// is a bucket; keys inside the bucket are record keys.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(_ context.Context, scope, key string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *Store) Get(_ context.Context, scope, key string) (*storage.Envelope, error) {
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("%s: %w", scope, storage.ErrScopeNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &envelope)
	})
	if err != nil {
		return nil, err
	}
	if envelope.Expired(s.now()) {
		s.deleteIfExpired(scope, key)
		return nil, fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	return &envelope, nil
}

// deleteIfExpired removes the record only if it is still expired inside the
// write transaction, so a concurrent Put is never lost.
func (s *Store) deleteIfExpired(scope, key string) {
	now := s.now()
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var env storage.Envelope
		if err := json.Unmarshal(data, &env); err != nil || !env.Expired(now) {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) Update(_ context.Context, scope, key string, fn storage.UpdateFunc) error {
	now := s.now()
	missing := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			missing = true
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			missing = true
			return nil
		}
		var env storage.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decoding %s/%s: %w", scope, key, err)
		}
		if env.Expired(now) {
			missing = true
			return b.Delete([]byte(key))
		}
		next, err := fn(&env)
		if err != nil {
			return err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), out)
	})
	if err != nil {
		return err
	}
	if missing {
		return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, scope, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("%s: %w", scope, storage.ErrScopeNotFound)
		}
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) List(_ context.Context, scope string) ([]string, error) {
	var keys []string
	now := s.now()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var env storage.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("decoding %s/%s: %w", scope, k, err)
			}
			if !env.Expired(now) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}
