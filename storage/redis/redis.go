// Package redis provides a Redis-backed storage repository for deployments
// where several processes share the same session records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/bearer/storage"
)

const (
	defaultPrefix = "bearer"
	// maxUpdateAttempts bounds optimistic retries in Update.
	maxUpdateAttempts = 8
)

// Store implements storage.Repository on top of a Redis client. Envelopes
// with an ExpiresAt are written with a matching TTL so Redis drops them when
// the session scope ends.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Defaults to "bearer".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewRepository returns a Repository using the given Redis client.
func NewRepository(rdb goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRepositoryFromAddr connects to a single Redis node and verifies it responds.
func NewRepositoryFromAddr(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRepository(rdb, opts...), nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) scopePrefix(scope string) string {
	return s.prefix + ":" + scope + ":"
}

func (s *Store) recordKey(scope, key string) string {
	return s.scopePrefix(scope) + key
}

func (s *Store) Put(ctx context.Context, scope, key string, envelope *storage.Envelope) error {
	var ttl time.Duration
	if !envelope.ExpiresAt.IsZero() {
		ttl = envelope.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.rdb.Del(ctx, s.recordKey(scope, key)).Err()
		}
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.recordKey(scope, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, scope, key string) (*storage.Envelope, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(scope, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", scope, key, err)
	}
	var envelope storage.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", scope, key, err)
	}
	if envelope.Expired(s.now()) {
		return nil, fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	return &envelope, nil
}

// Update reads, modifies and writes a record inside a WATCH transaction and
// retries when another client touches the key in between.
func (s *Store) Update(ctx context.Context, scope, key string, fn storage.UpdateFunc) error {
	rk := s.recordKey(scope, key)
	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, rk).Bytes()
		if errors.Is(err, goredis.Nil) {
			return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("redis get %s/%s: %w", scope, key, err)
		}
		var current storage.Envelope
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("decoding %s/%s: %w", scope, key, err)
		}
		if current.Expired(s.now()) {
			return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
		}
		next, err := fn(&current)
		if err != nil {
			return err
		}
		var ttl time.Duration
		if !next.ExpiresAt.IsZero() {
			ttl = next.ExpiresAt.Sub(s.now())
			if ttl <= 0 {
				_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
					pipe.Del(ctx, rk)
					return nil
				})
				return err
			}
		}
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, rk, out, ttl)
			return nil
		})
		return err
	}
	for range maxUpdateAttempts {
		err := s.rdb.Watch(ctx, txf, rk)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s/%s: %w", scope, key, storage.ErrCASFailed)
}

func (s *Store) Delete(ctx context.Context, scope, key string) error {
	n, err := s.rdb.Del(ctx, s.recordKey(scope, key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s/%s: %w", scope, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", scope, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, scope string) ([]string, error) {
	prefix := s.scopePrefix(scope)
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", scope, err)
	}
	return keys, nil
}
