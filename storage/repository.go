// Package storage provides the persistence abstraction for sealed session records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist or has expired.
	ErrNotFound = errors.New("record not found")
	// ErrScopeNotFound is returned when an entire scope has never been written.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrCASFailed is returned when Update lost to concurrent writers too
	// many times in a row.
	ErrCASFailed = errors.New("compare-and-swap failed")
)

// UpdateFunc receives the current envelope of a record and returns its
// replacement. Returning an error aborts the update. It may run more than
// once when a backend retries after a conflict.
type UpdateFunc func(current *Envelope) (*Envelope, error)

// Repository defines the interface for sealed record storage. Records are
// addressed by a scope (one per session) and a key within that scope.
type Repository interface {
	Put(ctx context.Context, scope string, key string, envelope *Envelope) error
	Get(ctx context.Context, scope string, key string) (*Envelope, error)
	Delete(ctx context.Context, scope string, key string) error
	// Update atomically replaces an existing, unexpired record. A missing
	// record yields ErrNotFound and fn is not called.
	Update(ctx context.Context, scope string, key string, fn UpdateFunc) error
	List(ctx context.Context, scope string) ([]string, error)
	Close() error
}

// IsNotFound reports whether err means the record or its scope is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrScopeNotFound)
}
