package api

import (
	"context"
	"time"
)

// SessionStore abstracts refresh-session CRUD so that sessions can be kept
// in memory (default) or in a storage.Repository.
type SessionStore interface {
	// Get retrieves the session behind a refresh token. Returns false if the
	// session does not exist or has expired.
	Get(ctx context.Context, token string) (RefreshSession, bool)
	// Put creates or updates the session for the given token.
	Put(ctx context.Context, token string, session RefreshSession) error
	// Touch records a use of an existing, unexpired session and returns the
	// updated session. It never recreates a session that was deleted, so a
	// concurrent Delete or DeleteAll always wins.
	Touch(ctx context.Context, token string, lastUsed time.Time) (RefreshSession, bool, error)
	// Delete removes the session for a token. Deleting a missing session
	// is not an error.
	Delete(ctx context.Context, token string) error
	// DeleteAll removes every session.
	DeleteAll(ctx context.Context) error
}

// clockSetter is implemented by stores that judge expiry against a clock
// the API can replace.
type clockSetter interface {
	setClock(now func() time.Time)
}

// RefreshSession is the server-side state behind one refresh token.
type RefreshSession struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	CSRFToken  string    `json:"csrf_token"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

func (s RefreshSession) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
