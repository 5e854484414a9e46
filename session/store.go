// Package session holds the client-side credentials of one signed-in user
// and answers whether a protected view is worth attempting.
//
// The access token is kept only in memory. The refresh token is kept in
// memory and, when persistence is configured, sealed into a single record of
// a storage.Repository so the session can be resumed by a later process.
// Both values are held in memguard enclaves between uses.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jmcleod/bearer/storage"
)

// TokenStore is the single source of truth for the current credentials.
// It is safe for concurrent use.
type TokenStore struct {
	// writeMu orders Set, Clear and LoadPersisted so that memory and the
	// persisted record always change in the same sequence.
	writeMu sync.Mutex

	mu      sync.RWMutex
	access  *memguard.Enclave
	refresh *memguard.Enclave
	epoch   uint64

	persist   *persistence
	logger    zerolog.Logger
	listeners []StateListener
}

var _ oauth2.TokenSource = (*TokenStore)(nil)

// Option configures a TokenStore.
type Option func(*storeOptions)

type storeOptions struct {
	repo      storage.Repository
	name      string
	secret    []byte
	ttl       time.Duration
	logger    zerolog.Logger
	listeners []StateListener
}

// WithPersistence persists the refresh token for the named session in repo.
// secret seeds the record encryption key; when empty a random key is used,
// so records are only readable by this process.
func WithPersistence(repo storage.Repository, name string, secret []byte) Option {
	return func(o *storeOptions) {
		o.repo = repo
		o.name = name
		o.secret = secret
	}
}

// WithSessionTTL bounds how long a persisted refresh token survives without
// being rewritten. Zero keeps it until Clear.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithStateListener registers fn to be called after every state transition.
func WithStateListener(fn StateListener) Option {
	return func(o *storeOptions) {
		o.listeners = append(o.listeners, fn)
	}
}

// NewTokenStore creates an empty store. Call LoadPersisted once at startup
// to resume a persisted session.
func NewTokenStore(opts ...Option) (*TokenStore, error) {
	o := storeOptions{name: "default", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &TokenStore{
		logger:    o.logger.With().Str("component", "token_store").Logger(),
		listeners: o.listeners,
	}
	if o.repo != nil {
		p, err := newPersistence(o.repo, o.name, o.secret, o.ttl)
		if err != nil {
			return nil, err
		}
		p.logger = s.logger
		s.persist = p
	}
	return s, nil
}

// Set stores a freshly issued token pair, starting a new session epoch.
// The refresh token is also persisted; a persistence error is returned but
// the in-memory credentials are kept.
func (s *TokenStore) Set(ctx context.Context, access, refresh string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	from := s.stateLocked()
	s.access = seal(access)
	s.refresh = seal(refresh)
	s.epoch++
	epoch := s.epoch
	to := s.stateLocked()
	s.mu.Unlock()

	s.logger.Debug().Uint64("epoch", epoch).Msg("credentials set")
	s.notify(from, to)

	if s.persist == nil {
		return nil
	}
	if refresh == "" {
		return s.persist.remove(ctx)
	}
	return s.persist.save(ctx, refresh)
}

// RenewAccessToken replaces the access token after a successful refresh.
// It applies only while the session that requested the refresh (identified
// by epoch) is still current and still holds a refresh token, so a refresh
// that settles after logout cannot revive the session.
func (s *TokenStore) RenewAccessToken(epoch uint64, access string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.refresh == nil {
		s.logger.Debug().Uint64("epoch", epoch).Uint64("current_epoch", s.epoch).Msg("discarding renewed access token for stale session")
		return false
	}
	s.access = seal(access)
	return true
}

// LoadPersisted reads a persisted refresh token into memory. It performs no
// network I/O and a loaded token may still turn out to be expired or
// revoked on first use. A missing record is not an error.
func (s *TokenStore) LoadPersisted(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	token, err := s.persist.load(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		s.logger.Debug().Msg("no persisted refresh token")
		return nil
	}

	s.mu.Lock()
	from := s.stateLocked()
	s.refresh = seal(token)
	s.epoch++
	epoch := s.epoch
	to := s.stateLocked()
	s.mu.Unlock()

	s.logger.Debug().Uint64("epoch", epoch).Msg("resumed persisted session")
	s.notify(from, to)
	return nil
}

// Clear drops both tokens from memory and deletes the persisted refresh
// token. Clearing an empty store is a no-op.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clearLocked(ctx)
}

// EndSession clears the store only if epoch still identifies the current
// session. It reports whether the session was ended by this call or was
// already gone; false means a newer session has replaced it.
func (s *TokenStore) EndSession(ctx context.Context, epoch uint64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Epoch() != epoch {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

func (s *TokenStore) clearLocked(ctx context.Context) error {
	s.mu.Lock()
	from := s.stateLocked()
	s.access = nil
	s.refresh = nil
	s.mu.Unlock()

	if from == Active {
		s.logger.Debug().Msg("credentials cleared")
		s.notify(from, Anonymous)
	}

	if s.persist == nil {
		return nil
	}
	return s.persist.remove(ctx)
}

// HasSession reports whether either token is held. It is a weak signal:
// the tokens may already be rejected by the server.
func (s *TokenStore) HasSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked() == Active
}

// State returns the current session state.
func (s *TokenStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// AccessToken returns the current access token, or "" when none is held.
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	e := s.access
	s.mu.RUnlock()
	return reveal(e)
}

// RefreshToken returns the current refresh token, or "" when none is held.
func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	e := s.refresh
	s.mu.RUnlock()
	return reveal(e)
}

// RefreshCredentials returns the refresh token together with the epoch of
// the session it belongs to.
func (s *TokenStore) RefreshCredentials() (string, uint64) {
	s.mu.RLock()
	e, epoch := s.refresh, s.epoch
	s.mu.RUnlock()
	return reveal(e), epoch
}

// Epoch identifies the current session. It changes when a session starts
// (Set or LoadPersisted), not when the access token is renewed.
func (s *TokenStore) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Token implements oauth2.TokenSource over the current access token.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	access := s.AccessToken()
	if access == "" {
		return nil, ErrNoAccessToken
	}
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken(),
	}, nil
}

func (s *TokenStore) stateLocked() State {
	if s.access != nil || s.refresh != nil {
		return Active
	}
	return Anonymous
}

func (s *TokenStore) notify(from, to State) {
	if from == to {
		return
	}
	s.logger.Info().Stringer("from", from).Stringer("to", to).Msg("session state changed")
	for _, fn := range s.listeners {
		fn(from, to)
	}
}

func seal(value string) *memguard.Enclave {
	if value == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(value))
}

func reveal(e *memguard.Enclave) string {
	if e == nil {
		return ""
	}
	buf, err := e.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}
