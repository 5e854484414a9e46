package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	icrypto "github.com/jmcleod/bearer/internal/crypto"
	"github.com/jmcleod/bearer/internal/util"
	"github.com/jmcleod/bearer/storage"
)

const (
	sessionScope      = "devserver:refresh_sessions"
	sessionRecordVer  = 1
	sessionWrapKeyLen = 32
)

// PersistentSessionStore stores refresh sessions in a storage.Repository,
// encrypted at rest using AES-256-GCM. Sessions survive server restarts.
//
// Records are keyed by the SHA-256 of the refresh token, so the repository
// never sees a usable token, and carry the session expiry so that backends
// with native TTLs drop them on their own.
type PersistentSessionStore struct {
	repo   storage.Repository
	key    []byte
	logger zerolog.Logger
	now    func() time.Time
}

var (
	errSessionUnreadable = errors.New("refresh session record unreadable")
	errSessionExpired    = errors.New("refresh session expired")
)

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore creates a session store backed by the given
// repository. The 32-byte wrappingKey is supplied externally and never
// stored in the repository.
func NewPersistentSessionStore(repo storage.Repository, wrappingKey []byte, logger zerolog.Logger) (*PersistentSessionStore, error) {
	if len(wrappingKey) != sessionWrapKeyLen {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", sessionWrapKeyLen, len(wrappingKey))
	}
	key, err := icrypto.DeriveRecordKey(wrappingKey, sessionScope)
	if err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return &PersistentSessionStore{
		repo:   repo,
		key:    key,
		logger: logger.With().Str("component", "session_store").Logger(),
		now:    time.Now,
	}, nil
}

func (s *PersistentSessionStore) setClock(now func() time.Time) {
	s.now = now
}

// Close wipes key material. The repository is owned by the caller.
func (s *PersistentSessionStore) Close() {
	util.WipeBytes(s.key)
}

func recordID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *PersistentSessionStore) aad(id string) []byte {
	return icrypto.AADSessionRecord(sessionScope, id, sessionRecordVer)
}

func (s *PersistentSessionStore) Get(ctx context.Context, token string) (RefreshSession, bool) {
	id := recordID(token)
	env, err := s.repo.Get(ctx, sessionScope, id)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Error().Err(err).Msg("reading refresh session")
		}
		return RefreshSession{}, false
	}
	session, err := s.open(id, env)
	if err != nil {
		// Corrupt entry or a changed wrapping key: remove it.
		_ = s.repo.Delete(ctx, sessionScope, id)
		return RefreshSession{}, false
	}
	if session.expired(s.now()) {
		_ = s.Delete(ctx, token)
		return RefreshSession{}, false
	}
	return session, true
}

func (s *PersistentSessionStore) Put(ctx context.Context, token string, session RefreshSession) error {
	id := recordID(token)
	env, err := s.seal(id, session)
	if err != nil {
		return err
	}
	return s.repo.Put(ctx, sessionScope, id, env)
}

// Touch rewrites the record through Repository.Update, so a record removed
// by Delete or DeleteAll stays removed.
func (s *PersistentSessionStore) Touch(ctx context.Context, token string, lastUsed time.Time) (RefreshSession, bool, error) {
	id := recordID(token)
	var touched RefreshSession
	err := s.repo.Update(ctx, sessionScope, id, func(current *storage.Envelope) (*storage.Envelope, error) {
		session, err := s.open(id, current)
		if err != nil {
			return nil, errSessionUnreadable
		}
		if session.expired(s.now()) {
			return nil, errSessionExpired
		}
		session.LastUsedAt = lastUsed
		touched = session
		return s.seal(id, session)
	})
	switch {
	case err == nil:
		return touched, true, nil
	case storage.IsNotFound(err):
		return RefreshSession{}, false, nil
	case errors.Is(err, errSessionUnreadable), errors.Is(err, errSessionExpired):
		_ = s.repo.Delete(ctx, sessionScope, id)
		return RefreshSession{}, false, nil
	default:
		return RefreshSession{}, false, fmt.Errorf("touching refresh session: %w", err)
	}
}

func (s *PersistentSessionStore) open(id string, env *storage.Envelope) (RefreshSession, error) {
	data, err := storage.OpenRecord(s.key, env, s.aad(id))
	if err != nil {
		return RefreshSession{}, err
	}
	defer util.WipeBytes(data)

	var session RefreshSession
	if err := json.Unmarshal(data, &session); err != nil {
		return RefreshSession{}, err
	}
	return session, nil
}

func (s *PersistentSessionStore) seal(id string, session RefreshSession) (*storage.Envelope, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)

	env, err := storage.SealRecord(s.key, data, s.aad(id))
	if err != nil {
		return nil, fmt.Errorf("sealing refresh session: %w", err)
	}
	env.ExpiresAt = session.ExpiresAt
	return env, nil
}

func (s *PersistentSessionStore) Delete(ctx context.Context, token string) error {
	err := s.repo.Delete(ctx, sessionScope, recordID(token))
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}

func (s *PersistentSessionStore) DeleteAll(ctx context.Context) error {
	ids, err := s.repo.List(ctx, sessionScope)
	if storage.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.repo.Delete(ctx, sessionScope, id); err != nil && !storage.IsNotFound(err) {
			return err
		}
	}
	return nil
}
