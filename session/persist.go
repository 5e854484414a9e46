package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	icrypto "github.com/jmcleod/bearer/internal/crypto"
	"github.com/jmcleod/bearer/internal/util"
	"github.com/jmcleod/bearer/storage"
)

const (
	// RefreshTokenKey is the single storage key under which the refresh
	// token is persisted. Nothing else is persisted.
	RefreshTokenKey = "refresh_token"

	envelopeVersion = 1
)

// ScopeFor returns the storage scope used for the named session.
func ScopeFor(name string) string {
	return "session:" + name
}

// persistence seals the refresh token before it reaches the repository.
type persistence struct {
	repo   storage.Repository
	scope  string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func newPersistence(repo storage.Repository, name string, secret []byte, ttl time.Duration) (*persistence, error) {
	scope := ScopeFor(name)
	if len(secret) == 0 {
		// No operator secret: the key lives and dies with the process, which
		// matches the lifetime of an in-memory repository.
		generated, err := util.NewAESKey()
		if err != nil {
			return nil, err
		}
		secret = generated
	}
	key, err := icrypto.DeriveRecordKey(secret, scope)
	if err != nil {
		return nil, fmt.Errorf("deriving session record key: %w", err)
	}
	return &persistence{
		repo:   repo,
		scope:  scope,
		key:    key,
		ttl:    ttl,
		now:    time.Now,
		logger: zerolog.Nop(),
	}, nil
}

func (p *persistence) aad() []byte {
	return icrypto.AADSessionRecord(p.scope, RefreshTokenKey, envelopeVersion)
}

func (p *persistence) save(ctx context.Context, token string) error {
	env, err := storage.SealRecord(p.key, []byte(token), p.aad())
	if err != nil {
		return fmt.Errorf("%w: sealing refresh token: %w", ErrPersist, err)
	}
	if p.ttl > 0 {
		env.ExpiresAt = p.now().Add(p.ttl)
	}
	if err := p.repo.Put(ctx, p.scope, RefreshTokenKey, env); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// load returns the persisted refresh token, or "" when none is stored.
// Records that fail to open are removed and reported as absent.
func (p *persistence) load(ctx context.Context) (string, error) {
	env, err := p.repo.Get(ctx, p.scope, RefreshTokenKey)
	if storage.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersist, err)
	}
	data, err := storage.OpenRecord(p.key, env, p.aad())
	if err != nil {
		p.logger.Warn().Err(err).Str("scope", p.scope).Msg("discarding unreadable persisted refresh token")
		if delErr := p.repo.Delete(ctx, p.scope, RefreshTokenKey); delErr != nil && !storage.IsNotFound(delErr) {
			return "", fmt.Errorf("%w: %w", ErrPersist, delErr)
		}
		return "", nil
	}
	defer util.WipeBytes(data)
	return string(data), nil
}

func (p *persistence) remove(ctx context.Context) error {
	err := p.repo.Delete(ctx, p.scope, RefreshTokenKey)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
