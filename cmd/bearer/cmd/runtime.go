package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/bearer/client"
	"github.com/jmcleod/bearer/internal/config"
	"github.com/jmcleod/bearer/internal/util"
	"github.com/jmcleod/bearer/refresh"
	"github.com/jmcleod/bearer/session"
	"github.com/jmcleod/bearer/storage"
	bboltstorage "github.com/jmcleod/bearer/storage/bbolt"
	"github.com/jmcleod/bearer/storage/memory"
	redisstorage "github.com/jmcleod/bearer/storage/redis"
)

// clientRuntime is the wired client stack for one CLI invocation.
type clientRuntime struct {
	repo   storage.Repository
	store  *session.TokenStore
	coord  *refresh.Coordinator
	auth   *client.Authenticated
	public *client.Public
	guard  *session.Guard

	ended atomic.Bool
}

func (a *app) newClientRuntime(ctx context.Context, errOut io.Writer) (*clientRuntime, error) {
	repo, err := openRepository(ctx, a.cfg, a.cfg.StorePath())
	if err != nil {
		return nil, err
	}
	secret, err := storeSecret(a.cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	rt := &clientRuntime{repo: repo}
	store, err := session.NewTokenStore(
		session.WithPersistence(repo, a.cfg.SessionName, secret),
		session.WithSessionTTL(a.cfg.SessionTTL),
		session.WithLogger(a.logger),
		session.WithStateListener(func(from, to session.State) {
			if to == session.Anonymous {
				rt.ended.Store(true)
			}
		}),
	)
	if err != nil {
		repo.Close()
		return nil, err
	}
	if err := store.LoadPersisted(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("loading session %q: %w", a.cfg.SessionName, err)
	}
	rt.store = store
	rt.guard = session.NewGuard(store)

	refresher := refresh.NewHTTPRefresher(a.cfg.APIBaseURL,
		refresh.WithHTTPClient(&http.Client{Timeout: a.cfg.RefreshTimeout}),
	)
	rt.coord = refresh.NewCoordinator(store, refresher,
		refresh.WithTimeout(a.cfg.RefreshTimeout),
		refresh.WithLogger(a.logger),
	)

	base, err := client.ParseBaseURL(a.cfg.APIBaseURL)
	if err != nil {
		repo.Close()
		return nil, err
	}
	name := a.cfg.SessionName
	rt.auth = client.NewAuthenticated(store, rt.coord,
		client.WithBaseURL(base),
		client.WithTimeout(a.cfg.RequestTimeout),
		client.WithLogger(a.logger),
		client.WithCSRF(func() string { return csrfClaim(store.AccessToken()) }),
		client.WithNavigator(func(context.Context) {
			fmt.Fprintf(errOut, "Session %q has ended. Run `bearer login` to sign in again.\n", name)
		}),
	)

	rt.public, err = client.NewPublic(a.cfg.APIBaseURL,
		client.WithPublicTimeout(a.cfg.RequestTimeout),
		client.WithPublicLogger(a.logger),
	)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *clientRuntime) Close() error {
	return rt.repo.Close()
}

// openRepository opens the configured backend. boltPath is the database
// file used by the bbolt backend.
func openRepository(ctx context.Context, cfg *config.Config, boltPath string) (storage.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.NewRepository(), nil
	case config.BackendBbolt:
		if err := os.MkdirAll(filepath.Dir(boltPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(boltPath, &bbolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		return repo, nil
	case config.BackendRedis:
		repo, err := redisstorage.NewRepositoryFromAddr(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// storeSecret returns the secret that seeds record encryption. A memory
// store needs none; persistent stores fall back to a generated key file.
func storeSecret(cfg *config.Config) ([]byte, error) {
	if cfg.StoreSecret != "" {
		return []byte(cfg.StoreSecret), nil
	}
	if cfg.StoreBackend == config.BackendMemory {
		return nil, nil
	}
	return util.LoadOrCreateSecret(cfg.SecretPath())
}

// csrfClaim extracts the CSRF token the dev server embeds in its access
// tokens. Tokens from other servers simply yield "".
func csrfClaim(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	csrf, _ := claims["csrf"].(string)
	return csrf
}
