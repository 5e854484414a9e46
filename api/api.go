// Package api is a small in-process implementation of the remote API the
// session client talks to. It issues short-lived HS256 access tokens and
// revocable opaque refresh tokens, and serves a couple of protected
// resources. It backs `bearer devserver` and the integration tests.
package api

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/rs/zerolog"

	"github.com/jmcleod/bearer/internal/util"
)

const (
	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
	issuer            = "bearer-devserver"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	users       *userStore
	items       *itemStore
	sessions    SessionStore
	rateLimiter *loginRateLimiter
	metrics     *metricsCollector
	audit       *auditLogger
	logger      zerolog.Logger

	signingKey   []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	refreshDelay time.Duration
	alertFn      AlertFunc

	// generation is embedded in every access token; bumping it rejects all
	// tokens issued before.
	generation atomic.Uint64
	now        func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger for request handling and audit events.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(a *API) {
		a.accessTTL = d
	}
}

// WithRefreshTTL sets the lifetime of issued refresh tokens.
func WithRefreshTTL(d time.Duration) Option {
	return func(a *API) {
		a.refreshTTL = d
	}
}

// WithRefreshDelay makes the refresh endpoint wait before answering, which
// widens the window in which concurrent clients pile up behind one refresh.
func WithRefreshDelay(d time.Duration) Option {
	return func(a *API) {
		a.refreshDelay = d
	}
}

// WithSigningKey sets the HS256 key for access tokens. A random key is used
// when unset, so tokens do not survive a restart.
func WithSigningKey(key []byte) Option {
	return func(a *API) {
		a.signingKey = bytes.Clone(key)
	}
}

// WithSessionStore sets where refresh sessions are kept. The default is an
// in-memory store.
func WithSessionStore(store SessionStore) Option {
	return func(a *API) {
		a.sessions = store
	}
}

// WithClock replaces the clock used for token lifetimes, refresh-session
// expiry and login lockouts.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithAlertFunc registers a callback for anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance with no users.
func New(opts ...Option) (*API, error) {
	a := &API{
		users:       newUserStore(),
		items:       newItemStore(),
		rateLimiter: newLoginRateLimiter(),
		logger:      zerolog.Nop(),
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.signingKey) == 0 {
		key, err := util.RandomBytes(32)
		if err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
		a.signingKey = key
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore()
	}
	if cs, ok := a.sessions.(clockSetter); ok {
		cs.setClock(a.now)
	}
	a.rateLimiter.now = a.now
	a.logger = a.logger.With().Str("component", "devserver").Logger()
	a.metrics = newMetricsCollector(a.alertFn)
	a.audit = newAuditLogger(a.logger, a.metrics)
	return a, nil
}

// AddUser registers a user. The username is normalised before storage.
func (a *API) AddUser(username, password string) error {
	return a.users.add(username, password)
}

// InvalidateAccessTokens makes every access token issued so far fail with
// 401, as if they had all expired. Refresh tokens stay valid.
func (a *API) InvalidateAccessTokens() {
	a.generation.Add(1)
	a.logger.Info().Uint64("generation", a.generation.Load()).Msg("access tokens invalidated")
}

// Stats returns the request counters.
func (a *API) Stats() Stats {
	return a.metrics.stats()
}

// Router returns a chi.Router with all API routes mounted. Mount it under
// /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Post("/auth/login", a.Login)
	r.Post("/auth/refresh", a.Refresh)
	r.Post("/auth/logout", a.Logout)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Use(a.CSRFMiddleware)
		r.Get("/me", a.Me)
		r.Get("/items", a.ListItems)
		r.Post("/items", a.CreateItem)
	})

	return r
}

// Handler returns the API mounted under /api.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Mount("/api", a.Router())
	return r
}
