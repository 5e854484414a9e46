// Package client provides the HTTP clients used to talk to the remote API.
//
// Authenticated attaches the current access token to every request and
// recovers transparently from an expired token: the first 401 of a request
// triggers one shared refresh and a single replay. A request that is
// rejected again, or whose refresh fails, ends the session. Public never
// touches credentials and is used for login and other anonymous calls.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jmcleod/bearer/refresh"
)

// DefaultTimeout bounds a whole protected call, replay included.
const DefaultTimeout = 30 * time.Second

// CSRFHeader carries the optional CSRF token.
const CSRFHeader = "X-CSRF-Token"

// TokenSource is the part of session.TokenStore the client needs.
type TokenSource interface {
	AccessToken() string
	Epoch() uint64
	Clear(ctx context.Context) error
	EndSession(ctx context.Context, epoch uint64) (bool, error)
}

// Coordinator starts or joins the single outstanding refresh.
type Coordinator interface {
	Refresh(ctx context.Context) *refresh.Pending
}

// Navigator moves the user to the login boundary after the session ended.
type Navigator func(ctx context.Context)

// Authenticated is an http.RoundTripper for protected endpoints.
type Authenticated struct {
	base      http.RoundTripper
	baseURL   *url.URL
	tokens    TokenSource
	refresher Coordinator
	csrf      func() string
	navigate  Navigator
	logger    zerolog.Logger
	timeout   time.Duration

	guard teardownGuard
}

var _ http.RoundTripper = (*Authenticated)(nil)

// Option configures an Authenticated transport.
type Option func(*Authenticated)

// WithBase sets the transport requests are finally sent with.
func WithBase(rt http.RoundTripper) Option {
	return func(a *Authenticated) {
		a.base = rt
	}
}

// WithBaseURL resolves relative request URLs against u.
func WithBaseURL(u *url.URL) Option {
	return func(a *Authenticated) {
		a.baseURL = u
	}
}

// WithCSRF adds the value returned by fn as CSRFHeader when non-empty.
func WithCSRF(fn func() string) Option {
	return func(a *Authenticated) {
		a.csrf = fn
	}
}

// WithNavigator sets the hook run once per ended session.
func WithNavigator(fn Navigator) Option {
	return func(a *Authenticated) {
		a.navigate = fn
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Authenticated) {
		a.logger = logger
	}
}

// WithTimeout sets the http.Client timeout used by NewAuthenticatedClient.
func WithTimeout(d time.Duration) Option {
	return func(a *Authenticated) {
		a.timeout = d
	}
}

// NewAuthenticated creates the transport. tokens is usually a
// *session.TokenStore and coordinator a *refresh.Coordinator over the same
// store.
func NewAuthenticated(tokens TokenSource, coordinator Coordinator, opts ...Option) *Authenticated {
	a := &Authenticated{
		base:      http.DefaultTransport,
		tokens:    tokens,
		refresher: coordinator,
		logger:    zerolog.Nop(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "authenticated_client").Logger()
	return a
}

// NewAuthenticatedClient returns an *http.Client using an Authenticated
// transport.
func NewAuthenticatedClient(tokens TokenSource, coordinator Coordinator, opts ...Option) *http.Client {
	a := NewAuthenticated(tokens, coordinator, opts...)
	return a.Client()
}

// Client wraps a in an *http.Client.
func (a *Authenticated) Client() *http.Client {
	return &http.Client{Transport: a, Timeout: a.timeout}
}

// Logout ends the session locally. It makes no network call and does not
// navigate.
func (a *Authenticated) Logout(ctx context.Context) error {
	return a.tokens.Clear(ctx)
}

// RoundTrip implements http.RoundTripper.
func (a *Authenticated) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	at := newAttempt(ctx)
	epoch := a.tokens.Epoch()

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	token := a.tokens.AccessToken()
	resp, err := a.send(req, getBody, token, at.retried)
	if err != nil {
		return nil, a.settle(at, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return a.succeed(at, resp)
	}

	discard(resp)
	if err := at.authFailure(); err != nil {
		return nil, err
	}
	if at.state == stateAuthFailureRetried {
		a.logger.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Msg("replayed request rejected")
		return nil, a.end(ctx, at, epoch, nil)
	}

	// Another request of this wave may already have renewed the token.
	if current := a.tokens.AccessToken(); current == "" || current == token {
		a.logger.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Uint64("epoch", epoch).Msg("access token rejected, refreshing")
		p := a.refresher.Refresh(ctx)
		if _, err := p.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, a.settle(at, ctxErr)
			}
			// The refresh belongs to the session current when it started,
			// which may be newer than this request's.
			return nil, a.end(ctx, at, p.Epoch(), err)
		}
	}

	if err := at.to(stateSent); err != nil {
		return nil, err
	}
	replay := req.WithContext(withRetry(ctx))
	resp, err = a.send(replay, getBody, a.tokens.AccessToken(), true)
	if err != nil {
		return nil, a.settle(at, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return a.succeed(at, resp)
	}
	discard(resp)
	if err := at.authFailure(); err != nil {
		return nil, err
	}
	a.logger.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Msg("replayed request rejected")
	return nil, a.end(ctx, at, epoch, nil)
}

func (a *Authenticated) send(req *http.Request, getBody func() (io.ReadCloser, error), token string, replay bool) (*http.Response, error) {
	out := req.Clone(req.Context())
	if a.baseURL != nil {
		out.URL = a.baseURL.ResolveReference(req.URL)
		out.Host = ""
	}
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = body
		out.GetBody = getBody
	}
	out.Header.Del("Authorization")
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(out)
	}
	if a.csrf != nil {
		if v := a.csrf(); v != "" {
			out.Header.Set(CSRFHeader, v)
		}
	}

	resp, err := a.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().
		Str("method", out.Method).
		Str("url", out.URL.Redacted()).
		Int("status", resp.StatusCode).
		Bool("replay", replay).
		Msg("request completed")
	return resp, nil
}

func (a *Authenticated) succeed(at *attempt, resp *http.Response) (*http.Response, error) {
	if err := at.to(stateOK); err != nil {
		discard(resp)
		return nil, err
	}
	if err := at.to(stateSettled); err != nil {
		discard(resp)
		return nil, err
	}
	return resp, nil
}

func (a *Authenticated) settle(at *attempt, cause error) error {
	if err := at.to(stateSettled); err != nil {
		return err
	}
	return cause
}

// end settles a terminally failed request and tears the session down.
func (a *Authenticated) end(ctx context.Context, at *attempt, epoch uint64, cause error) error {
	if err := at.to(stateSettled); err != nil {
		return err
	}
	a.teardown(ctx, epoch)
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrSessionEnded, cause)
	}
	return ErrSessionEnded
}

func (a *Authenticated) teardown(ctx context.Context, epoch uint64) {
	ended, err := a.tokens.EndSession(context.WithoutCancel(ctx), epoch)
	if err != nil {
		a.logger.Error().Err(err).Uint64("epoch", epoch).Msg("clearing session")
	}
	if !ended {
		// A newer session replaced the one this request belonged to.
		return
	}
	if !a.guard.claim(epoch) {
		return
	}
	a.logger.Info().Uint64("epoch", epoch).Msg("session ended, navigating to login")
	if a.navigate != nil {
		a.navigate(ctx)
	}
}

// teardownGuard lets only the first terminal failure of a session navigate.
type teardownGuard struct {
	mu    sync.Mutex
	ended bool
	epoch uint64
}

func (g *teardownGuard) claim(epoch uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended && epoch <= g.epoch {
		return false
	}
	g.ended = true
	g.epoch = epoch
	return true
}

// replayableBody returns a function producing fresh copies of the request
// body, buffering it when the request does not provide GetBody.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		first := req.Body
		used := false
		var mu sync.Mutex
		return func() (io.ReadCloser, error) {
			mu.Lock()
			defer mu.Unlock()
			if !used {
				used = true
				return first, nil
			}
			return req.GetBody()
		}, nil
	}
	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
