// Package refresh coalesces concurrent token refreshes into a single
// network call.
//
// Any number of callers may ask for a refresh while one is outstanding; they
// all receive the same *Pending handle and observe the same outcome. The
// handle is published under a mutex before the refresh call starts and is
// withdrawn before waiters are released, so a request made after settlement
// always starts fresh work.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single refresh call.
const DefaultTimeout = 10 * time.Second

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

// Store is the part of session.TokenStore the coordinator needs.
type Store interface {
	RefreshCredentials() (string, uint64)
	RenewAccessToken(epoch uint64, access string) bool
	EndSession(ctx context.Context, epoch uint64) (bool, error)
}

// Pending is one in-flight refresh. Its result is written once, before Done
// is closed.
type Pending struct {
	done  chan struct{}
	epoch uint64
	token string
	err   error
}

// Done is closed when the refresh has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Epoch is the session epoch the refresh was started for.
func (p *Pending) Epoch() uint64 {
	return p.epoch
}

// Wait blocks until the refresh settles or ctx ends. A caller that stops
// waiting does not cancel the refresh for the others.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.token, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stats counts refresh activity.
type Stats struct {
	// Started is the number of refresh calls handed to the Refresher.
	Started int64
	// Failed is the number of refreshes that ended the session.
	Failed int64
}

// Coordinator owns the single outstanding refresh of one TokenStore.
type Coordinator struct {
	store     Store
	refresher Refresher
	timeout   time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	pending *Pending

	started atomic.Int64
	failed  atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each refresh call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a Coordinator refreshing the credentials of store
// through refresher.
func NewCoordinator(store Store, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   DefaultTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "refresh").Logger()
	return c
}

// Refresh returns the outstanding refresh of the current session, starting
// one if none exists. A refresh still running for an earlier session is
// left to settle on its own and never joined. The refresh runs detached from
// ctx cancellation but keeps its values.
func (c *Coordinator) Refresh(ctx context.Context) *Pending {
	c.mu.Lock()
	_, epoch := c.store.RefreshCredentials()
	if p := c.pending; p != nil && p.epoch == epoch {
		c.mu.Unlock()
		return p
	}
	p := &Pending{done: make(chan struct{}), epoch: epoch}
	c.pending = p
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), p)
	return p
}

// InFlight returns the outstanding refresh, or nil.
func (c *Coordinator) InFlight() *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Stats returns a snapshot of the refresh counters.
func (c *Coordinator) Stats() Stats {
	return Stats{Started: c.started.Load(), Failed: c.failed.Load()}
}

func (c *Coordinator) run(ctx context.Context, p *Pending) {
	token, err := c.exchange(ctx, p.epoch)

	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()

	p.token, p.err = token, err
	close(p.done)
}

func (c *Coordinator) exchange(ctx context.Context, epoch uint64) (string, error) {
	refreshToken, current := c.store.RefreshCredentials()
	if current != epoch {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrSessionChanged)
	}
	if refreshToken == "" {
		c.logger.Info().Uint64("epoch", epoch).Msg("no refresh token held, ending session")
		c.endSession(ctx, epoch)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRefreshToken)
	}

	c.started.Add(1)
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	access, err := c.refresher.Refresh(callCtx, refreshToken)
	if err == nil && access == "" {
		err = ErrEmptyAccessToken
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrRefreshTimeout, err)
		}
		c.logger.Warn().Err(err).Uint64("epoch", epoch).Dur("elapsed", time.Since(start)).Msg("refresh failed, ending session")
		c.endSession(ctx, epoch)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if !c.store.RenewAccessToken(epoch, access) {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrSessionChanged)
	}
	c.logger.Debug().Uint64("epoch", epoch).Dur("elapsed", time.Since(start)).Msg("access token renewed")
	return access, nil
}

func (c *Coordinator) endSession(ctx context.Context, epoch uint64) {
	c.failed.Add(1)
	if _, err := c.store.EndSession(ctx, epoch); err != nil {
		c.logger.Error().Err(err).Uint64("epoch", epoch).Msg("clearing session after failed refresh")
	}
}
