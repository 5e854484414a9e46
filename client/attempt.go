package client

import (
	"context"
	"fmt"
)

// requestState is the lifecycle of one protected request.
type requestState int

const (
	stateSent requestState = iota
	stateOK
	stateAuthFailureFirst
	stateAuthFailureRetried
	stateSettled
)

func (s requestState) String() string {
	switch s {
	case stateSent:
		return "sent"
	case stateOK:
		return "ok"
	case stateAuthFailureFirst:
		return "auth_failure_first"
	case stateAuthFailureRetried:
		return "auth_failure_retried"
	case stateSettled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the states reachable from each state.
var transitions = map[requestState][]requestState{
	stateSent:               {stateOK, stateAuthFailureFirst, stateAuthFailureRetried, stateSettled},
	stateOK:                 {stateSettled},
	stateAuthFailureFirst:   {stateSent, stateSettled},
	stateAuthFailureRetried: {stateSettled},
}

// attempt tracks one request through its lifecycle. A request is replayed
// at most once; retried is the in-process form of the retry marker.
type attempt struct {
	state   requestState
	retried bool
}

func newAttempt(ctx context.Context) *attempt {
	return &attempt{state: stateSent, retried: isRetry(ctx)}
}

func (a *attempt) to(next requestState) error {
	if !allowed(a.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.state, next)
	}
	switch {
	case next == stateAuthFailureFirst && a.retried:
		return fmt.Errorf("%w: %s -> %s on a replayed request", ErrIllegalTransition, a.state, next)
	case next == stateAuthFailureRetried && !a.retried:
		return fmt.Errorf("%w: %s -> %s before any replay", ErrIllegalTransition, a.state, next)
	case a.state == stateAuthFailureFirst && next == stateSent:
		a.retried = true
	}
	a.state = next
	return nil
}

// authFailure moves the attempt into the 401 state matching its retry mark.
func (a *attempt) authFailure() error {
	if a.retried {
		return a.to(stateAuthFailureRetried)
	}
	return a.to(stateAuthFailureFirst)
}

func allowed(from, to requestState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type retryKey struct{}

// withRetry marks ctx as belonging to a replayed request.
func withRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

func isRetry(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}

// IsRetry reports whether ctx belongs to a request that has already been
// replayed after a refresh. Such requests are never refreshed again.
func IsRetry(ctx context.Context) bool {
	return isRetry(ctx)
}
