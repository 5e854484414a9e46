package refresh

import (
	"errors"
	"strconv"
)

var (
	// ErrRefreshFailed wraps every terminal refresh failure. The session has
	// been ended by the time a waiter sees it.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoRefreshToken means no refresh token was held, so no refresh call
	// was made.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshTimeout means the refresh call did not settle within the
	// coordinator timeout.
	ErrRefreshTimeout = errors.New("token refresh timed out")
	// ErrEmptyAccessToken means the refresh endpoint answered 2xx without an
	// access token.
	ErrEmptyAccessToken = errors.New("refresh response carried no access token")
	// ErrSessionChanged means the session was replaced or cleared while the
	// refresh was in flight and its result was discarded.
	ErrSessionChanged = errors.New("session changed during refresh")
)

// StatusError reports a non-2xx answer from the refresh endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "refresh endpoint returned status " + strconv.Itoa(e.StatusCode)
}
