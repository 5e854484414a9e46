package session

import "errors"

var (
	// ErrPersist indicates the refresh token could not be written to or read
	// from the backing repository. In-memory state is still authoritative.
	ErrPersist = errors.New("session persistence failed")
	// ErrNoAccessToken is returned by Token when no access token is held.
	ErrNoAccessToken = errors.New("no access token")
)
