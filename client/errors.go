package client

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionEnded is returned when a protected request failed
	// authentication for good: the refresh failed or the replay was
	// rejected again. The session has been cleared.
	ErrSessionEnded = errors.New("session ended")
	// ErrIllegalTransition reports a request lifecycle step that the state
	// table does not allow.
	ErrIllegalTransition = errors.New("illegal request state transition")
	// ErrLoginRejected is returned by Public.Login for a 401 answer.
	ErrLoginRejected = errors.New("login rejected")
)

// APIError is a non-2xx answer to a public API call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}
