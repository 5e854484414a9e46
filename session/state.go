package session

// State is the coarse session state derived from which tokens are held.
type State int

const (
	// Anonymous means no token is held; protected calls will be rejected.
	Anonymous State = iota
	// Active means at least one token is held and protected calls may succeed.
	Active
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// StateListener is notified after every transition between states.
type StateListener func(from, to State)
