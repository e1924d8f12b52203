package session

import (
	"fmt"

	"github.com/ekmate/portal/models"
)

// State is a position in the session lifecycle
type State int

const (
	// StateUnresolved: Init has not run yet
	StateUnresolved State = iota
	// StateResolving: a stored token was found and its identity is being enriched
	StateResolving
	// StateAuthenticated: an identity is held, possibly degraded
	StateAuthenticated
	// StateAnonymous: no token, or the token was discarded
	StateAnonymous
	// StateLoginInFlight: a sign-in request is outstanding
	StateLoginInFlight
)

var stateNames = map[State]string{
	StateUnresolved:    "unresolved",
	StateResolving:     "resolving",
	StateAuthenticated: "authenticated",
	StateAnonymous:     "anonymous",
	StateLoginInFlight: "login_in_flight",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON snapshots
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settled reports whether the state is terminal for the current operation.
// Role-dependent decisions must wait for a settled state.
func (s State) Settled() bool {
	return s == StateAuthenticated || s == StateAnonymous
}

// Snapshot is a point-in-time copy of the session. It shares no mutable
// state with the Store.
type Snapshot struct {
	State    State            `json:"state"`
	Identity *models.Identity `json:"identity,omitempty"`

	// Loading is true while identity resolution or a login is in flight
	Loading bool `json:"loading"`

	// Error is the last login failure message; cleared by the next operation
	Error string `json:"error,omitempty"`

	// Degraded is true when Identity was built from token claims alone
	Degraded bool `json:"degraded"`
}

// Authenticated reports whether the snapshot holds an identity
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}

// LoginResult is the outcome of Store.Login. Login never returns an error;
// failures are described by Message.
type LoginResult struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Identity *models.Identity `json:"identity,omitempty"`
}
