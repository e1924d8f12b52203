// Package credentials persists the raw bearer token of the current session.
//
// Exactly one token is stored under one key. No other session state is
// persisted; identity is re-derived from the token on every start.
package credentials

import (
	"context"
	"errors"
)

// ErrNoToken is returned by Load when no token is stored
var ErrNoToken = errors.New("no token stored")

// TokenStore is durable storage for the session's bearer token.
type TokenStore interface {
	// Load returns the stored token or ErrNoToken.
	Load(ctx context.Context) (string, error)
	// Save replaces the stored token.
	Save(ctx context.Context, token string) error
	// Delete removes the stored token. Deleting an absent token is not an error.
	Delete(ctx context.Context) error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
