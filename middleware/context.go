package middleware

import (
	"context"

	"github.com/ekmate/portal/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// IdentityKey is the context key for the resolved session identity
	IdentityKey contextKey = "identity"
)

// GetIdentityFromContext retrieves the identity placed by a route guard
func GetIdentityFromContext(ctx context.Context) *models.Identity {
	if val := ctx.Value(IdentityKey); val != nil {
		if identity, ok := val.(*models.Identity); ok {
			return identity
		}
	}
	return nil
}

// WithIdentity adds an identity to the context
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}
