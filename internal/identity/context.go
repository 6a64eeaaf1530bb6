package identity

import (
	"context"
	"time"

	"github.com/grc-saas/grc/internal/shared"
)

// Identity is the verified caller attached to a request.
type Identity struct {
	UserID         string
	Email          string
	FirstName      string
	LastName       string
	Role           shared.Role
	OrganizationID string
	IssuedAt       time.Time
}

type contextKey struct{}

// WithIdentity stores a copy of id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached by the access guard.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Require returns the caller bound to an organization. A missing identity
// yields shared.ErrUnauthenticated, a missing organization shared.ErrForbidden.
func Require(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, shared.ErrUnauthenticated
	}
	if id.OrganizationID == "" {
		return Identity{}, shared.ErrForbidden
	}
	return id, nil
}
