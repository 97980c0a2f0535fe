// Package session authenticates callers and produces the identity value
// handed to list access control. Two token sources are supported: admin
// tokens minted by this service and bearer tokens from an external OIDC
// issuer.
package session

import (
	"context"
	"strings"
)

// Identity describes an authenticated caller. A nil *Identity means the
// request is anonymous; access control decides what that is allowed to do.
type Identity struct {
	Subject string
	Issuer  string
	Admin   bool
	Claims  map[string]any
}

type identityContextKey struct{}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext returns the identity from the context, or nil for anonymous
// requests.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
// Returns "" when the header is absent or not a Bearer scheme.
func BearerToken(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
