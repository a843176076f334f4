// ABOUTME: Resolved caller identity and context.Context plumbing for request handlers
// ABOUTME: Provides WithContext/FromContext for propagating identity through the gateway

package auth

import (
	"context"
)

// Origin indicates which path produced an identity.
type Origin string

const (
	// OriginForwardAuth marks identities parsed from trusted reverse-proxy headers.
	OriginForwardAuth Origin = "forward_auth"
	// OriginLocalValidation marks identities produced by local token validation.
	OriginLocalValidation Origin = "local_validation"
)

// Context holds the authenticated identity resolved for a request or
// connection. It is immutable once constructed; a fresh value is built per
// request and never mutated.
type Context struct {
	UserID      string
	TenantID    string
	Roles       []string
	Permissions []string
	Origin      Origin
}

// HasRole reports whether the identity carries the given role.
func (c *Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the identity carries the given permission.
func (c *Context) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ctxKey is the key type for storing a *Context in context.Context.
type ctxKey struct{}

// WithContext returns a new context with the identity attached.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext retrieves the identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Context {
	val := ctx.Value(ctxKey{})
	if val == nil {
		return nil
	}
	ac, ok := val.(*Context)
	if !ok {
		return nil
	}
	return ac
}
