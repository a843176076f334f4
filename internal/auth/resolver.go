// ABOUTME: Identity resolution from forwarded trust headers with bearer-token fallback
// ABOUTME: Header parsing is pure; token validation delegates to an injected TokenValidator

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Resolution errors. Callers decide per-protocol how to surface these.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidToken           = errors.New("invalid token")
	ErrAuthServiceUnavailable = errors.New("auth service unavailable")
)

// Forwarded trust headers set by an upstream proxy that has already
// validated the caller.
const (
	HeaderUserID      = "X-User-Id"
	HeaderTenantID    = "X-Tenant-Id"
	HeaderRoles       = "X-User-Roles"
	HeaderPermissions = "X-User-Permissions"
)

// Resolver resolves caller identity for the gateway. Headers win over the
// bearer token: the forwarded-trust path is cheap and already validated
// upstream, while token validation exists as a backup for when the
// auth-forwarding hop itself fails.
type Resolver struct {
	validator TokenValidator
}

// NewResolver creates a Resolver backed by the given token validator.
// The validator may be nil, in which case only the header path can succeed.
func NewResolver(validator TokenValidator) *Resolver {
	return &Resolver{validator: validator}
}

// ResolveFromHeaders parses the forwarded trust headers. Returns nil (not an
// error) when no identity headers are present. No network calls.
func (r *Resolver) ResolveFromHeaders(headers http.Header) *Context {
	userID := headers.Get(HeaderUserID)
	if userID == "" {
		return nil
	}
	return &Context{
		UserID:      userID,
		TenantID:    headers.Get(HeaderTenantID),
		Roles:       splitCSV(headers.Get(HeaderRoles)),
		Permissions: splitCSV(headers.Get(HeaderPermissions)),
		Origin:      OriginForwardAuth,
	}
}

// ResolveFromToken validates a bearer token through the injected validator.
func (r *Resolver) ResolveFromToken(ctx context.Context, token string) (*Context, error) {
	if token == "" {
		return nil, ErrAuthenticationRequired
	}
	if r.validator == nil {
		return nil, ErrAuthServiceUnavailable
	}
	ac, err := r.validator.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAuthServiceUnavailable) || errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, errors.Join(ErrInvalidToken, err)
	}
	return ac, nil
}

// Resolve applies the HTTP resolution order: forwarded headers first, then
// bearer-token fallback. Fails with ErrAuthenticationRequired when neither
// path yields an identity.
func (r *Resolver) Resolve(ctx context.Context, headers http.Header) (*Context, error) {
	if ac := r.ResolveFromHeaders(headers); ac != nil {
		return ac, nil
	}

	token, err := ExtractBearerToken(headers.Get("Authorization"))
	if err != nil {
		return nil, ErrAuthenticationRequired
	}
	return r.ResolveFromToken(ctx, token)
}

// ExtractBearerToken extracts a bearer token from an Authorization header value.
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// splitCSV splits a comma-separated header value, trimming whitespace and
// dropping empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
