// ABOUTME: Tests for identity resolution from trust headers and bearer tokens
// ABOUTME: Covers resolution order, error mapping, and header parsing

package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFromHeaders_FullIdentity(t *testing.T) {
	r := NewResolver(nil)

	headers := http.Header{}
	headers.Set(HeaderUserID, "user-123")
	headers.Set(HeaderTenantID, "tenant-1")
	headers.Set(HeaderRoles, "admin, editor")
	headers.Set(HeaderPermissions, "read,write, delete")

	ac := r.ResolveFromHeaders(headers)
	require.NotNil(t, ac)
	assert.Equal(t, "user-123", ac.UserID)
	assert.Equal(t, "tenant-1", ac.TenantID)
	assert.Equal(t, []string{"admin", "editor"}, ac.Roles)
	assert.Equal(t, []string{"read", "write", "delete"}, ac.Permissions)
	assert.Equal(t, OriginForwardAuth, ac.Origin)
}

func TestResolveFromHeaders_NoIdentity(t *testing.T) {
	r := NewResolver(nil)

	headers := http.Header{}
	headers.Set(HeaderTenantID, "tenant-1") // tenant without user is not an identity

	assert.Nil(t, r.ResolveFromHeaders(headers))
}

func TestResolve_HeadersWinOverToken(t *testing.T) {
	validator := NewJWTValidator([]byte("secret"))
	token, err := validator.Generate("token-user", "", nil, time.Hour)
	require.NoError(t, err)

	r := NewResolver(validator)
	headers := http.Header{}
	headers.Set(HeaderUserID, "header-user")
	headers.Set("Authorization", "Bearer "+token)

	ac, err := r.Resolve(context.Background(), headers)
	require.NoError(t, err)
	assert.Equal(t, "header-user", ac.UserID)
	assert.Equal(t, OriginForwardAuth, ac.Origin)
}

func TestResolve_BearerFallback(t *testing.T) {
	validator := NewJWTValidator([]byte("secret"))
	token, err := validator.Generate("token-user", "tenant-9", []string{"member"}, time.Hour)
	require.NoError(t, err)

	r := NewResolver(validator)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	ac, err := r.Resolve(context.Background(), headers)
	require.NoError(t, err)
	assert.Equal(t, "token-user", ac.UserID)
	assert.Equal(t, "tenant-9", ac.TenantID)
	assert.Equal(t, []string{"member"}, ac.Roles)
	assert.Equal(t, OriginLocalValidation, ac.Origin)
}

func TestResolve_NoCredentials(t *testing.T) {
	r := NewResolver(NewJWTValidator([]byte("secret")))

	_, err := r.Resolve(context.Background(), http.Header{})
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestResolve_MalformedAuthorizationHeader(t *testing.T) {
	r := NewResolver(NewJWTValidator([]byte("secret")))

	headers := http.Header{}
	headers.Set("Authorization", "Token abc123")

	_, err := r.Resolve(context.Background(), headers)
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestResolveFromToken_NoValidator(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.ResolveFromToken(context.Background(), "some-token")
	assert.ErrorIs(t, err, ErrAuthServiceUnavailable)
}

// failingValidator simulates an auth backend that errors with an untyped
// failure; the resolver must fold it into ErrInvalidToken.
type failingValidator struct{ err error }

func (f *failingValidator) Validate(context.Context, string) (*Context, error) {
	return nil, f.err
}

func TestResolveFromToken_WrapsUnknownErrors(t *testing.T) {
	r := NewResolver(&failingValidator{err: errors.New("upstream said no")})

	_, err := r.ResolveFromToken(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveFromToken_PassesThroughUnavailable(t *testing.T) {
	r := NewResolver(&failingValidator{err: ErrAuthServiceUnavailable})

	_, err := r.ResolveFromToken(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrAuthServiceUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Basic dXNlcg==", "", true},
		{"bearer no token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
