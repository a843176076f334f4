// ABOUTME: Local JWT token validation implementing the TokenValidator interface
// ABOUTME: Uses HS256 signing with configurable secret; maps claims onto auth.Context

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates a bearer token and produces an identity.
// Implementations may validate locally (signature check) or call out to an
// auth service; the latter must report reachability problems as
// ErrAuthServiceUnavailable so callers can distinguish them from bad tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Context, error)
}

// JWTValidator implements TokenValidator using HS256 signed JWTs.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a new JWT validator with the given secret.
func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate checks the token signature and expiry and builds a Context from
// the sub, tenant, roles and permissions claims.
func (v *JWTValidator) Validate(_ context.Context, tokenString string) (*Context, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	ac := &Context{
		UserID:      sub,
		Roles:       stringClaim(claims, "roles"),
		Permissions: stringClaim(claims, "permissions"),
		Origin:      OriginLocalValidation,
	}
	if tenant, ok := claims["tenant"].(string); ok {
		ac.TenantID = tenant
	}
	return ac, nil
}

// Generate creates a new JWT token for the given user ID with expiration.
// Used by the CLI token command and by tests.
func (v *JWTValidator) Generate(userID, tenantID string, roles []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if tenantID != "" {
		claims["tenant"] = tenantID
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// stringClaim extracts a []string claim that JSON decoding surfaces as []any.
func stringClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
