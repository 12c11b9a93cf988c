// Package auth provides JWT-based authentication for ekaya-ledger.
// It validates bearer tokens against the identity provider's JWKS endpoints;
// the token subject is the ledger user ID.
package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims issued by the identity provider.
// Only the subject is required; the rest is informational.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	// AuthorizedParty is the origin the session token was minted for (azp).
	AuthorizedParty string `json:"azp,omitempty"`
}

// UserID returns the trimmed subject claim.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Subject)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithClaims stores claims and the raw token in the context.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}
