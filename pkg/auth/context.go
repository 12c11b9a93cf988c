package auth

import (
	"context"
	"errors"
)

// ErrNoUser is returned when the context carries no authenticated user.
var ErrNoUser = errors.New("user ID not found in context")

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok {
		return ""
	}
	return claims.UserID()
}

// RequireUserIDFromContext extracts the user ID from context and returns an error if not found.
func RequireUserIDFromContext(ctx context.Context) (string, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == "" {
		return "", ErrNoUser
	}
	return userID, nil
}
