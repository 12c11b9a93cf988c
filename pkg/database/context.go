package database

import (
	"context"
)

type contextKey string

const (
	// UserScopeKey is the context key for storing the user-scoped database connection.
	UserScopeKey contextKey = "userScope"
)

// GetUserScope retrieves the user-scoped database connection from context.
// Returns nil and false if not present.
func GetUserScope(ctx context.Context) (*UserScope, bool) {
	scope, ok := ctx.Value(UserScopeKey).(*UserScope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetUserScope stores the user-scoped database connection in context.
func SetUserScope(ctx context.Context, scope *UserScope) context.Context {
	return context.WithValue(ctx, UserScopeKey, scope)
}
