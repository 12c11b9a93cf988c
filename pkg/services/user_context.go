package services

import (
	"context"

	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
)

// UserContextFunc acquires a user-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
// Background jobs use it because they run outside the request that carried a scope.
type UserContextFunc func(ctx context.Context, userID string) (context.Context, func(), error)

// NewUserContextFunc creates a UserContextFunc that uses the given database.
func NewUserContextFunc(db *database.DB) UserContextFunc {
	return func(ctx context.Context, userID string) (context.Context, func(), error) {
		scope, err := db.WithUser(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		userCtx := database.SetUserScope(ctx, scope)
		return userCtx, func() { scope.Close() }, nil
	}
}

// withUserScope runs fn with a user scope, reusing the one already in ctx when
// it belongs to the same user.
func withUserScope(ctx context.Context, getUser UserContextFunc, userID string, fn func(ctx context.Context) error) error {
	if scope, ok := database.GetUserScope(ctx); ok && scope.UserID == userID {
		return fn(ctx)
	}
	userCtx, cleanup, err := getUser(ctx, userID)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(userCtx)
}
