package repositories

import (
	"context"
	"errors"

	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
)

var errNoUserScope = errors.New("no user scope in context")

// userScope returns the connection scope placed in ctx by the caller.
func userScope(ctx context.Context) (*database.UserScope, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, errNoUserScope
	}
	return scope, nil
}
