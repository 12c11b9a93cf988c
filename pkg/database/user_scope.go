package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmptyUserID is returned when a user scope is requested without a user.
var ErrEmptyUserID = errors.New("user id is required for a user scope")

// UserScope wraps a connection with the owning user set for row level security.
// The connection has app.current_user_id set for RLS policy evaluation.
type UserScope struct {
	Conn   *pgxpool.Conn
	UserID string
}

// Close resets the user setting and releases the connection to the pool.
// This MUST be called so one user's setting never leaks into another request.
func (s *UserScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_user_id")
	s.Conn.Release()
	s.Conn = nil
}

// WithUser acquires a connection and sets the user context for RLS.
// The returned UserScope MUST be closed with defer scope.Close().
func (db *DB) WithUser(ctx context.Context, userID string) (*UserScope, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", userID)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to set user context: %w", err)
	}

	return &UserScope{Conn: conn, UserID: userID}, nil
}

// WithoutUser acquires a connection without user context.
// Only maintenance paths (tests, migrations checks) use it; RLS hides every user row.
func (db *DB) WithoutUser(ctx context.Context) (*UserScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &UserScope{Conn: conn}, nil
}
