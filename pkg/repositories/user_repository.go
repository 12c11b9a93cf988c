package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Ensure provisions the user on first use. Concurrent calls for the same user are safe.
	Ensure(ctx context.Context, userID string) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

type userRepository struct{}

// NewUserRepository creates a new user repository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

func (r *userRepository) Ensure(ctx context.Context, userID string) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	_, err = scope.Conn.Exec(ctx, `INSERT INTO app_user (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = scope.Conn.QueryRow(ctx, `SELECT id, created_at FROM app_user WHERE id = $1`, userID).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
