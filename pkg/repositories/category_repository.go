package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// CategoryRepository provides data access for the category forest.
type CategoryRepository interface {
	// List returns the user's active categories ordered by title.
	List(ctx context.Context, userID string) ([]*models.Category, error)
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Category, error)
	Create(ctx context.Context, category *models.Category) error
	Update(ctx context.Context, category *models.Category) error
	// ApplyDeletion reparents the direct children, clears the category from events
	// and soft-deletes the category, all in one transaction.
	ApplyDeletion(ctx context.Context, deletion models.CategoryDeletion) error
	// Reset soft-deletes every category of the user, clears all event links and inserts
	// seeds in the given order, in one transaction. Returns the number inserted.
	Reset(ctx context.Context, userID string, seeds []*models.Category) (int, error)
}

type categoryRepository struct{}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository() CategoryRepository {
	return &categoryRepository{}
}

var _ CategoryRepository = (*categoryRepository)(nil)

const categoryColumns = `id, user_id, title, parent_category_id, emoji, color, description,
	created_at, updated_at, deleted_at`

func scanCategory(row pgx.Row) (*models.Category, error) {
	var c models.Category
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.ParentCategoryID, &c.Emoji, &c.Color, &c.Description,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) List(ctx context.Context, userID string) ([]*models.Category, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+categoryColumns+` FROM category
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY title ASC, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]*models.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func (r *categoryRepository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Category, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	c, err := scanCategory(scope.Conn.QueryRow(ctx, `SELECT `+categoryColumns+` FROM category
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

func insertCategory(ctx context.Context, q querier, c *models.Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := q.QueryRow(ctx, `
		INSERT INTO category (id, user_id, title, parent_category_id, emoji, color, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Title, c.ParentCategoryID, c.Emoji, c.Color, c.Description,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create category %q: %w", c.Title, err)
	}
	return nil
}

func (r *categoryRepository) Create(ctx context.Context, category *models.Category) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}
	return insertCategory(ctx, scope.Conn, category)
}

func (r *categoryRepository) Update(ctx context.Context, category *models.Category) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	err = scope.Conn.QueryRow(ctx, `
		UPDATE category
		SET title = $3, parent_category_id = $4, emoji = $5, color = $6, description = $7,
		    updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING updated_at`,
		category.ID, category.UserID,
		category.Title, category.ParentCategoryID, category.Emoji, category.Color, category.Description,
	).Scan(&category.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update category: %w", err)
	}
	return nil
}

func (r *categoryRepository) ApplyDeletion(ctx context.Context, d models.CategoryDeletion) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE category SET parent_category_id = $3, updated_at = now()
		WHERE user_id = $1 AND parent_category_id = $2 AND deleted_at IS NULL`,
		d.UserID, d.CategoryID, d.NewParentID); err != nil {
		return fmt.Errorf("failed to reparent child categories: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE event
		SET category_id = NULL, ai_category_explain = NULL, ai_category_confidence = NULL,
		    ai_category_model = NULL, updated_at = now()
		WHERE user_id = $1 AND category_id = $2`,
		d.UserID, d.CategoryID); err != nil {
		return fmt.Errorf("failed to unlink events: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE category SET deleted_at = now(), updated_at = now()
		WHERE id = $2 AND user_id = $1 AND deleted_at IS NULL`,
		d.UserID, d.CategoryID)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit category deletion: %w", err)
	}
	return nil
}

func (r *categoryRepository) Reset(ctx context.Context, userID string, seeds []*models.Category) (int, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE event
		SET category_id = NULL, ai_category_explain = NULL, ai_category_confidence = NULL,
		    ai_category_model = NULL, updated_at = now()
		WHERE user_id = $1 AND category_id IS NOT NULL`, userID); err != nil {
		return 0, fmt.Errorf("failed to unlink events: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE category SET deleted_at = now(), updated_at = now()
		WHERE user_id = $1 AND deleted_at IS NULL`, userID); err != nil {
		return 0, fmt.Errorf("failed to delete categories: %w", err)
	}

	// Seeds arrive parents first, so every parent row exists before its children.
	for _, seed := range seeds {
		if err := insertCategory(ctx, tx, seed); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit category reset: %w", err)
	}
	return len(seeds), nil
}
