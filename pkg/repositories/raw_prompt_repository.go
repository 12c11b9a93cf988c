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

// RawPromptRepository provides data access for submitted prompts (event_raw).
type RawPromptRepository interface {
	Create(ctx context.Context, prompt *models.RawPrompt) error
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.RawPrompt, error)
	// Complete inserts the extracted event and marks the prompt done in one transaction.
	// Returns apperrors.ErrConflict when the prompt already left the new status.
	Complete(ctx context.Context, prompt *models.RawPrompt, event *models.Event) error
	// MarkFailed records a terminal extraction failure. Only prompts in the new status change.
	MarkFailed(ctx context.Context, userID string, id uuid.UUID, message string) error
}

type rawPromptRepository struct{}

// NewRawPromptRepository creates a new RawPromptRepository.
func NewRawPromptRepository() RawPromptRepository {
	return &rawPromptRepository{}
}

var _ RawPromptRepository = (*rawPromptRepository)(nil)

const rawPromptColumns = `id, user_id, prompt, status, error, created_at, updated_at`

func scanRawPrompt(row pgx.Row) (*models.RawPrompt, error) {
	var p models.RawPrompt
	err := row.Scan(&p.ID, &p.UserID, &p.Prompt, &p.Status, &p.Error, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *rawPromptRepository) Create(ctx context.Context, prompt *models.RawPrompt) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	if prompt.ID == uuid.Nil {
		prompt.ID = uuid.New()
	}
	prompt.Status = models.RawPromptStatusNew

	query := `
		INSERT INTO event_raw (id, user_id, prompt, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query, prompt.ID, prompt.UserID, prompt.Prompt, prompt.Status).
		Scan(&prompt.CreatedAt, &prompt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create raw prompt: %w", err)
	}
	return nil
}

func (r *rawPromptRepository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.RawPrompt, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + rawPromptColumns + ` FROM event_raw WHERE id = $1 AND user_id = $2`
	prompt, err := scanRawPrompt(scope.Conn.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw prompt: %w", err)
	}
	return prompt, nil
}

func (r *rawPromptRepository) Complete(ctx context.Context, prompt *models.RawPrompt, event *models.Event) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE event_raw
		SET status = $3, error = NULL, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = $4`,
		prompt.ID, prompt.UserID, models.RawPromptStatusDone, models.RawPromptStatusNew)
	if err != nil {
		return fmt.Errorf("failed to mark raw prompt done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("raw prompt %s is no longer new: %w", prompt.ID, apperrors.ErrConflict)
	}

	event.RawPromptID = &prompt.ID
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit extraction: %w", err)
	}
	prompt.Status = models.RawPromptStatusDone
	return nil
}

func (r *rawPromptRepository) MarkFailed(ctx context.Context, userID string, id uuid.UUID, message string) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	_, err = scope.Conn.Exec(ctx, `
		UPDATE event_raw
		SET status = $3, error = $4, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = $5`,
		id, userID, models.RawPromptStatusFailed, message, models.RawPromptStatusNew)
	if err != nil {
		return fmt.Errorf("failed to mark raw prompt failed: %w", err)
	}
	return nil
}
