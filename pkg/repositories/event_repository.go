package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// EventRepository provides data access for normalized events.
// Every read ignores soft-deleted rows.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Event, error)
	// UpdateManual overwrites the user-editable fields and the AI extraction markers.
	// The category link and the ai_category_* fields are left untouched.
	UpdateManual(ctx context.Context, event *models.Event) error
	SoftDelete(ctx context.Context, userID string, id uuid.UUID) error
	// List returns one page ordered by effective date (newest first) and the total count.
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Event, int, error)
	// ListUncategorized returns up to limit uncategorized events, newest first,
	// skipping the IDs in exclude.
	ListUncategorized(ctx context.Context, userID string, exclude []uuid.UUID, limit int) ([]*models.Event, error)
	// ListInRange returns events with effective date in [from, to), oldest first.
	ListInRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Event, error)
	// ClearCategorization removes the category link and all ai_category_* fields
	// from every event of the user. Returns the number of events changed.
	ClearCategorization(ctx context.Context, userID string) (int64, error)
	// ApplyCategorization writes one validated assignment. Returns false when the event
	// or the category no longer exists.
	ApplyCategorization(ctx context.Context, userID string, assignment models.CategoryAssignment) (bool, error)
}

type eventRepository struct{}

// NewEventRepository creates a new EventRepository.
func NewEventRepository() EventRepository {
	return &eventRepository{}
}

var _ EventRepository = (*eventRepository)(nil)

// querier is satisfied by both pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const eventColumns = `
	id, raw_prompt_id, user_id, effective_at, description, type, amount, currency,
	category_id, ai_explain, ai_confidence, ai_model,
	ai_category_explain, ai_category_confidence, ai_category_model,
	created_at, updated_at, deleted_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(
		&e.ID, &e.RawPromptID, &e.UserID, &e.EffectiveAt, &e.Description, &e.Type, &e.Amount, &e.Currency,
		&e.CategoryID, &e.AIExplain, &e.AIConfidence, &e.AIModel,
		&e.AICategoryExplain, &e.AICategoryConfidence, &e.AICategoryModel,
		&e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.EffectiveAt = e.EffectiveAt.UTC()
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*models.Event, error) {
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// insertEvent is shared with the raw prompt repository, which inserts inside its own transaction.
func insertEvent(ctx context.Context, q querier, e *models.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO event (
			id, raw_prompt_id, user_id, effective_at, description, type, amount, currency,
			category_id, ai_explain, ai_confidence, ai_model
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err := q.QueryRow(ctx, query,
		e.ID, e.RawPromptID, e.UserID, e.EffectiveAt, e.Description, e.Type, e.Amount, e.Currency,
		e.CategoryID, e.AIExplain, e.AIConfidence, e.AIModel,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *eventRepository) Create(ctx context.Context, event *models.Event) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}
	return insertEvent(ctx, scope.Conn, event)
}

func (r *eventRepository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*models.Event, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + eventColumns + ` FROM event
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	event, err := scanEvent(scope.Conn.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (r *eventRepository) UpdateManual(ctx context.Context, event *models.Event) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE event
		SET effective_at = $3, description = $4, type = $5, amount = $6, currency = $7,
		    ai_explain = $8, ai_confidence = $9, ai_model = $10, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		event.ID, event.UserID,
		event.EffectiveAt, event.Description, event.Type, event.Amount, event.Currency,
		event.AIExplain, event.AIConfidence, event.AIModel,
	).Scan(&event.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func (r *eventRepository) SoftDelete(ctx context.Context, userID string, id uuid.UUID) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE event SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *eventRepository) List(ctx context.Context, userID string, limit, offset int) ([]*models.Event, int, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM event WHERE user_id = $1 AND deleted_at IS NULL`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM event
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY effective_at DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := scope.Conn.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *eventRepository) ListUncategorized(ctx context.Context, userID string, exclude []uuid.UUID, limit int) ([]*models.Event, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	if exclude == nil {
		exclude = []uuid.UUID{}
	}

	query := `SELECT ` + eventColumns + ` FROM event
		WHERE user_id = $1 AND deleted_at IS NULL AND category_id IS NULL
		  AND NOT (id = ANY($2))
		ORDER BY effective_at DESC, created_at DESC, id
		LIMIT $3`

	rows, err := scope.Conn.Query(ctx, query, userID, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncategorized events: %w", err)
	}
	return collectEvents(rows)
}

func (r *eventRepository) ListInRange(ctx context.Context, userID string, from, to time.Time) ([]*models.Event, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + eventColumns + ` FROM event
		WHERE user_id = $1 AND deleted_at IS NULL
		  AND effective_at >= $2 AND effective_at < $3
		ORDER BY effective_at ASC, created_at ASC`

	rows, err := scope.Conn.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list events in range: %w", err)
	}
	return collectEvents(rows)
}

func (r *eventRepository) ClearCategorization(ctx context.Context, userID string) (int64, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE event
		SET category_id = NULL, ai_category_explain = NULL, ai_category_confidence = NULL,
		    ai_category_model = NULL, updated_at = now()
		WHERE user_id = $1 AND deleted_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear categorization: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *eventRepository) ApplyCategorization(ctx context.Context, userID string, a models.CategoryAssignment) (bool, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return false, err
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE event
		SET category_id = $3, ai_category_explain = $4, ai_category_confidence = $5,
		    ai_category_model = $6, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND EXISTS (
		      SELECT 1 FROM category c
		      WHERE c.id = $3 AND c.user_id = $2 AND c.deleted_at IS NULL
		  )`,
		a.EventID, userID, a.CategoryID, a.Explain, a.Confidence, a.Model)
	if err != nil {
		return false, fmt.Errorf("failed to apply categorization: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
