package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// AICallRepository persists the audit trail of language model calls.
type AICallRepository interface {
	Save(ctx context.Context, call *models.AICall) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.AICall, error)
}

type aiCallRepository struct{}

// NewAICallRepository creates a new AICallRepository.
func NewAICallRepository() AICallRepository {
	return &aiCallRepository{}
}

var _ AICallRepository = (*aiCallRepository)(nil)

func (r *aiCallRepository) Save(ctx context.Context, call *models.AICall) error {
	scope, err := userScope(ctx)
	if err != nil {
		return err
	}

	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}

	var contextJSON []byte
	if call.Context != nil {
		contextJSON, err = json.Marshal(call.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
	}

	// Use NULL for empty error_message (success cases)
	var errorMessage *string
	if call.ErrorMessage != "" {
		errorMessage = &call.ErrorMessage
	}

	query := `
		INSERT INTO ai_call (
			id, user_id, purpose, context, endpoint, model,
			system_message, prompt, temperature, json_mode,
			response_content, prompt_tokens, completion_tokens, total_tokens, duration_ms,
			status, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = scope.Conn.Exec(ctx, query,
		call.ID, call.UserID, call.Purpose, contextJSON, call.Endpoint, call.Model,
		call.SystemMessage, call.Prompt, call.Temperature, call.JSONMode,
		call.ResponseContent, call.PromptTokens, call.CompletionTokens, call.TotalTokens, call.DurationMs,
		call.Status, errorMessage, call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save ai call: %w", err)
	}
	return nil
}

func (r *aiCallRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.AICall, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, user_id, COALESCE(purpose, ''), context, endpoint, model,
		       system_message, prompt, temperature, json_mode,
		       COALESCE(response_content, ''), prompt_tokens, completion_tokens, total_tokens, duration_ms,
		       status, COALESCE(error_message, ''), created_at
		FROM ai_call
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ai calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*models.AICall, 0)
	for rows.Next() {
		var c models.AICall
		var contextJSON []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.Purpose, &contextJSON, &c.Endpoint, &c.Model,
			&c.SystemMessage, &c.Prompt, &c.Temperature, &c.JSONMode,
			&c.ResponseContent, &c.PromptTokens, &c.CompletionTokens, &c.TotalTokens, &c.DurationMs,
			&c.Status, &c.ErrorMessage, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ai call: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal context: %w", err)
			}
		}
		calls = append(calls, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ai calls: %w", err)
	}
	return calls, nil
}
