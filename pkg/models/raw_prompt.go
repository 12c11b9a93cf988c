package models

import (
	"time"

	"github.com/google/uuid"
)

// RawPromptStatus is the extraction state of a submitted prompt.
type RawPromptStatus string

// Raw prompt statuses. A prompt leaves RawPromptStatusNew exactly once.
const (
	RawPromptStatusNew    RawPromptStatus = "new"
	RawPromptStatusDone   RawPromptStatus = "done"
	RawPromptStatusFailed RawPromptStatus = "failed"
)

// RawPrompt is a user's free-text submission awaiting AI extraction.
// Stored in event_raw table.
type RawPrompt struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Prompt    string          `json:"prompt"`
	Status    RawPromptStatus `json:"status"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsTerminal reports whether extraction has finished for this prompt.
func (p *RawPrompt) IsTerminal() bool {
	return p.Status == RawPromptStatusDone || p.Status == RawPromptStatusFailed
}
