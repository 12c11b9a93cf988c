package models

import (
	"time"

	"github.com/google/uuid"
)

// AICall is an audit record of a single language model request with verbatim input/output.
type AICall struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Purpose   string         `json:"purpose,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Endpoint  string         `json:"endpoint"`
	Model     string         `json:"model"`

	SystemMessage string  `json:"system_message"`
	Prompt        string  `json:"prompt"`
	Temperature   float64 `json:"temperature"`
	JSONMode      bool    `json:"json_mode"`

	ResponseContent  string `json:"response_content,omitempty"`
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
	CompletionTokens *int   `json:"completion_tokens,omitempty"`
	TotalTokens      *int   `json:"total_tokens,omitempty"`
	DurationMs       int    `json:"duration_ms"`

	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Status values for AI calls.
const (
	AICallStatusSuccess = "success"
	AICallStatusError   = "error"
)

// Purposes attached to AI calls through the llm context.
const (
	AIPurposeExtraction     = "extraction"
	AIPurposeCategorization = "categorization"
	AIPurposeMonthlyTip     = "monthly_tip"
)
