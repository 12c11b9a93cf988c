package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType distinguishes income from expense.
type EventType string

const (
	EventTypeIncome  EventType = "income"
	EventTypeExpense EventType = "expense"
)

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	return t == EventTypeIncome || t == EventTypeExpense
}

// AI model tag and explanation stored on user-entered events.
const (
	ManualAIModel       = "manual"
	ManualCreateExplain = "vloženo ručně"
	ManualEditExplain   = "ručně upraveno"
)

// AmountScale is the number of decimal places an event amount is stored with.
const AmountScale = 2

// MaxAmount is the first amount that no longer fits numeric(18,2).
var MaxAmount = decimal.New(1, 16)

// HasAmountScale reports whether a has no more than AmountScale decimal places.
func HasAmountScale(a decimal.Decimal) bool {
	return a.Equal(a.Round(AmountScale))
}

// Event is a single normalized income or expense record.
// Amount is always stored positive; the sign comes from Type.
type Event struct {
	ID                   uuid.UUID       `json:"id"`
	RawPromptID          *uuid.UUID      `json:"raw_prompt_id,omitempty"`
	UserID               string          `json:"user_id"`
	EffectiveAt          time.Time       `json:"effective_at"`
	Description          string          `json:"description"`
	Type                 EventType       `json:"type"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	CategoryID           *uuid.UUID      `json:"category_id,omitempty"`
	AIExplain            *string         `json:"ai_explain,omitempty"`
	AIConfidence         *float64        `json:"ai_confidence,omitempty"`
	AIModel              *string         `json:"ai_model,omitempty"`
	AICategoryExplain    *string         `json:"ai_category_explain,omitempty"`
	AICategoryConfidence *float64        `json:"ai_category_confidence,omitempty"`
	AICategoryModel      *string         `json:"ai_category_model,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	DeletedAt            *time.Time      `json:"deleted_at,omitempty"`
}

// SignedAmount returns +Amount for income and -Amount for expense.
func (e *Event) SignedAmount() decimal.Decimal {
	if e.Type == EventTypeExpense {
		return e.Amount.Abs().Neg()
	}
	return e.Amount.Abs()
}

// CategorizationMapping is one model-proposed assignment of an event to a category.
// It is never persisted on its own; accepted mappings are applied onto Event.
type CategorizationMapping struct {
	EventID    string   `json:"eventId"`
	CategoryID string   `json:"categoryId"`
	Explain    *string  `json:"explain,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// CategoryAssignment is a validated mapping ready to be written.
type CategoryAssignment struct {
	EventID    uuid.UUID
	CategoryID uuid.UUID
	Explain    *string
	Confidence *float64
	Model      string
}
