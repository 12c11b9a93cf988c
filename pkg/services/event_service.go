package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
)

const (
	maxPromptLength      = 2000
	maxDescriptionLength = 500
	maxPageSize          = 100

	// DefaultPageSize is used when a list request does not name one.
	DefaultPageSize = 20
)

// ManualEventInput is a user-entered event.
type ManualEventInput struct {
	EffectiveAt string          `json:"effective_at"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	// CategoryID is honoured on create only.
	CategoryID *uuid.UUID `json:"category_id,omitempty"`
}

// EventListItem is an event as shown in the history, with its signed amount.
type EventListItem struct {
	*models.Event
	SignedAmount decimal.Decimal `json:"signed_amount"`
}

// EventService records and edits events.
type EventService interface {
	// SubmitPrompt stores a free-text prompt and dispatches its extraction.
	SubmitPrompt(ctx context.Context, userID, prompt string) (*models.RawPrompt, error)
	GetRawPrompt(ctx context.Context, userID string, id uuid.UUID) (*models.RawPrompt, error)
	StoreManual(ctx context.Context, userID string, input ManualEventInput) (*models.Event, error)
	// Edit overwrites the user-editable fields. The category is left as it was.
	Edit(ctx context.Context, userID string, id uuid.UUID, input ManualEventInput) (*models.Event, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	List(ctx context.Context, userID string, paging models.Paging) (*models.PagedResult[EventListItem], error)
}

type eventService struct {
	eventRepo     repositories.EventRepository
	rawPromptRepo repositories.RawPromptRepository
	categoryRepo  repositories.CategoryRepository
	userRepo      repositories.UserRepository
	dispatcher    JobDispatcher
	logger        *zap.Logger
}

// NewEventService creates a new EventService.
func NewEventService(
	eventRepo repositories.EventRepository,
	rawPromptRepo repositories.RawPromptRepository,
	categoryRepo repositories.CategoryRepository,
	userRepo repositories.UserRepository,
	dispatcher JobDispatcher,
	logger *zap.Logger,
) EventService {
	return &eventService{
		eventRepo:     eventRepo,
		rawPromptRepo: rawPromptRepo,
		categoryRepo:  categoryRepo,
		userRepo:      userRepo,
		dispatcher:    dispatcher,
		logger:        logger.Named("events"),
	}
}

var _ EventService = (*eventService)(nil)

func (s *eventService) SubmitPrompt(ctx context.Context, userID, prompt string) (*models.RawPrompt, error) {
	prompt = strings.TrimSpace(prompt)
	switch n := utf8.RuneCountInString(prompt); {
	case n == 0:
		return nil, apperrors.NewValidationError("prompt", "Zadejte prosím text")
	case n > maxPromptLength:
		return nil, apperrors.NewValidationError("prompt", "Zpráva je příliš dlouhá")
	}

	if err := s.userRepo.Ensure(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	raw := &models.RawPrompt{UserID: userID, Prompt: prompt}
	if err := s.rawPromptRepo.Create(ctx, raw); err != nil {
		return nil, fmt.Errorf("store prompt: %w", err)
	}

	if err := s.dispatcher.DispatchExtraction(ctx, userID, raw.ID); err != nil {
		// Nothing will pick the prompt up, so close it out instead of leaving it new.
		msg := failureMessage(fmt.Errorf("dispatch extraction: %w", err))
		if markErr := s.rawPromptRepo.MarkFailed(ctx, userID, raw.ID, msg); markErr != nil {
			s.logger.Error("failed to mark undispatched prompt",
				zap.String("raw_prompt_id", raw.ID.String()),
				zap.Error(markErr))
		}
		return nil, fmt.Errorf("dispatch extraction: %w", err)
	}

	s.logger.Debug("prompt submitted",
		zap.String("user_id", userID),
		zap.String("raw_prompt_id", raw.ID.String()))
	return raw, nil
}

func (s *eventService) GetRawPrompt(ctx context.Context, userID string, id uuid.UUID) (*models.RawPrompt, error) {
	return s.rawPromptRepo.GetByID(ctx, userID, id)
}

func (s *eventService) StoreManual(ctx context.Context, userID string, input ManualEventInput) (*models.Event, error) {
	event, err := input.toEvent(userID, models.ManualCreateExplain)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.Ensure(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	if input.CategoryID != nil && *input.CategoryID != uuid.Nil {
		if _, err := s.categoryRepo.GetByID(ctx, userID, *input.CategoryID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.NewValidationError("category_id", "Kategorie neexistuje")
			}
			return nil, fmt.Errorf("load category: %w", err)
		}
		categoryID := *input.CategoryID
		event.CategoryID = &categoryID
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}
	return event, nil
}

func (s *eventService) Edit(ctx context.Context, userID string, id uuid.UUID, input ManualEventInput) (*models.Event, error) {
	edited, err := input.toEvent(userID, models.ManualEditExplain)
	if err != nil {
		return nil, err
	}

	existing, err := s.eventRepo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	edited.ID = existing.ID
	edited.RawPromptID = existing.RawPromptID
	edited.CategoryID = existing.CategoryID
	edited.AICategoryExplain = existing.AICategoryExplain
	edited.AICategoryConfidence = existing.AICategoryConfidence
	edited.AICategoryModel = existing.AICategoryModel
	edited.CreatedAt = existing.CreatedAt

	if err := s.eventRepo.UpdateManual(ctx, edited); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return edited, nil
}

func (s *eventService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := s.eventRepo.GetByID(ctx, userID, id); err != nil {
		return err
	}
	return s.eventRepo.SoftDelete(ctx, userID, id)
}

func (s *eventService) List(ctx context.Context, userID string, paging models.Paging) (*models.PagedResult[EventListItem], error) {
	if paging.PageSize == 0 {
		paging.PageSize = DefaultPageSize
	}
	verr := &apperrors.ValidationError{}
	if paging.Page < 0 {
		verr.Add("page", "must not be negative")
	}
	if paging.PageSize < 1 || paging.PageSize > maxPageSize {
		verr.Add("page_size", fmt.Sprintf("must be between 1 and %d", maxPageSize))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	events, total, err := s.eventRepo.List(ctx, userID, paging.PageSize, paging.Page*paging.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	items := make([]EventListItem, len(events))
	for i, e := range events {
		items[i] = EventListItem{Event: e, SignedAmount: e.SignedAmount()}
	}
	return models.NewPagedResult(paging, total, items), nil
}

// toEvent validates the input and builds a manual event marked with explain.
func (in ManualEventInput) toEvent(userID, explain string) (*models.Event, error) {
	verr := &apperrors.ValidationError{}

	effectiveAt, ok := ParseEventDate(in.EffectiveAt)
	if !ok {
		verr.Add("effective_at", "Neplatné datum/čas")
	}

	description := strings.TrimSpace(in.Description)
	switch n := utf8.RuneCountInString(description); {
	case n == 0:
		verr.Add("description", "Popis je povinný")
	case n > maxDescriptionLength:
		verr.Add("description", "Popis je příliš dlouhý")
	}

	eventType := models.EventType(strings.TrimSpace(in.Type))
	if !eventType.IsValid() {
		verr.Add("type", "Neplatný typ")
	}

	switch {
	case !in.Amount.IsPositive():
		verr.Add("amount", "Částka musí být kladná")
	case !models.HasAmountScale(in.Amount):
		verr.Add("amount", "Částka může mít nejvýše 2 desetinná místa")
	case in.Amount.GreaterThanOrEqual(models.MaxAmount):
		verr.Add("amount", "Částka je příliš vysoká")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if utf8.RuneCountInString(currency) != 3 {
		verr.Add("currency", "Měna musí mít 3 znaky")
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	confidence := 1.0
	model := models.ManualAIModel
	return &models.Event{
		UserID:       userID,
		EffectiveAt:  TruncateToUTCDay(effectiveAt),
		Description:  description,
		Type:         eventType,
		Amount:       in.Amount,
		Currency:     currency,
		AIExplain:    &explain,
		AIConfidence: &confidence,
		AIModel:      &model,
	}, nil
}
