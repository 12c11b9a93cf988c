package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
)

const (
	// maxFailureLength bounds the error message stored on a failed raw prompt.
	maxFailureLength = 500
	unknownFailure   = "unknown error"

	failureWriteTimeout = 10 * time.Second

	extractionModelVersion = "v1"
)

// ExtractionService turns one raw prompt into one event through a single model call.
type ExtractionService interface {
	// Process extracts the event for a raw prompt that is still new. Prompts in a
	// terminal status are skipped, so redelivered jobs are harmless. Extraction
	// failures are recorded on the prompt and are not returned; only errors that
	// prevent recording the outcome are.
	Process(ctx context.Context, userID string, rawPromptID uuid.UUID) error
}

type extractionService struct {
	rawPromptRepo repositories.RawPromptRepository
	llmClient     llm.LLMClient
	getUser       UserContextFunc
	now           func() time.Time
	logger        *zap.Logger
}

// NewExtractionService creates a new ExtractionService.
func NewExtractionService(
	rawPromptRepo repositories.RawPromptRepository,
	llmClient llm.LLMClient,
	getUser UserContextFunc,
	logger *zap.Logger,
) ExtractionService {
	return &extractionService{
		rawPromptRepo: rawPromptRepo,
		llmClient:     llmClient,
		getUser:       getUser,
		now:           time.Now,
		logger:        logger.Named("extraction"),
	}
}

var _ ExtractionService = (*extractionService)(nil)

func (s *extractionService) Process(ctx context.Context, userID string, rawPromptID uuid.UUID) error {
	return withUserScope(ctx, s.getUser, userID, func(ctx context.Context) error {
		prompt, err := s.rawPromptRepo.GetByID(ctx, userID, rawPromptID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				s.logger.Warn("raw prompt not found, nothing to extract",
					zap.String("user_id", userID),
					zap.String("raw_prompt_id", rawPromptID.String()))
				return nil
			}
			return fmt.Errorf("load raw prompt: %w", err)
		}

		if prompt.Status != models.RawPromptStatusNew {
			s.logger.Debug("raw prompt already processed",
				zap.String("raw_prompt_id", rawPromptID.String()),
				zap.String("status", string(prompt.Status)))
			return nil
		}

		event, err := s.extract(ctx, prompt)
		if err == nil {
			err = s.rawPromptRepo.Complete(ctx, prompt, event)
			if errors.Is(err, apperrors.ErrConflict) {
				// Another worker finished it first.
				return nil
			}
		}
		if err != nil {
			return s.fail(ctx, prompt, err)
		}

		s.logger.Info("event extracted",
			zap.String("user_id", userID),
			zap.String("raw_prompt_id", rawPromptID.String()),
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.Type)))
		return nil
	})
}

// extract makes the model call and builds the event. Nothing is written here.
func (s *extractionService) extract(ctx context.Context, prompt *models.RawPrompt) (*models.Event, error) {
	now := s.now().UTC()

	ctx = llm.WithUserID(ctx, prompt.UserID)
	ctx = llm.WithPurpose(ctx, models.AIPurposeExtraction)
	ctx = llm.WithContext(ctx, map[string]any{"raw_prompt_id": prompt.ID.String()})

	result, err := s.llmClient.GenerateResponse(ctx, prompt.Prompt, extractionSystemMessage(now), 0, true)
	if err != nil {
		return nil, err
	}

	raw, err := llm.ParseJSONResponse[ExtractionResponse](result.Content)
	if err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	normalized := NormalizeExtraction(raw, now)
	if normalized.Err != nil {
		return nil, normalized.Err
	}
	n := normalized.Event

	model := fmt.Sprintf("%s@%s", s.llmClient.GetModel(), extractionModelVersion)
	return &models.Event{
		UserID:       prompt.UserID,
		RawPromptID:  &prompt.ID,
		EffectiveAt:  n.EffectiveAt,
		Description:  n.Description,
		Type:         n.Type,
		Amount:       n.Amount,
		Currency:     n.Currency,
		AIExplain:    &n.Explain,
		AIConfidence: n.Confidence,
		AIModel:      &model,
	}, nil
}

// fail records cause on the prompt. Only a failure to record is returned.
func (s *extractionService) fail(ctx context.Context, prompt *models.RawPrompt, cause error) error {
	message := failureMessage(cause)
	s.logger.Warn("extraction failed",
		zap.String("user_id", prompt.UserID),
		zap.String("raw_prompt_id", prompt.ID.String()),
		zap.Error(cause))

	// The outcome is recorded even when ctx was cancelled mid-call.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := s.rawPromptRepo.MarkFailed(writeCtx, prompt.UserID, prompt.ID, message); err != nil {
		return fmt.Errorf("mark raw prompt failed: %w", err)
	}
	return nil
}

func failureMessage(err error) string {
	msg := strings.TrimSpace(logging.SanitizeError(err))
	if msg == "" {
		return unknownFailure
	}
	return logging.TruncateRunes(msg, maxFailureLength)
}

func extractionSystemMessage(now time.Time) string {
	ts := now.UTC().Format(time.RFC1123)
	return strings.Join([]string{
		"Jsi API, které z krátkého textu extrahuje informace o jednom výdaji nebo příjmu.",
		"Každý dotaz popisuje právě jeden příjem nebo výdaj.",
		"Uživatel zadá krátký text nebo zkratku. Extrahuj typ, datum, popis, částku a měnu.",
		"Pokud není jasné, zda jde o výdaj nebo příjem, předpokládej výdaj.",
		"Pokud není uvedena měna, předpokládej CZK.",
		"Teď je " + ts + ". Relativní data (dnes, včera) počítej od tohoto okamžiku.",
		"Výstup je plochý JSON objekt vždy se všemi těmito klíči:",
		"type: 'income' (příjem) nebo 'expense' (výdaj);",
		"date: datum, kdy k události došlo, ve formátu YYYY-MM-DD, nebo null, pokud není jasné;",
		"description: stručný popis v češtině, za co je výdaj nebo z čeho je příjem;",
		"amount: vždy kladné nenulové číslo;",
		"currency: kód měny ISO 4217 (např. CZK);",
		"explain: velmi stručné vysvětlení, jak jsi hodnoty odvodil;",
		"confidence: číslo 0 až 1 vyjadřující tvou jistotu (0 = hádám, 1 = jsem si zcela jistý).",
	}, " ")
}
