package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/locks"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
)

// CategorizationPageSize is the number of events sent to the model per call.
const CategorizationPageSize = 10

const categorizationSystemMessage = "Jsi užitečný asistent, který vrací pouze čisté JSON výstupy bez dalšího textu."

// CategorizationResult summarizes one categorization pass.
type CategorizationResult struct {
	Pages        int   `json:"pages"`
	AICalls      int   `json:"ai_calls"`
	Applied      int   `json:"applied"`
	Rejected     int   `json:"rejected"`
	SkippedPages int   `json:"skipped_pages"`
	Cleared      int64 `json:"cleared,omitempty"`
}

// CategorizationService assigns categories to uncategorized events in model-sized pages.
type CategorizationService interface {
	CategorizationRunner

	// Trigger provisions the user and dispatches a categorization job. It
	// returns as soon as the job is handed off.
	Trigger(ctx context.Context, userID string, force bool) error
}

type categorizationService struct {
	eventRepo    repositories.EventRepository
	categoryRepo repositories.CategoryRepository
	userRepo     repositories.UserRepository
	llmClient    llm.LLMClient
	locker       locks.UserLocker
	dispatcher   JobDispatcher
	getUser      UserContextFunc
	logger       *zap.Logger
}

// NewCategorizationService creates a new CategorizationService.
func NewCategorizationService(
	eventRepo repositories.EventRepository,
	categoryRepo repositories.CategoryRepository,
	userRepo repositories.UserRepository,
	llmClient llm.LLMClient,
	locker locks.UserLocker,
	dispatcher JobDispatcher,
	getUser UserContextFunc,
	logger *zap.Logger,
) CategorizationService {
	return &categorizationService{
		eventRepo:    eventRepo,
		categoryRepo: categoryRepo,
		userRepo:     userRepo,
		llmClient:    llmClient,
		locker:       locker,
		dispatcher:   dispatcher,
		getUser:      getUser,
		logger:       logger.Named("categorization"),
	}
}

var _ CategorizationService = (*categorizationService)(nil)

func (s *categorizationService) Trigger(ctx context.Context, userID string, force bool) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewValidationError("user_id", "user is required")
	}
	if err := s.userRepo.Ensure(ctx, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if err := s.dispatcher.DispatchCategorization(ctx, userID, force); err != nil {
		return fmt.Errorf("dispatch categorization: %w", err)
	}
	return nil
}

func (s *categorizationService) Run(ctx context.Context, userID string, force bool) (*CategorizationResult, error) {
	result := &CategorizationResult{}
	err := withUserScope(ctx, s.getUser, userID, func(ctx context.Context) error {
		if force {
			cleared, err := s.clear(ctx, userID)
			if err != nil {
				return err
			}
			result.Cleared = cleared
		}

		var attempted []uuid.UUID
		for {
			n, err := s.runPage(ctx, userID, attempted, result)
			if err != nil {
				return err
			}
			attempted = append(attempted, n...)
			if len(n) < CategorizationPageSize {
				return nil
			}
		}
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *categorizationService) clear(ctx context.Context, userID string) (int64, error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cleared, err := s.eventRepo.ClearCategorization(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear categorization: %w", err)
	}
	s.logger.Info("cleared categorization before forced run",
		zap.String("user_id", userID),
		zap.Int64("events", cleared))
	return cleared, nil
}

// runPage categorizes one page under the user lock and returns the IDs it attempted.
// Holding the lock across the model call keeps the category set stable between
// validation and application.
func (s *categorizationService) runPage(ctx context.Context, userID string, exclude []uuid.UUID, result *CategorizationResult) ([]uuid.UUID, error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	page, err := s.eventRepo.ListUncategorized(ctx, userID, exclude, CategorizationPageSize)
	if err != nil {
		return nil, fmt.Errorf("load uncategorized events: %w", err)
	}
	if len(page) == 0 {
		return nil, nil
	}
	result.Pages++

	ids := make([]uuid.UUID, len(page))
	for i, e := range page {
		ids[i] = e.ID
	}

	categories, err := s.categoryRepo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	prompt, err := buildCategorizationPrompt(categories, page)
	if err != nil {
		return nil, err
	}

	callCtx := llm.WithUserID(ctx, userID)
	callCtx = llm.WithPurpose(callCtx, models.AIPurposeCategorization)
	callCtx = llm.WithContext(callCtx, map[string]any{"page": result.Pages, "events": len(page)})

	result.AICalls++
	resp, err := s.llmClient.GenerateResponse(callCtx, prompt, categorizationSystemMessage, 0, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("categorization call failed, skipping page",
			zap.String("user_id", userID),
			zap.Int("page", result.Pages),
			zap.Error(err))
		result.SkippedPages++
		return ids, nil
	}

	entries, err := llm.ParseJSONArray[mappingEntry](resp.Content)
	if err != nil {
		s.logger.Warn("unparseable categorization response, skipping page",
			zap.String("user_id", userID),
			zap.Int("page", result.Pages),
			zap.String("response", logging.Preview(resp.Content)),
			zap.Error(err))
		result.SkippedPages++
		return ids, nil
	}

	accepted, rejected := ValidateMappings(mappingEntries(entries).toMappings(), page, categories, s.llmClient.GetModel())
	result.Rejected += rejected
	if rejected > 0 {
		s.logger.Warn("rejected categorization mappings",
			zap.String("user_id", userID),
			zap.Int("page", result.Pages),
			zap.Int("rejected", rejected))
	}

	// One write per mapping; an earlier write is kept if a later one fails.
	for _, a := range accepted {
		ok, err := s.eventRepo.ApplyCategorization(ctx, userID, a)
		if err != nil {
			return nil, fmt.Errorf("apply categorization to event %s: %w", a.EventID, err)
		}
		if ok {
			result.Applied++
		} else {
			result.Rejected++
		}
	}
	return ids, nil
}

// ValidateMappings keeps the mappings whose event is on the page and whose
// category belongs to the user. Only the first mapping per event counts.
// Returns the accepted assignments and the number rejected.
func ValidateMappings(mappings []models.CategorizationMapping, page []*models.Event, categories []*models.Category, model string) ([]models.CategoryAssignment, int) {
	events := make(map[uuid.UUID]struct{}, len(page))
	for _, e := range page {
		events[e.ID] = struct{}{}
	}
	cats := make(map[uuid.UUID]struct{}, len(categories))
	for _, c := range categories {
		cats[c.ID] = struct{}{}
	}

	var accepted []models.CategoryAssignment
	seen := make(map[uuid.UUID]struct{})
	rejected := 0
	for _, m := range mappings {
		eventID, err := uuid.Parse(strings.TrimSpace(m.EventID))
		if err != nil {
			rejected++
			continue
		}
		categoryID, err := uuid.Parse(strings.TrimSpace(m.CategoryID))
		if err != nil {
			rejected++
			continue
		}
		if _, ok := events[eventID]; !ok {
			rejected++
			continue
		}
		if _, ok := cats[categoryID]; !ok {
			rejected++
			continue
		}
		if _, dup := seen[eventID]; dup {
			rejected++
			continue
		}
		seen[eventID] = struct{}{}

		accepted = append(accepted, models.CategoryAssignment{
			EventID:    eventID,
			CategoryID: categoryID,
			Explain:    boundedExplain(m.Explain),
			Confidence: ClampConfidencePtr(m.Confidence),
			Model:      model,
		})
	}
	return accepted, rejected
}

func boundedExplain(s *string) *string {
	if s == nil {
		return nil
	}
	explain := logging.TruncateRunes(strings.TrimSpace(*s), maxTextLength)
	if explain == "" {
		return nil
	}
	return &explain
}

// mappingEntry decodes one model mapping without failing the whole array on a
// stray type, e.g. a confidence sent as a string.
type mappingEntry struct {
	EventID    json.RawMessage `json:"eventId"`
	CategoryID json.RawMessage `json:"categoryId"`
	Explain    json.RawMessage `json:"explain"`
	Confidence json.RawMessage `json:"confidence"`
}

type mappingEntries []mappingEntry

func (entries mappingEntries) toMappings() []models.CategorizationMapping {
	out := make([]models.CategorizationMapping, 0, len(entries))
	for _, e := range entries {
		m := models.CategorizationMapping{
			EventID:    jsonutil.FlexibleStringValue(e.EventID),
			CategoryID: jsonutil.FlexibleStringValue(e.CategoryID),
		}
		if explain := jsonutil.FlexibleStringValue(e.Explain); explain != "" {
			m.Explain = &explain
		}
		if c, ok := jsonutil.FlexibleNumberValue(e.Confidence); ok {
			m.Confidence = &c
		}
		out = append(out, m)
	}
	return out
}

type categoryForAI struct {
	ID          string  `json:"id"`
	ParentID    *string `json:"parentId"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type eventForAI struct {
	ID          string  `json:"id"`
	DateISO     string  `json:"dateIso"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Type        string  `json:"type"`
}

func buildCategorizationPrompt(categories []*models.Category, page []*models.Event) (string, error) {
	cats := make([]categoryForAI, 0, len(categories))
	for _, c := range categories {
		item := categoryForAI{ID: c.ID.String(), Name: c.Title, Description: c.Description}
		if c.ParentCategoryID != nil {
			p := c.ParentCategoryID.String()
			item.ParentID = &p
		}
		cats = append(cats, item)
	}

	events := make([]eventForAI, 0, len(page))
	for _, e := range page {
		events = append(events, eventForAI{
			ID:          e.ID.String(),
			DateISO:     e.EffectiveAt.UTC().Format(time.RFC3339),
			Description: e.Description,
			Amount:      e.Amount.InexactFloat64(),
			Currency:    e.Currency,
			Type:        string(e.Type),
		})
	}

	catsJSON, err := json.Marshal(cats)
	if err != nil {
		return "", fmt.Errorf("marshal categories: %w", err)
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}

	return strings.Join([]string{
		"Úkol: Přiřaď každé transakci nejvhodnější a co nejkonkrétnější kategorii.",
		"",
		"Vstupy:",
		"1) Seznam kategorií (JSON):",
		string(catsJSON),
		"",
		"2) Seznam transakcí (JSON):",
		string(eventsJSON),
		"",
		"Instrukce:",
		"- Každé transakci vyber právě jednu kategorii, která se hodí nejlépe.",
		"- Vrať pouze čisté JSON pole objektů bez komentářů.",
		"- Každý objekt má klíče eventId, categoryId, explain (krátké zdůvodnění) a confidence (0..1).",
		"",
		"Příklad výstupu (pouze struktura):",
		`[{"eventId":"<event_id>","categoryId":"<category_id>","explain":"...","confidence":0.9}]`,
	}, "\n"), nil
}
