package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
)

const (
	tipSystemMessage = "Jsi užitečný finanční poradce, který dává praktické a srozumitelné rady."
	tipTemperature   = 0.7
)

// ReportService provides the monthly views and the AI tip.
type ReportService interface {
	MonthlySummary(ctx context.Context, userID string, year, month int) (*models.MonthlySummary, error)
	CategorySummary(ctx context.Context, userID string, year, month int) (*models.CategorySummary, error)
	// CategoryTrend covers the configured number of months ending with the current one.
	CategoryTrend(ctx context.Context, userID string) (*models.CategoryTrend, error)
	MonthlyTip(ctx context.Context, userID string, year, month int) (*models.AIResult[string], error)
}

type reportService struct {
	reportRepo  repositories.ReportRepository
	eventRepo   repositories.EventRepository
	llmClient   llm.LLMClient
	getUser     UserContextFunc
	trendMonths int
	now         func() time.Time
	logger      *zap.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(
	reportRepo repositories.ReportRepository,
	eventRepo repositories.EventRepository,
	llmClient llm.LLMClient,
	getUser UserContextFunc,
	trendMonths int,
	logger *zap.Logger,
) ReportService {
	if trendMonths < 1 {
		trendMonths = DefaultTrendMonths
	}
	return &reportService{
		reportRepo:  reportRepo,
		eventRepo:   eventRepo,
		llmClient:   llmClient,
		getUser:     getUser,
		trendMonths: trendMonths,
		now:         time.Now,
		logger:      logger.Named("reports"),
	}
}

var _ ReportService = (*reportService)(nil)

func validatePeriod(year, month int) (models.MonthPeriod, error) {
	verr := &apperrors.ValidationError{}
	if year < 1970 || year > 9999 {
		verr.Add("year", "must be between 1970 and 9999")
	}
	if month < 1 || month > 12 {
		verr.Add("month", "must be between 1 and 12")
	}
	if err := verr.OrNil(); err != nil {
		return models.MonthPeriod{}, err
	}
	return models.NewMonthPeriod(year, month), nil
}

func (s *reportService) MonthlySummary(ctx context.Context, userID string, year, month int) (*models.MonthlySummary, error) {
	period, err := validatePeriod(year, month)
	if err != nil {
		return nil, err
	}

	rows, err := s.reportRepo.DailySummary(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("daily summary: %w", err)
	}

	summary := &models.MonthlySummary{
		Daily:  make(map[int]*models.DailySummaryRow, len(rows)),
		Period: period,
	}
	for _, row := range rows {
		if row.Day < 1 {
			continue
		}
		summary.Daily[row.Day] = row
		summary.TotalIncome = summary.TotalIncome.Add(row.Income)
		summary.TotalExpense = summary.TotalExpense.Add(row.Expense)
	}
	return summary, nil
}

func (s *reportService) CategorySummary(ctx context.Context, userID string, year, month int) (*models.CategorySummary, error) {
	period, err := validatePeriod(year, month)
	if err != nil {
		return nil, err
	}
	rows, err := s.reportRepo.CategorySummary(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("category summary: %w", err)
	}
	return &models.CategorySummary{Items: rows, Period: period}, nil
}

func (s *reportService) CategoryTrend(ctx context.Context, userID string) (*models.CategoryTrend, error) {
	window := TrendWindow(s.now(), s.trendMonths)
	months := make([]*models.CategorySummary, len(window))

	// Each month runs on its own scoped connection; a pgx connection is not
	// safe for concurrent queries.
	g, gctx := errgroup.WithContext(ctx)
	for i, period := range window {
		g.Go(func() error {
			monthCtx, cleanup, err := s.getUser(gctx, userID)
			if err != nil {
				return err
			}
			defer cleanup()

			rows, err := s.reportRepo.CategorySummary(monthCtx, userID, period)
			if err != nil {
				return fmt.Errorf("category summary %s: %w", period.Key(), err)
			}
			months[i] = &models.CategorySummary{Items: rows, Period: period}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return AggregateTrend(months), nil
}

func (s *reportService) MonthlyTip(ctx context.Context, userID string, year, month int) (*models.AIResult[string], error) {
	period, err := validatePeriod(year, month)
	if err != nil {
		return nil, err
	}

	events, err := s.eventRepo.ListInRange(ctx, userID, period.From, period.To)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	prompt := strings.Join([]string{
		"Dej mi měsíční finanční radu a tip na základě následujících transakcí za tento měsíc.",
		"Buď konkrétní, ale stručný (maximálně 3 odstavce).",
		"Nepřepisuj transakce, jen z nich vycházej.",
		"Odpověz česky.",
		"",
		EventContextBlock(events, "Transakce "+period.Key()),
	}, "\n")

	callCtx := llm.WithUserID(ctx, userID)
	callCtx = llm.WithPurpose(callCtx, models.AIPurposeMonthlyTip)
	callCtx = llm.WithContext(callCtx, map[string]any{"period": period.Key(), "events": len(events)})

	resp, err := s.llmClient.GenerateResponse(callCtx, prompt, tipSystemMessage, tipTemperature, false)
	if err != nil {
		return nil, fmt.Errorf("monthly tip: %w", err)
	}

	return &models.AIResult[string]{
		AI:      models.AIResultMeta{GeneratedAt: s.now().UTC(), Prompt: prompt},
		Payload: strings.TrimSpace(resp.Content),
	}, nil
}

// EventContextLine renders one event as a markdown list item,
// e.g. "- 2025-09-07 • Káva • -4.50 CZK".
func EventContextLine(e *models.Event) string {
	line := fmt.Sprintf("- %s • %s • %s %s",
		e.EffectiveAt.UTC().Format("2006-01-02"), e.Description, e.SignedAmount().StringFixed(2), e.Currency)
	return strings.TrimSpace(line)
}

// EventContextBlock renders events under a markdown heading.
func EventContextBlock(events []*models.Event, title string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(EventContextLine(e))
	}
	return strings.TrimSpace(b.String())
}
