package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// ReportRepository aggregates events for the reporting views.
type ReportRepository interface {
	// DailySummary sums income and expense per day of the month, across currencies.
	DailySummary(ctx context.Context, userID string, period models.MonthPeriod) ([]*models.DailySummaryRow, error)
	// CategorySummary sums income and expense per category and currency, expense descending.
	CategorySummary(ctx context.Context, userID string, period models.MonthPeriod) ([]*models.CategorySummaryRow, error)
}

type reportRepository struct{}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository() ReportRepository {
	return &reportRepository{}
}

var _ ReportRepository = (*reportRepository)(nil)

func (r *reportRepository) DailySummary(ctx context.Context, userID string, period models.MonthPeriod) ([]*models.DailySummaryRow, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT EXTRACT(DAY FROM effective_at AT TIME ZONE 'UTC')::int AS day,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0) AS income,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0) AS expense
		FROM event
		WHERE user_id = $1 AND deleted_at IS NULL
		  AND effective_at >= $2 AND effective_at < $3
		GROUP BY day
		ORDER BY day`,
		userID, period.From, period.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summary: %w", err)
	}
	defer rows.Close()

	result := make([]*models.DailySummaryRow, 0)
	for rows.Next() {
		var row models.DailySummaryRow
		if err := rows.Scan(&row.Day, &row.Income, &row.Expense); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily summary: %w", err)
	}
	return result, nil
}

func (r *reportRepository) CategorySummary(ctx context.Context, userID string, period models.MonthPeriod) ([]*models.CategorySummaryRow, error) {
	scope, err := userScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT e.category_id, e.currency, c.title, c.emoji, c.color,
		       COALESCE(SUM(e.amount) FILTER (WHERE e.type = 'income'), 0) AS income,
		       COALESCE(SUM(e.amount) FILTER (WHERE e.type = 'expense'), 0) AS expense
		FROM event e
		LEFT JOIN category c ON c.id = e.category_id
		WHERE e.user_id = $1 AND e.deleted_at IS NULL
		  AND e.effective_at >= $2 AND e.effective_at < $3
		GROUP BY e.category_id, e.currency, c.title, c.emoji, c.color
		ORDER BY expense DESC, c.title ASC NULLS LAST, e.currency ASC`,
		userID, period.From, period.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query category summary: %w", err)
	}
	defer rows.Close()

	result := make([]*models.CategorySummaryRow, 0)
	for rows.Next() {
		var row models.CategorySummaryRow
		if err := rows.Scan(&row.CategoryID, &row.Currency, &row.Title, &row.Emoji, &row.Color,
			&row.Income, &row.Expense); err != nil {
			return nil, fmt.Errorf("failed to scan category summary: %w", err)
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category summary: %w", err)
	}
	return result, nil
}
