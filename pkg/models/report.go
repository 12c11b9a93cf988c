package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MonthPeriod is the half-open UTC interval [From, To) covering one calendar month.
type MonthPeriod struct {
	Year  int       `json:"year"`
	Month int       `json:"month"`
	From  time.Time `json:"from_iso"`
	To    time.Time `json:"to_iso"`
}

// NewMonthPeriod returns the period for the given year and month (1-12).
// Out-of-range months are normalized the way time.Date does.
func NewMonthPeriod(year, month int) MonthPeriod {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return MonthPeriod{
		Year:  from.Year(),
		Month: int(from.Month()),
		From:  from,
		To:    from.AddDate(0, 1, 0),
	}
}

// Key returns the YYYY-MM label of the period.
func (p MonthPeriod) Key() string {
	return p.From.Format("2006-01")
}

// CategorySummaryRow is one category x currency aggregate for a month.
// CategoryID is nil for uncategorized events.
type CategorySummaryRow struct {
	CategoryID *uuid.UUID      `json:"category_id,omitempty"`
	Currency   string          `json:"currency"`
	Title      *string         `json:"title,omitempty"`
	Emoji      *string         `json:"emoji,omitempty"`
	Color      *string         `json:"color,omitempty"`
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
}

// CategorySummary is the per-category breakdown of one month.
type CategorySummary struct {
	Items  []*CategorySummaryRow `json:"items"`
	Period MonthPeriod           `json:"period"`
}

// DailySummaryRow holds income and expense totals for one day of a month.
type DailySummaryRow struct {
	Day     int             `json:"day"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// MonthlySummary is the day-by-day overview of one month.
type MonthlySummary struct {
	TotalIncome  decimal.Decimal          `json:"total_income"`
	TotalExpense decimal.Decimal          `json:"total_expense"`
	Daily        map[int]*DailySummaryRow `json:"daily"`
	Period       MonthPeriod              `json:"period"`
}

// AIResult wraps AI-generated content with the prompt that produced it.
type AIResult[T any] struct {
	AI      AIResultMeta `json:"ai"`
	Payload T            `json:"payload"`
}

// AIResultMeta describes how an AIResult was produced.
type AIResultMeta struct {
	GeneratedAt time.Time `json:"generated_at_iso"`
	Prompt      string    `json:"prompt"`
}

// UncategorizedKey identifies the trend series of events without a category.
const UncategorizedKey = "uncategorized"

// TrendPoint is one month of a category series. Diffs are against the previous
// month and zero for the first.
type TrendPoint struct {
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
	IncomeDiff  decimal.Decimal `json:"income_diff"`
	ExpenseDiff decimal.Decimal `json:"expense_diff"`
}

// TrendBounds holds an income and an expense extreme.
type TrendBounds struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// CategoryTrendSeries is one category's totals over the trend window.
type CategoryTrendSeries struct {
	Key        string       `json:"key"`
	CategoryID *uuid.UUID   `json:"category_id,omitempty"`
	Title      *string      `json:"title,omitempty"`
	Emoji      *string      `json:"emoji,omitempty"`
	Color      *string      `json:"color,omitempty"`
	Series     []TrendPoint `json:"series"`
	Min        TrendBounds  `json:"min"`
	Max        TrendBounds  `json:"max"`
}

// CategoryTrend is the per-category history over consecutive months, oldest first.
type CategoryTrend struct {
	Months     []MonthPeriod          `json:"months"`
	Categories []*CategoryTrendSeries `json:"categories"`
}
