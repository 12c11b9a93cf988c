package services

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// DefaultTrendMonths is the trend window used when none is configured.
const DefaultTrendMonths = 6

// TrendWindow returns the n calendar months ending with now's UTC month, oldest first.
func TrendWindow(now time.Time, n int) []models.MonthPeriod {
	if n < 1 {
		n = DefaultTrendMonths
	}
	u := now.UTC()
	out := make([]models.MonthPeriod, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, models.NewMonthPeriod(u.Year(), int(u.Month())-i))
	}
	return out
}

// AggregateTrend folds per-month category summaries, ordered oldest first, into
// one series per category. Every series has a point for every month.
func AggregateTrend(months []*models.CategorySummary) *models.CategoryTrend {
	trend := &models.CategoryTrend{
		Months:     make([]models.MonthPeriod, len(months)),
		Categories: []*models.CategoryTrendSeries{},
	}
	for i, m := range months {
		trend.Months[i] = m.Period
	}
	if len(months) == 0 {
		return trend
	}

	byKey := make(map[string]*models.CategoryTrendSeries)
	var keys []string
	for _, m := range months {
		for _, row := range m.Items {
			key := trendKey(row.CategoryID)
			if _, ok := byKey[key]; ok {
				continue
			}
			s := &models.CategoryTrendSeries{Key: key, Series: make([]models.TrendPoint, len(months))}
			if row.CategoryID != nil {
				id := *row.CategoryID
				s.CategoryID = &id
			}
			byKey[key] = s
			keys = append(keys, key)
		}
	}

	for i, m := range months {
		for _, row := range m.Items {
			s := byKey[trendKey(row.CategoryID)]
			p := &s.Series[i]
			p.Income = p.Income.Add(row.Income)
			p.Expense = p.Expense.Add(row.Expense)
			// Iterating oldest to newest leaves the newest metadata in place.
			if nonEmpty(row.Title) != nil || nonEmpty(row.Emoji) != nil || nonEmpty(row.Color) != nil {
				s.Title, s.Emoji, s.Color = row.Title, row.Emoji, row.Color
			}
		}
	}

	for _, key := range keys {
		s := byKey[key]
		for i := range s.Series {
			p := &s.Series[i]
			if i > 0 {
				prev := s.Series[i-1]
				p.IncomeDiff = p.Income.Sub(prev.Income)
				p.ExpenseDiff = p.Expense.Sub(prev.Expense)
			}
			if i == 0 {
				s.Min = models.TrendBounds{Income: p.Income, Expense: p.Expense}
				s.Max = s.Min
				continue
			}
			s.Min.Income = decimal.Min(s.Min.Income, p.Income)
			s.Min.Expense = decimal.Min(s.Min.Expense, p.Expense)
			s.Max.Income = decimal.Max(s.Max.Income, p.Income)
			s.Max.Expense = decimal.Max(s.Max.Expense, p.Expense)
		}
		trend.Categories = append(trend.Categories, s)
	}

	last := len(months) - 1
	sort.SliceStable(trend.Categories, func(i, j int) bool {
		a, b := trend.Categories[i], trend.Categories[j]
		if c := a.Series[last].Expense.Cmp(b.Series[last].Expense); c != 0 {
			return c > 0
		}
		if ta, tb := deref(a.Title), deref(b.Title); ta != tb {
			return ta < tb
		}
		return a.Key < b.Key
	})
	return trend
}

func trendKey(id *uuid.UUID) string {
	if id == nil {
		return models.UncategorizedKey
	}
	return id.String()
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
