//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/testhelpers"
)

// repoTestContext holds the shared database and a user scoped context for one test.
type repoTestContext struct {
	t      *testing.T
	ledger *testhelpers.LedgerDB
	userID string
	ctx    context.Context
}

// setupRepoTest provisions a fresh user and removes every row it owns when the test ends.
func setupRepoTest(t *testing.T) *repoTestContext {
	t.Helper()
	ledger := testhelpers.GetLedgerDB(t)
	userID := "user_" + uuid.NewString()

	tc := &repoTestContext{
		t:      t,
		ledger: ledger,
		userID: userID,
		ctx:    ledger.UserContext(t, userID),
	}
	t.Cleanup(func() { ledger.CleanupUser(t, userID) })

	require.NoError(t, NewUserRepository().Ensure(tc.ctx, userID))
	return tc
}

// createEvent inserts an expense event on the given day.
func (tc *repoTestContext) createEvent(day time.Time, description string, amount int64) *models.Event {
	tc.t.Helper()
	model := models.ManualAIModel
	e := &models.Event{
		UserID:      tc.userID,
		EffectiveAt: day,
		Description: description,
		Type:        models.EventTypeExpense,
		Amount:      decimal.NewFromInt(amount),
		Currency:    "CZK",
		AIModel:     &model,
	}
	require.NoError(tc.t, NewEventRepository().Create(tc.ctx, e))
	return e
}

// createCategory inserts a category under parent (nil for a root).
func (tc *repoTestContext) createCategory(title string, parent *uuid.UUID) *models.Category {
	tc.t.Helper()
	c := &models.Category{UserID: tc.userID, Title: title, ParentCategoryID: parent}
	require.NoError(tc.t, NewCategoryRepository().Create(tc.ctx, c))
	return c
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}
