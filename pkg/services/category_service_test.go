package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/locks"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

func newTestCategoryService() (CategoryService, *mockCategoryRepository, *mockUserRepository) {
	categories := newMockCategoryRepository()
	users := newMockUserRepository()
	return NewCategoryService(categories, users, locks.NewLocalLocker(), zap.NewNop()), categories, users
}

func TestCategoryService_Create(t *testing.T) {
	svc, repo, users := newTestCategoryService()
	parent := repo.add(testUserID, "Jídlo", nil)

	created, err := svc.Create(context.Background(), testUserID, CategoryInput{
		Title:            "  Restaurace ",
		ParentCategoryID: &parent.ID,
		Emoji:            strPtr(" "),
		Color:            strPtr("#ff0000"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Restaurace", created.Title)
	assert.Nil(t, created.Emoji)
	assert.Equal(t, "#ff0000", *created.Color)
	assert.Equal(t, parent.ID, *created.ParentCategoryID)
	assert.True(t, users.has(testUserID))

	stored, err := repo.GetByID(context.Background(), testUserID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Restaurace", stored.Title)
}

func TestCategoryService_Create_Validation(t *testing.T) {
	svc, repo, _ := newTestCategoryService()

	_, err := svc.Create(context.Background(), testUserID, CategoryInput{
		Title:       strings.Repeat("a", 121),
		Emoji:       strPtr("123456789"),
		Color:       strPtr(strings.Repeat("c", 33)),
		Description: strPtr(strings.Repeat("d", 501)),
	})
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, len(verr.Fields))
	for i, f := range verr.Fields {
		fields[i] = f.Field
	}
	assert.Equal(t, []string{"title", "emoji", "color", "description"}, fields)

	_, err = svc.Create(context.Background(), testUserID, CategoryInput{Title: "   "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	cats, _ := repo.List(context.Background(), testUserID)
	assert.Empty(t, cats)
}

func TestCategoryService_Create_UnknownParent(t *testing.T) {
	svc, repo, _ := newTestCategoryService()
	foreign := repo.add("someone-else", "Cizí", nil)

	_, err := svc.Create(context.Background(), testUserID, CategoryInput{Title: "X", ParentCategoryID: &foreign.ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCategoryService_Create_WaitsForUserLock(t *testing.T) {
	categories := newMockCategoryRepository()
	locker := locks.NewLocalLocker()
	svc := NewCategoryService(categories, newMockUserRepository(), locker, zap.NewNop())
	parent := categories.add(testUserID, "Jídlo", nil)

	unlock, err := locker.Lock(context.Background(), testUserID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Create(ctx, testUserID, CategoryInput{Title: "Restaurace", ParentCategoryID: &parent.ID})
	assert.ErrorIs(t, err, apperrors.ErrLocked)
	cats, _ := categories.List(context.Background(), testUserID)
	assert.Len(t, cats, 1, "nothing is written while the lock is held")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Create(context.Background(), testUserID, CategoryInput{Title: "Restaurace", ParentCategoryID: &parent.ID})
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("Create finished while the user lock was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Create did not proceed after the lock was released")
	}
}

func TestCategoryService_List_ResolvesInheritedDisplay(t *testing.T) {
	svc, repo, _ := newTestCategoryService()
	root := repo.add(testUserID, "A", nil)
	root.Emoji, root.Color = strPtr("🏠"), strPtr("#111111")
	mid := repo.add(testUserID, "B", &root.ID)
	mid.Color = strPtr("#222222")
	repo.add(testUserID, "C", &mid.ID)

	views, err := svc.List(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, views, 3)

	byTitle := map[string]*models.CategoryView{}
	for _, v := range views {
		byTitle[v.Title] = v
	}
	assert.Equal(t, "🏠", *byTitle["C"].InheritedEmoji)
	assert.Equal(t, "#222222", *byTitle["C"].InheritedColor)
	assert.Equal(t, "#111111", *byTitle["A"].InheritedColor)
}

func TestCategoryService_Update(t *testing.T) {
	svc, repo, _ := newTestCategoryService()
	a := repo.add(testUserID, "A", nil)
	b := repo.add(testUserID, "B", nil)
	b.Emoji = strPtr("🚗")

	updated, err := svc.Update(context.Background(), testUserID, b.ID, CategoryInput{Title: "B2", ParentCategoryID: &a.ID})
	require.NoError(t, err)

	assert.Equal(t, "B2", updated.Title)
	assert.Equal(t, a.ID, *updated.ParentCategoryID)
	// Full replace: omitted optional fields are cleared.
	assert.Nil(t, updated.Emoji)
}

func TestCategoryService_Update_RejectsCycles(t *testing.T) {
	svc, repo, _ := newTestCategoryService()
	a := repo.add(testUserID, "A", nil)
	b := repo.add(testUserID, "B", &a.ID)
	c := repo.add(testUserID, "C", &b.ID)

	_, err := svc.Update(context.Background(), testUserID, a.ID, CategoryInput{Title: "A", ParentCategoryID: &c.ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Update(context.Background(), testUserID, a.ID, CategoryInput{Title: "A", ParentCategoryID: &a.ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	stored, _ := repo.GetByID(context.Background(), testUserID, a.ID)
	assert.Nil(t, stored.ParentCategoryID)
}

func TestCategoryService_Update_NotFound(t *testing.T) {
	svc, _, _ := newTestCategoryService()

	_, err := svc.Update(context.Background(), testUserID, uuid.New(), CategoryInput{Title: "X"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCategoryService_Delete_ReparentsChildren(t *testing.T) {
	svc, repo, _ := newTestCategoryService()
	root := repo.add(testUserID, "Root", nil)
	mid := repo.add(testUserID, "Mid", &root.ID)
	leaf1 := repo.add(testUserID, "Leaf1", &mid.ID)
	leaf2 := repo.add(testUserID, "Leaf2", &mid.ID)

	require.NoError(t, svc.Delete(context.Background(), testUserID, mid.ID))

	require.Len(t, repo.deletions, 1)
	plan := repo.deletions[0]
	assert.Equal(t, testUserID, plan.UserID)
	assert.Equal(t, root.ID, *plan.NewParentID)
	assert.ElementsMatch(t, []uuid.UUID{leaf1.ID, leaf2.ID}, plan.ChildIDs)

	for _, id := range []uuid.UUID{leaf1.ID, leaf2.ID} {
		c, err := repo.GetByID(context.Background(), testUserID, id)
		require.NoError(t, err)
		assert.Equal(t, root.ID, *c.ParentCategoryID)
	}
	_, err := repo.GetByID(context.Background(), testUserID, mid.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCategoryService_Delete_RootPromotesChildren(t *testing.T) {
	svc, repo, _ := newTestCategoryService()
	root := repo.add(testUserID, "Root", nil)
	child := repo.add(testUserID, "Child", &root.ID)

	require.NoError(t, svc.Delete(context.Background(), testUserID, root.ID))

	c, err := repo.GetByID(context.Background(), testUserID, child.ID)
	require.NoError(t, err)
	assert.Nil(t, c.ParentCategoryID)
}

func TestCategoryService_Delete_NotFound(t *testing.T) {
	svc, repo, _ := newTestCategoryService()

	err := svc.Delete(context.Background(), testUserID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, repo.deletions)
}

func TestCategoryService_Reset(t *testing.T) {
	svc, repo, users := newTestCategoryService()
	old := repo.add(testUserID, "Stará", nil)

	created, err := svc.Reset(context.Background(), testUserID)
	require.NoError(t, err)

	assert.Equal(t, 61, created)
	assert.True(t, users.has(testUserID))
	_, err = repo.GetByID(context.Background(), testUserID, old.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	cats, err := repo.List(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Len(t, cats, 61)
	roots := 0
	for _, c := range cats {
		if c.ParentCategoryID == nil {
			roots++
		}
	}
	assert.Equal(t, 15, roots)
}
