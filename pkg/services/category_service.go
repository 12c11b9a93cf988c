package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/locks"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services/hierarchy"
)

// Category field limits, in runes.
const (
	maxCategoryTitle       = 120
	maxCategoryEmoji       = 8
	maxCategoryColor       = 32
	maxCategoryDescription = 500
)

// CategoryInput is the caller-editable part of a category.
type CategoryInput struct {
	Title            string     `json:"title"`
	ParentCategoryID *uuid.UUID `json:"parent_category_id,omitempty"`
	Emoji            *string    `json:"emoji,omitempty"`
	Color            *string    `json:"color,omitempty"`
	Description      *string    `json:"description,omitempty"`
}

// CategoryService manages a user's category forest.
type CategoryService interface {
	// List returns every category with its display attributes resolved through its ancestors.
	List(ctx context.Context, userID string) ([]*models.CategoryView, error)
	Create(ctx context.Context, userID string, input CategoryInput) (*models.Category, error)
	// Update replaces every editable field of the category.
	Update(ctx context.Context, userID string, id uuid.UUID, input CategoryInput) (*models.Category, error)
	// Delete moves the direct children to the category's parent and unlinks its events.
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	// Reset replaces the forest with the default taxonomy. Returns the number of categories created.
	Reset(ctx context.Context, userID string) (int, error)
}

type categoryService struct {
	categoryRepo repositories.CategoryRepository
	userRepo     repositories.UserRepository
	locker       locks.UserLocker
	now          func() time.Time
	logger       *zap.Logger
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(
	categoryRepo repositories.CategoryRepository,
	userRepo repositories.UserRepository,
	locker locks.UserLocker,
	logger *zap.Logger,
) CategoryService {
	return &categoryService{
		categoryRepo: categoryRepo,
		userRepo:     userRepo,
		locker:       locker,
		now:          time.Now,
		logger:       logger.Named("categories"),
	}
}

var _ CategoryService = (*categoryService)(nil)

func (s *categoryService) List(ctx context.Context, userID string) ([]*models.CategoryView, error) {
	h, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return h.Views(), nil
}

func (s *categoryService) Create(ctx context.Context, userID string, input CategoryInput) (*models.Category, error) {
	input = input.normalized()
	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := s.userRepo.Ensure(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	category := &models.Category{ID: uuid.New(), UserID: userID}
	input.applyTo(category)

	// The parent check and insert share the lock with Delete so a child is
	// never attached to a parent that is being removed.
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if input.ParentCategoryID != nil {
		h, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !h.Exists(*input.ParentCategoryID) {
			return nil, apperrors.NewValidationError("parent_category_id", "Nadřazená kategorie neexistuje")
		}
	}

	if err := s.categoryRepo.Create(ctx, category); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

func (s *categoryService) Update(ctx context.Context, userID string, id uuid.UUID, input CategoryInput) (*models.Category, error) {
	input = input.normalized()
	if err := input.validate(); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	h, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing := h.Get(id)
	if existing == nil {
		return nil, fmt.Errorf("category %s: %w", id, apperrors.ErrNotFound)
	}
	if p := input.ParentCategoryID; p != nil {
		if !h.Exists(*p) {
			return nil, apperrors.NewValidationError("parent_category_id", "Nadřazená kategorie neexistuje")
		}
		if h.WouldCycle(id, *p) {
			return nil, apperrors.NewValidationError("parent_category_id", "Kategorie nemůže být sama sobě předkem")
		}
	}

	updated := *existing
	input.applyTo(&updated)
	if err := s.categoryRepo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	return &updated, nil
}

func (s *categoryService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	h, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	plan, err := h.DeletionPlan(id)
	if err != nil {
		return err
	}
	plan.UserID = userID

	if err := s.categoryRepo.ApplyDeletion(ctx, plan); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.logger.Info("category deleted",
		zap.String("user_id", userID),
		zap.String("category_id", id.String()),
		zap.Int("reparented", len(plan.ChildIDs)))
	return nil
}

func (s *categoryService) Reset(ctx context.Context, userID string) (int, error) {
	roots, err := hierarchy.DefaultTaxonomy()
	if err != nil {
		return 0, fmt.Errorf("load default taxonomy: %w", err)
	}
	if err := s.userRepo.Ensure(ctx, userID); err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	seeds := hierarchy.SeedOrder(roots, userID, s.now().UTC(), uuid.New)
	created, err := s.categoryRepo.Reset(ctx, userID, seeds)
	if err != nil {
		return 0, fmt.Errorf("reset categories: %w", err)
	}
	s.logger.Info("categories reset to defaults",
		zap.String("user_id", userID),
		zap.Int("created", created))
	return created, nil
}

func (s *categoryService) load(ctx context.Context, userID string) (*hierarchy.Hierarchy, error) {
	categories, err := s.categoryRepo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	return hierarchy.New(categories), nil
}

func (in CategoryInput) normalized() CategoryInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Emoji = trimOptional(in.Emoji)
	in.Color = trimOptional(in.Color)
	in.Description = trimOptional(in.Description)
	if in.ParentCategoryID != nil && *in.ParentCategoryID == uuid.Nil {
		in.ParentCategoryID = nil
	}
	return in
}

func (in CategoryInput) validate() error {
	verr := &apperrors.ValidationError{}
	switch n := utf8.RuneCountInString(in.Title); {
	case n == 0:
		verr.Add("title", "Název je povinný")
	case n > maxCategoryTitle:
		verr.Add("title", "Název je příliš dlouhý")
	}
	checkMax(verr, "emoji", in.Emoji, maxCategoryEmoji)
	checkMax(verr, "color", in.Color, maxCategoryColor)
	checkMax(verr, "description", in.Description, maxCategoryDescription)
	return verr.OrNil()
}

func (in CategoryInput) applyTo(c *models.Category) {
	c.Title = in.Title
	c.ParentCategoryID = in.ParentCategoryID
	c.Emoji = in.Emoji
	c.Color = in.Color
	c.Description = in.Description
}

func checkMax(verr *apperrors.ValidationError, field string, value *string, limit int) {
	if value != nil && utf8.RuneCountInString(*value) > limit {
		verr.Add(field, fmt.Sprintf("Maximálně %d znaků", limit))
	}
}

// trimOptional trims s and maps an empty result to nil.
func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
