package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
)

// passthroughUserContext stands in for a database-backed UserContextFunc.
func passthroughUserContext(ctx context.Context, _ string) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// mockEventRepository is a map-backed EventRepository.
type mockEventRepository struct {
	mu         sync.Mutex
	events     map[uuid.UUID]*models.Event
	categories *mockCategoryRepository

	listUncategorizedCalls int
	applyErr               error
}

func newMockEventRepository(categories *mockCategoryRepository) *mockEventRepository {
	return &mockEventRepository{events: make(map[uuid.UUID]*models.Event), categories: categories}
}

var _ repositories.EventRepository = (*mockEventRepository)(nil)

func (m *mockEventRepository) add(e *models.Event) *models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.events[e.ID] = e
	return e
}

func (m *mockEventRepository) get(id uuid.UUID) *models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

func (m *mockEventRepository) live(userID string) []*models.Event {
	var out []*models.Event
	for _, e := range m.events {
		if e.UserID == userID && e.DeletedAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveAt.Equal(out[j].EffectiveAt) {
			return out[i].EffectiveAt.After(out[j].EffectiveAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *mockEventRepository) Create(_ context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	m.add(event)
	return nil
}

func (m *mockEventRepository) GetByID(_ context.Context, userID string, id uuid.UUID) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.UserID != userID || e.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockEventRepository) UpdateManual(_ context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[event.ID]
	if !ok || e.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	categoryID := e.CategoryID
	cp := *event
	cp.CategoryID = categoryID
	cp.AICategoryExplain, cp.AICategoryConfidence, cp.AICategoryModel = e.AICategoryExplain, e.AICategoryConfidence, e.AICategoryModel
	m.events[event.ID] = &cp
	return nil
}

func (m *mockEventRepository) SoftDelete(_ context.Context, userID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.UserID != userID || e.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	now := time.Now()
	e.DeletedAt = &now
	return nil
}

func (m *mockEventRepository) List(_ context.Context, userID string, limit, offset int) ([]*models.Event, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.live(userID)
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (m *mockEventRepository) ListUncategorized(_ context.Context, userID string, exclude []uuid.UUID, limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listUncategorizedCalls++
	skip := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []*models.Event
	for _, e := range m.live(userID) {
		if e.CategoryID != nil || skip[e.ID] {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockEventRepository) ListInRange(_ context.Context, userID string, from, to time.Time) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Event
	for _, e := range m.live(userID) {
		if !e.EffectiveAt.Before(from) && e.EffectiveAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveAt.Before(out[j].EffectiveAt) })
	return out, nil
}

func (m *mockEventRepository) ClearCategorization(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.live(userID) {
		if e.CategoryID == nil && e.AICategoryModel == nil {
			continue
		}
		e.CategoryID, e.AICategoryExplain, e.AICategoryConfidence, e.AICategoryModel = nil, nil, nil, nil
		n++
	}
	return n, nil
}

func (m *mockEventRepository) ApplyCategorization(_ context.Context, userID string, a models.CategoryAssignment) (bool, error) {
	if m.applyErr != nil {
		return false, m.applyErr
	}
	if m.categories != nil {
		if _, err := m.categories.GetByID(context.Background(), userID, a.CategoryID); err != nil {
			return false, nil
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[a.EventID]
	if !ok || e.UserID != userID || e.DeletedAt != nil {
		return false, nil
	}
	categoryID := a.CategoryID
	model := a.Model
	e.CategoryID = &categoryID
	e.AICategoryExplain = a.Explain
	e.AICategoryConfidence = a.Confidence
	e.AICategoryModel = &model
	return true, nil
}

// mockCategoryRepository is a map-backed CategoryRepository.
type mockCategoryRepository struct {
	mu         sync.Mutex
	categories map[uuid.UUID]*models.Category
	deletions  []models.CategoryDeletion
	resets     int
}

func newMockCategoryRepository() *mockCategoryRepository {
	return &mockCategoryRepository{categories: make(map[uuid.UUID]*models.Category)}
}

var _ repositories.CategoryRepository = (*mockCategoryRepository)(nil)

func (m *mockCategoryRepository) add(userID, title string, parent *uuid.UUID) *models.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Category{ID: uuid.New(), UserID: userID, Title: title, ParentCategoryID: parent}
	m.categories[c.ID] = c
	return c
}

func (m *mockCategoryRepository) List(_ context.Context, userID string) ([]*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Category
	for _, c := range m.categories {
		if c.UserID == userID && c.DeletedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *mockCategoryRepository) GetByID(_ context.Context, userID string, id uuid.UUID) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok || c.UserID != userID || c.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCategoryRepository) Create(_ context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	cp := *category
	m.categories[category.ID] = &cp
	return nil
}

func (m *mockCategoryRepository) Update(_ context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[category.ID]
	if !ok || c.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	cp := *category
	m.categories[category.ID] = &cp
	return nil
}

func (m *mockCategoryRepository) ApplyDeletion(_ context.Context, d models.CategoryDeletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[d.CategoryID]
	if !ok || c.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	for _, id := range d.ChildIDs {
		if child, ok := m.categories[id]; ok {
			child.ParentCategoryID = d.NewParentID
		}
	}
	now := time.Now()
	c.DeletedAt = &now
	m.deletions = append(m.deletions, d)
	return nil
}

func (m *mockCategoryRepository) Reset(_ context.Context, userID string, seeds []*models.Category) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, c := range m.categories {
		if c.UserID == userID && c.DeletedAt == nil {
			c.DeletedAt = &now
		}
	}
	for _, s := range seeds {
		cp := *s
		m.categories[s.ID] = &cp
	}
	m.resets++
	return len(seeds), nil
}

// mockRawPromptRepository is a map-backed RawPromptRepository.
type mockRawPromptRepository struct {
	mu          sync.Mutex
	prompts     map[uuid.UUID]*models.RawPrompt
	events      []*models.Event
	completeErr error
	createErr   error
}

func newMockRawPromptRepository() *mockRawPromptRepository {
	return &mockRawPromptRepository{prompts: make(map[uuid.UUID]*models.RawPrompt)}
}

var _ repositories.RawPromptRepository = (*mockRawPromptRepository)(nil)

func (m *mockRawPromptRepository) add(userID, prompt string) *models.RawPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.RawPrompt{ID: uuid.New(), UserID: userID, Prompt: prompt, Status: models.RawPromptStatusNew}
	m.prompts[p.ID] = p
	return p
}

func (m *mockRawPromptRepository) get(id uuid.UUID) *models.RawPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[id]
}

func (m *mockRawPromptRepository) Create(_ context.Context, prompt *models.RawPrompt) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prompt.ID = uuid.New()
	prompt.Status = models.RawPromptStatusNew
	cp := *prompt
	m.prompts[prompt.ID] = &cp
	return nil
}

func (m *mockRawPromptRepository) GetByID(_ context.Context, userID string, id uuid.UUID) (*models.RawPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok || p.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRawPromptRepository) Complete(_ context.Context, prompt *models.RawPrompt, event *models.Event) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[prompt.ID]
	if !ok || p.Status != models.RawPromptStatusNew {
		return apperrors.ErrConflict
	}
	p.Status = models.RawPromptStatusDone
	event.ID = uuid.New()
	m.events = append(m.events, event)
	return nil
}

func (m *mockRawPromptRepository) MarkFailed(_ context.Context, userID string, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok || p.UserID != userID || p.Status != models.RawPromptStatusNew {
		return nil
	}
	p.Status = models.RawPromptStatusFailed
	p.Error = &message
	return nil
}

// mockUserRepository records provisioned users.
type mockUserRepository struct {
	mu        sync.Mutex
	users     map[string]bool
	ensureErr error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]bool)}
}

var _ repositories.UserRepository = (*mockUserRepository)(nil)

func (m *mockUserRepository) Ensure(_ context.Context, userID string) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = true
	return nil
}

func (m *mockUserRepository) GetByID(_ context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.users[userID] {
		return nil, apperrors.ErrNotFound
	}
	return &models.User{ID: userID}, nil
}

func (m *mockUserRepository) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID]
}

// mockReportRepository returns canned aggregates keyed by month.
type mockReportRepository struct {
	mu         sync.Mutex
	daily      map[string][]*models.DailySummaryRow
	categories map[string][]*models.CategorySummaryRow
	err        error
	calls      int
}

func newMockReportRepository() *mockReportRepository {
	return &mockReportRepository{
		daily:      make(map[string][]*models.DailySummaryRow),
		categories: make(map[string][]*models.CategorySummaryRow),
	}
}

var _ repositories.ReportRepository = (*mockReportRepository)(nil)

func (m *mockReportRepository) DailySummary(_ context.Context, _ string, period models.MonthPeriod) ([]*models.DailySummaryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.daily[period.Key()], nil
}

func (m *mockReportRepository) CategorySummary(_ context.Context, _ string, period models.MonthPeriod) ([]*models.CategorySummaryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.categories[period.Key()], nil
}

// mockDispatcher records dispatched jobs without running them.
type mockDispatcher struct {
	mu   sync.Mutex
	jobs []models.Job
	err  error
}

var _ JobDispatcher = (*mockDispatcher)(nil)

func (m *mockDispatcher) DispatchExtraction(_ context.Context, userID string, rawPromptID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, models.Job{Kind: models.JobKindExtraction, UserID: userID, RawPromptID: &rawPromptID})
	return nil
}

func (m *mockDispatcher) DispatchCategorization(_ context.Context, userID string, force bool) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, models.Job{Kind: models.JobKindCategorization, UserID: userID, Force: force})
	return nil
}

func (m *mockDispatcher) dispatched() []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Job(nil), m.jobs...)
}
