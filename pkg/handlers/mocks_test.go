package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
)

const testUserID = "user-1"

// withUser attaches claims for testUserID, as auth.Middleware would.
func withUser(r *http.Request) *http.Request {
	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: testUserID}}
	return r.WithContext(auth.WithClaims(r.Context(), claims, "token"))
}

// stubAuthService accepts requests carrying the "Bearer ok" header.
type stubAuthService struct{}

func (stubAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if r.Header.Get("Authorization") != "Bearer ok" {
		return nil, "", errors.New("missing token")
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: testUserID}}, "ok", nil
}

// passthroughUser stands in for the database scope middleware.
func passthroughUser(next http.HandlerFunc) http.HandlerFunc { return next }

type mockEventService struct {
	submitted string
	manual    services.ManualEventInput
	editedID  uuid.UUID
	deletedID uuid.UUID
	paging    models.Paging
	raw       *models.RawPrompt
	event     *models.Event
	page      *models.PagedResult[services.EventListItem]
	err       error
}

func (m *mockEventService) SubmitPrompt(_ context.Context, _ string, prompt string) (*models.RawPrompt, error) {
	m.submitted = prompt
	if m.err != nil {
		return nil, m.err
	}
	return m.raw, nil
}

func (m *mockEventService) GetRawPrompt(_ context.Context, _ string, _ uuid.UUID) (*models.RawPrompt, error) {
	return m.raw, m.err
}

func (m *mockEventService) StoreManual(_ context.Context, _ string, input services.ManualEventInput) (*models.Event, error) {
	m.manual = input
	return m.event, m.err
}

func (m *mockEventService) Edit(_ context.Context, _ string, id uuid.UUID, input services.ManualEventInput) (*models.Event, error) {
	m.editedID = id
	m.manual = input
	return m.event, m.err
}

func (m *mockEventService) Delete(_ context.Context, _ string, id uuid.UUID) error {
	m.deletedID = id
	return m.err
}

func (m *mockEventService) List(_ context.Context, _ string, paging models.Paging) (*models.PagedResult[services.EventListItem], error) {
	m.paging = paging
	return m.page, m.err
}

type mockCategoryService struct {
	input   services.CategoryInput
	views   []*models.CategoryView
	created int
	err     error
}

func (m *mockCategoryService) List(context.Context, string) ([]*models.CategoryView, error) {
	return m.views, m.err
}

func (m *mockCategoryService) Create(_ context.Context, userID string, input services.CategoryInput) (*models.Category, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return &models.Category{ID: uuid.New(), UserID: userID, Title: input.Title}, nil
}

func (m *mockCategoryService) Update(_ context.Context, userID string, id uuid.UUID, input services.CategoryInput) (*models.Category, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return &models.Category{ID: id, UserID: userID, Title: input.Title}, nil
}

func (m *mockCategoryService) Delete(context.Context, string, uuid.UUID) error {
	return m.err
}

func (m *mockCategoryService) Reset(context.Context, string) (int, error) {
	return m.created, m.err
}

type mockCategorizationService struct {
	triggered bool
	force     bool
	err       error
}

func (m *mockCategorizationService) Run(context.Context, string, bool) (*services.CategorizationResult, error) {
	return &services.CategorizationResult{}, nil
}

func (m *mockCategorizationService) Trigger(_ context.Context, _ string, force bool) error {
	m.triggered, m.force = true, force
	return m.err
}

type mockReportService struct {
	year, month int
	tip         *models.AIResult[string]
	err         error
}

func (m *mockReportService) MonthlySummary(_ context.Context, _ string, year, month int) (*models.MonthlySummary, error) {
	m.year, m.month = year, month
	return &models.MonthlySummary{}, m.err
}

func (m *mockReportService) CategorySummary(_ context.Context, _ string, year, month int) (*models.CategorySummary, error) {
	m.year, m.month = year, month
	return &models.CategorySummary{Items: []*models.CategorySummaryRow{}}, m.err
}

func (m *mockReportService) CategoryTrend(context.Context, string) (*models.CategoryTrend, error) {
	return &models.CategoryTrend{}, m.err
}

func (m *mockReportService) MonthlyTip(_ context.Context, _ string, year, month int) (*models.AIResult[string], error) {
	m.year, m.month = year, month
	return m.tip, m.err
}

type stubTaskLister struct {
	byUser map[string][]workqueue.TaskSnapshot
}

func (s stubTaskLister) Tasks(userID string) []workqueue.TaskSnapshot {
	return s.byUser[userID]
}
