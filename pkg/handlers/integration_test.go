//go:build integration

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
	"github.com/ekaya-inc/ekaya-ledger/pkg/llm"
	"github.com/ekaya-inc/ekaya-ledger/pkg/locks"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/repositories"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-ledger/pkg/testhelpers"
)

const integrationUserID = "integration-user"

type ledgerServer struct {
	server *httptest.Server
	queue  *workqueue.Queue
	llm    *llm.MockLLMClient
	token  string
}

func newLedgerServer(t *testing.T) *ledgerServer {
	t.Helper()
	ledger := testhelpers.GetLedgerDB(t)
	ledger.CleanupUser(t, integrationUserID)
	t.Cleanup(func() { ledger.CleanupUser(t, integrationUserID) })

	logger := zap.NewNop()
	jwks, err := auth.NewJWKSClient(context.Background(), &auth.JWKSConfig{EnableVerification: false})
	require.NoError(t, err)
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwks, logger), logger)

	eventRepo := repositories.NewEventRepository()
	rawPromptRepo := repositories.NewRawPromptRepository()
	categoryRepo := repositories.NewCategoryRepository()
	userRepo := repositories.NewUserRepository()
	getUser := services.NewUserContextFunc(ledger.DB)
	locker := locks.NewLocalLocker()

	client := llm.NewMockLLMClient()
	client.Model = "gpt-4o"
	client.GenerateResponseFunc = scriptedModel

	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewKeyedStrategy(2)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	})
	local := services.NewLocalDispatcher(queue, logger)

	categorization := services.NewCategorizationService(eventRepo, categoryRepo, userRepo, client, locker, local, getUser, logger)
	local.SetWorkers(services.NewExtractionService(rawPromptRepo, client, getUser, logger), categorization)

	mux := http.NewServeMux()
	userMiddleware := UserMiddleware(database.WithUserContext(ledger.DB, logger))
	NewEventHandler(services.NewEventService(eventRepo, rawPromptRepo, categoryRepo, userRepo, local, logger), logger).
		RegisterRoutes(mux, authMiddleware, userMiddleware)
	NewCategoryHandler(services.NewCategoryService(categoryRepo, userRepo, locker, logger), logger).
		RegisterRoutes(mux, authMiddleware, userMiddleware)
	NewCategorizationHandler(categorization, logger).RegisterRoutes(mux, authMiddleware, userMiddleware)
	NewReportHandler(services.NewReportService(repositories.NewReportRepository(), eventRepo, client, getUser, 3, logger), logger).
		RegisterRoutes(mux, authMiddleware, userMiddleware)
	NewJobsHandler(local, logger).RegisterRoutes(mux, authMiddleware)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &ledgerServer{
		server: server,
		queue:  queue,
		llm:    client,
		token:  testhelpers.GenerateTestJWTWithBearer(integrationUserID, "ledger@example.com"),
	}
}

// scriptedModel answers extraction prompts with a fixed coffee expense and
// categorization prompts by mapping every event to the "Káva" category.
func scriptedModel(_ context.Context, prompt, _ string, _ float64, _ bool) (*llm.GenerateResponseResult, error) {
	if !strings.Contains(prompt, "2) Seznam transakcí (JSON):") {
		return &llm.GenerateResponseResult{
			Content: `{"type":"expense","date":"2026-05-04","description":"Káva","amount":"45.50","currency":"czk","explain":"kafe","confidence":0.9}`,
		}, nil
	}

	var categories []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	var events []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(lineAfter(prompt, "1) Seznam kategorií (JSON):")), &categories); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lineAfter(prompt, "2) Seznam transakcí (JSON):")), &events); err != nil {
		return nil, err
	}

	coffee := ""
	for _, c := range categories {
		if c.Name == "Káva" {
			coffee = c.ID
		}
	}
	mappings := make([]string, 0, len(events))
	for _, e := range events {
		mappings = append(mappings, fmt.Sprintf(`{"eventId":%q,"categoryId":%q,"explain":"káva","confidence":0.8}`, e.ID, coffee))
	}
	return &llm.GenerateResponseResult{Content: "```json\n[" + strings.Join(mappings, ",") + "]\n```"}, nil
}

func lineAfter(text, header string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l == header && i+1 < len(lines) {
			return lines[i+1]
		}
	}
	return ""
}

func (s *ledgerServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", s.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (s *ledgerServer) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.queue.Wait(ctx))
}

func data[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))
	return resp.Data
}

func TestLedger_PromptToCategorizedReport(t *testing.T) {
	s := newLedgerServer(t)

	status, raw := s.do(t, http.MethodPost, "/api/categories/reset", "")
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.Equal(t, 61, data[ResetCategoriesResponse](t, raw).Created)

	status, raw = s.do(t, http.MethodPost, "/api/events/prompt", `{"prompt":"45,50 kafe v pondělí"}`)
	require.Equal(t, http.StatusAccepted, status, string(raw))
	prompt := data[models.RawPrompt](t, raw)
	s.drain(t)

	status, raw = s.do(t, http.MethodGet, "/api/raw-prompts/"+prompt.ID.String(), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RawPromptStatusDone, data[models.RawPrompt](t, raw).Status)

	status, raw = s.do(t, http.MethodPost, "/api/categorize", "")
	require.Equal(t, http.StatusAccepted, status, string(raw))
	s.drain(t)

	status, raw = s.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, status)
	page := data[models.PagedResult[services.EventListItem]](t, raw)
	require.Len(t, page.Payload, 1)
	event := page.Payload[0]
	assert.Equal(t, "Káva", event.Description)
	assert.Equal(t, "CZK", event.Currency)
	assert.Equal(t, "-45.5", event.SignedAmount.String())
	require.NotNil(t, event.CategoryID)
	require.NotNil(t, event.AICategoryModel)
	assert.Equal(t, "gpt-4o", *event.AICategoryModel)

	status, raw = s.do(t, http.MethodGet, "/api/reports/monthly?year=2026&month=5", "")
	require.Equal(t, http.StatusOK, status)
	summary := data[models.MonthlySummary](t, raw)
	assert.Equal(t, "45.5", summary.TotalExpense.String())

	status, raw = s.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, data[JobsResponse](t, raw).Tasks, 2)
}

func TestLedger_RequiresToken(t *testing.T) {
	s := newLedgerServer(t)
	s.token = ""

	status, _ := s.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLedger_ManualEventValidation(t *testing.T) {
	s := newLedgerServer(t)

	status, raw := s.do(t, http.MethodPost, "/api/events",
		`{"effective_at":"zítra","description":"","type":"expense","amount":"10","currency":"CZK"}`)
	require.Equal(t, http.StatusBadRequest, status)

	var body ValidationErrorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	fields := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"effective_at", "description"}, fields)
	assert.Zero(t, s.llm.CallCount())
}
