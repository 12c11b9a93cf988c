package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// mockAuthService is a mock implementation of AuthService for testing.
type mockAuthService struct {
	claims      *Claims
	token       string
	validateErr error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func TestMiddleware_RequireAuth_Success(t *testing.T) {
	claims := &Claims{Email: "jana@example.com"}
	claims.Subject = "user-123"
	middleware := NewMiddleware(&mockAuthService{claims: claims, token: "test-token"}, zap.NewNop())

	var ctxUserID, ctxToken string
	handler := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		ctxUserID = GetUserIDFromContext(r.Context())
		ctxToken, _ = GetToken(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ctxUserID != "user-123" {
		t.Errorf("expected user 'user-123' in context, got %q", ctxUserID)
	}
	if ctxToken != "test-token" {
		t.Errorf("expected token 'test-token' in context, got %q", ctxToken)
	}
}

func TestMiddleware_RequireAuth_Unauthorized(t *testing.T) {
	middleware := NewMiddleware(&mockAuthService{validateErr: ErrMissingAuthorization}, zap.NewNop())

	handler := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["error"] != "unauthorized" {
		t.Errorf("expected error 'unauthorized', got %q", body["error"])
	}
}

func TestMiddleware_RequireAuth_BlankSubject(t *testing.T) {
	claims := &Claims{}
	claims.Subject = "   "
	middleware := NewMiddleware(&mockAuthService{claims: claims}, zap.NewNop())

	handler := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestRequireUserIDFromContext(t *testing.T) {
	if _, err := RequireUserIDFromContext(context.Background()); err != ErrNoUser {
		t.Errorf("expected ErrNoUser, got %v", err)
	}

	claims := &Claims{}
	claims.Subject = "user-9"
	ctx := WithClaims(context.Background(), claims, "tok")

	userID, err := RequireUserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-9" {
		t.Errorf("expected 'user-9', got %q", userID)
	}
}
