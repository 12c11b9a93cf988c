package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockJWKSClient records the token it was asked to validate.
type mockJWKSClient struct {
	claims *Claims
	err    error
	got    string
}

func (m *mockJWKSClient) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	m.got = tokenString
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockJWKSClient) Close() {}

func TestAuthService_ValidateRequest(t *testing.T) {
	claims := &Claims{}
	claims.Subject = "user-1"

	tests := []struct {
		name      string
		setup     func(r *http.Request)
		wantToken string
		wantErr   error
	}{
		{
			name:      "bearer header",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-header") },
			wantToken: "tok-header",
		},
		{
			name:      "lowercase scheme",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "bearer tok-header") },
			wantToken: "tok-header",
		},
		{
			name:      "session cookie",
			setup:     func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-cookie"}) },
			wantToken: "tok-cookie",
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer tok-header")
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-cookie"})
			},
			wantToken: "tok-header",
		},
		{
			name:    "basic scheme",
			setup:   func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			wantErr: ErrInvalidAuthFormat,
		},
		{
			name:    "nothing",
			setup:   func(r *http.Request) {},
			wantErr: ErrMissingAuthorization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jwks := &mockJWKSClient{claims: claims}
			svc := NewAuthService(jwks, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
			tt.setup(req)

			got, token, err := svc.ValidateRequest(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantToken, jwks.got)
			assert.Equal(t, "user-1", got.UserID())
		})
	}
}

func TestAuthService_ValidateRequest_InvalidToken(t *testing.T) {
	svc := NewAuthService(&mockJWKSClient{err: errors.New("bad signature")}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer tok")

	_, _, err := svc.ValidateRequest(req)
	assert.EqualError(t, err, "bad signature")
}
