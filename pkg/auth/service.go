package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// SessionCookieName is the cookie browser clients carry the session token in.
const SessionCookieName = "__session"

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService extracts and validates the caller's token.
type AuthService interface {
	// ValidateRequest reads the token from the Authorization header (Bearer scheme)
	// or the session cookie and validates it.
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	jwksClient JWKSClientInterface
	logger     *zap.Logger
}

// NewAuthService creates a new AuthService with the given JWKS client and logger.
func NewAuthService(jwksClient JWKSClientInterface, logger *zap.Logger) AuthService {
	return &authService{
		jwksClient: jwksClient,
		logger:     logger.Named("auth"),
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	tokenString, source, err := extractToken(r)
	if err != nil {
		s.logger.Debug("No usable token in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.Error(err))
		return nil, "", err
	}

	claims, err := s.jwksClient.ValidateToken(r.Context(), tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", source))
		return nil, "", err
	}

	return claims, tokenString, nil
}

// extractToken prefers the Authorization header over the session cookie.
func extractToken(r *http.Request) (string, string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", "", ErrInvalidAuthFormat
		}
		return strings.TrimSpace(token), "header", nil
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, "cookie", nil
	}

	return "", "", ErrMissingAuthorization
}

var _ AuthService = (*authService)(nil)
