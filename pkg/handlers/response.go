package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
)

// ApiResponse wraps data in the format expected by the frontend.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidationErrorBody is the 400 body for rejected input.
type ValidationErrorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Fields  []apperrors.FieldError `json:"fields"`
}

// UserMiddleware binds a user-scoped database connection to the request.
type UserMiddleware func(http.HandlerFunc) http.HandlerFunc

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData wraps data in ApiResponse and logs write failures.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError writes an error response and logs write failures.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeServiceError maps a service error to its HTTP status. Unexpected errors
// are logged and reported as fallbackCode without leaking their text.
func writeServiceError(w http.ResponseWriter, err error, fallbackCode string, logger *zap.Logger) {
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		body := ValidationErrorBody{Error: "invalid_input", Message: "Neplatný vstup", Fields: verr.Fields}
		if err := WriteJSON(w, http.StatusBadRequest, body); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
	case errors.Is(err, apperrors.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), logger)
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Záznam nebyl nalezen", logger)
	case errors.Is(err, apperrors.ErrLocked):
		writeError(w, http.StatusConflict, "locked", "Probíhá jiná operace, zkuste to prosím znovu", logger)
	case errors.Is(err, apperrors.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "Záznam byl mezitím změněn", logger)
	default:
		logger.Error("Request failed", zap.String("error_code", fallbackCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallbackCode, "Interní chyba serveru", logger)
	}
}

// requireUser returns the authenticated user ID, writing a 401 when it is missing.
func requireUser(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", logger)
		return "", false
	}
	return userID, true
}

// decodeBody decodes the JSON request body, writing a 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "Invalid request body", logger)
		return false
	}
	return true
}
