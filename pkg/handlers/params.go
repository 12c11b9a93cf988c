package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
)

// ParseResourceID extracts and validates the {id} path parameter.
// Returns uuid.Nil and false after writing an error response on failure.
func ParseResourceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_id", "Invalid ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCode, errorMessage, logger)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an integer query parameter, returning def when it is absent.
func queryInt(r *http.Request, name string, def int, verr *apperrors.ValidationError) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(name, "must be an integer")
		return def
	}
	return n
}

// parsePeriod reads ?year=&month=, defaulting to the current UTC month.
func parsePeriod(w http.ResponseWriter, r *http.Request, now time.Time, logger *zap.Logger) (int, int, bool) {
	now = now.UTC()
	verr := &apperrors.ValidationError{}
	year := queryInt(r, "year", now.Year(), verr)
	month := queryInt(r, "month", int(now.Month()), verr)
	if err := verr.OrNil(); err != nil {
		writeServiceError(w, err, "invalid_period", logger)
		return 0, 0, false
	}
	return year, month, true
}
