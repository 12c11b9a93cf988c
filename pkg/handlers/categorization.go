package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
)

// CategorizeResponse for POST /api/categorize
type CategorizeResponse struct {
	Queued bool `json:"queued"`
	Force  bool `json:"force"`
}

// CategorizationHandler starts background categorization runs.
type CategorizationHandler struct {
	categorizationService services.CategorizationService
	logger                *zap.Logger
}

// NewCategorizationHandler creates a new categorization handler.
func NewCategorizationHandler(categorizationService services.CategorizationService, logger *zap.Logger) *CategorizationHandler {
	return &CategorizationHandler{
		categorizationService: categorizationService,
		logger:                logger,
	}
}

// RegisterRoutes registers the categorization handler's routes on the given mux.
func (h *CategorizationHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	mux.HandleFunc("POST /api/categorize", authMiddleware.RequireAuth(userMiddleware(h.Categorize)))
}

// Categorize handles POST /api/categorize?force=true
func (h *CategorizationHandler) Categorize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_force", "force must be a boolean", h.logger)
			return
		}
		force = parsed
	}

	if err := h.categorizationService.Trigger(r.Context(), userID, force); err != nil {
		writeServiceError(w, err, "categorize_failed", h.logger)
		return
	}
	writeData(w, http.StatusAccepted, CategorizeResponse{Queued: true, Force: force}, h.logger)
}
