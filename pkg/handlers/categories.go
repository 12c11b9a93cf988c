package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
)

// ResetCategoriesResponse for POST /api/categories/reset
type ResetCategoriesResponse struct {
	Created int `json:"created"`
}

// CategoryHandler handles the category forest.
type CategoryHandler struct {
	categoryService services.CategoryService
	logger          *zap.Logger
}

// NewCategoryHandler creates a new category handler.
func NewCategoryHandler(categoryService services.CategoryService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{
		categoryService: categoryService,
		logger:          logger,
	}
}

// RegisterRoutes registers the category handler's routes on the given mux.
func (h *CategoryHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/categories"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(userMiddleware(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(userMiddleware(h.Create)))
	mux.HandleFunc("POST "+base+"/reset", authMiddleware.RequireAuth(userMiddleware(h.Reset)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Delete)))
}

// List handles GET /api/categories
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	views, err := h.categoryService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "list_categories_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, views, h.logger)
}

// Create handles POST /api/categories
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req services.CategoryInput
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	category, err := h.categoryService.Create(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "create_category_failed", h.logger)
		return
	}
	writeData(w, http.StatusCreated, category, h.logger)
}

// Update handles PUT /api/categories/{id}
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseResourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.CategoryInput
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	category, err := h.categoryService.Update(r.Context(), userID, id, req)
	if err != nil {
		writeServiceError(w, err, "update_category_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, category, h.logger)
}

// Delete handles DELETE /api/categories/{id}
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseResourceID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.categoryService.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err, "delete_category_failed", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset handles POST /api/categories/reset
func (h *CategoryHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	created, err := h.categoryService.Reset(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "reset_categories_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, ResetCategoriesResponse{Created: created}, h.logger)
}
