package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
)

// SubmitPromptRequest for POST /api/events/prompt
type SubmitPromptRequest struct {
	Prompt string `json:"prompt"`
}

// EventHandler handles event history and prompt submission.
type EventHandler struct {
	eventService services.EventService
	logger       *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(eventService services.EventService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		logger:       logger,
	}
}

// RegisterRoutes registers the event handler's routes on the given mux.
func (h *EventHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/events"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(userMiddleware(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(userMiddleware(h.Create)))
	mux.HandleFunc("POST "+base+"/prompt", authMiddleware.RequireAuth(userMiddleware(h.SubmitPrompt)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(userMiddleware(h.Delete)))
	mux.HandleFunc("GET /api/raw-prompts/{id}", authMiddleware.RequireAuth(userMiddleware(h.GetRawPrompt)))
}

// List handles GET /api/events?page=&page_size=
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	verr := &apperrors.ValidationError{}
	paging := models.Paging{
		Page:     queryInt(r, "page", 0, verr),
		PageSize: queryInt(r, "page_size", services.DefaultPageSize, verr),
	}
	if err := verr.OrNil(); err != nil {
		writeServiceError(w, err, "list_events_failed", h.logger)
		return
	}

	page, err := h.eventService.List(r.Context(), userID, paging)
	if err != nil {
		writeServiceError(w, err, "list_events_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, page, h.logger)
}

// Create handles POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req services.ManualEventInput
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	event, err := h.eventService.StoreManual(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "create_event_failed", h.logger)
		return
	}
	writeData(w, http.StatusCreated, event, h.logger)
}

// SubmitPrompt handles POST /api/events/prompt. Extraction runs in the background;
// poll GET /api/raw-prompts/{id} for the outcome.
func (h *EventHandler) SubmitPrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req SubmitPromptRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	raw, err := h.eventService.SubmitPrompt(r.Context(), userID, req.Prompt)
	if err != nil {
		writeServiceError(w, err, "submit_prompt_failed", h.logger)
		return
	}
	writeData(w, http.StatusAccepted, raw, h.logger)
}

// Update handles PUT /api/events/{id}
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseResourceID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.ManualEventInput
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	event, err := h.eventService.Edit(r.Context(), userID, id, req)
	if err != nil {
		writeServiceError(w, err, "update_event_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, event, h.logger)
}

// Delete handles DELETE /api/events/{id}
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseResourceID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.eventService.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err, "delete_event_failed", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRawPrompt handles GET /api/raw-prompts/{id}
func (h *EventHandler) GetRawPrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParseResourceID(w, r, h.logger)
	if !ok {
		return
	}

	raw, err := h.eventService.GetRawPrompt(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err, "get_raw_prompt_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, raw, h.logger)
}

