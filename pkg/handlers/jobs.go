package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services/workqueue"
)

// TaskLister lists a user's queued, running and retained tasks.
type TaskLister interface {
	Tasks(userID string) []workqueue.TaskSnapshot
}

// JobsResponse for GET /api/jobs
type JobsResponse struct {
	Tasks []workqueue.TaskSnapshot `json:"tasks"`
}

// JobsHandler exposes background job status.
type JobsHandler struct {
	tasks  TaskLister
	logger *zap.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tasks TaskLister, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{tasks: tasks, logger: logger}
}

// RegisterRoutes registers the jobs handler's routes on the given mux.
// No database scope is needed; snapshots live in memory.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/jobs", authMiddleware.RequireAuth(h.List))
}

// List handles GET /api/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	tasks := h.tasks.Tasks(userID)
	if tasks == nil {
		tasks = []workqueue.TaskSnapshot{}
	}
	writeData(w, http.StatusOK, JobsResponse{Tasks: tasks}, h.logger)
}
