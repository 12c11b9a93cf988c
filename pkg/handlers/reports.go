package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/auth"
	"github.com/ekaya-inc/ekaya-ledger/pkg/services"
)

// ReportHandler serves the monthly reports.
type ReportHandler struct {
	reportService services.ReportService
	now           func() time.Time
	logger        *zap.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reportService services.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		now:           time.Now,
		logger:        logger,
	}
}

// RegisterRoutes registers the report handler's routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	base := "/api/reports"

	mux.HandleFunc("GET "+base+"/monthly", authMiddleware.RequireAuth(userMiddleware(h.Monthly)))
	mux.HandleFunc("GET "+base+"/categories", authMiddleware.RequireAuth(userMiddleware(h.Categories)))
	mux.HandleFunc("GET "+base+"/trend", authMiddleware.RequireAuth(userMiddleware(h.Trend)))
	mux.HandleFunc("GET "+base+"/tip", authMiddleware.RequireAuth(userMiddleware(h.Tip)))
}

// Monthly handles GET /api/reports/monthly?year=&month=
func (h *ReportHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	year, month, ok := parsePeriod(w, r, h.now(), h.logger)
	if !ok {
		return
	}

	summary, err := h.reportService.MonthlySummary(r.Context(), userID, year, month)
	if err != nil {
		writeServiceError(w, err, "monthly_report_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, summary, h.logger)
}

// Categories handles GET /api/reports/categories?year=&month=
func (h *ReportHandler) Categories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	year, month, ok := parsePeriod(w, r, h.now(), h.logger)
	if !ok {
		return
	}

	summary, err := h.reportService.CategorySummary(r.Context(), userID, year, month)
	if err != nil {
		writeServiceError(w, err, "category_report_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, summary, h.logger)
}

// Trend handles GET /api/reports/trend
func (h *ReportHandler) Trend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	trend, err := h.reportService.CategoryTrend(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "trend_report_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, trend, h.logger)
}

// Tip handles GET /api/reports/tip?year=&month=
func (h *ReportHandler) Tip(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	year, month, ok := parsePeriod(w, r, h.now(), h.logger)
	if !ok {
		return
	}

	tip, err := h.reportService.MonthlyTip(r.Context(), userID, year, month)
	if err != nil {
		writeServiceError(w, err, "monthly_tip_failed", h.logger)
		return
	}
	writeData(w, http.StatusOK, tip, h.logger)
}
