package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/config"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency the service cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
	Dispatch    string `json:"dispatch"`
	AIProvider  string `json:"ai_provider"`
}

// ReadyResponse reports each dependency as "ok" or "unavailable".
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthHandler serves liveness, readiness and build information.
type HealthHandler struct {
	cfg    *config.Config
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. checks are probed by /ready, keyed by name.
func NewHealthHandler(cfg *config.Config, checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, checks: checks, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health answers as long as the process is serving.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready answers 503 while any dependency fails its ping.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	dispatch := "local"
	if h.cfg.AMQP.URL != "" {
		dispatch = "amqp"
	}

	resp := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-ledger",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Dispatch:    dispatch,
		AIProvider:  h.cfg.AI.Provider,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write ping response", zap.Error(err))
	}
}
