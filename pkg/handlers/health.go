package handlers

import (
	"net/http"
	"os"
	"runtime"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/config"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ReadyResponse reports per-dependency readiness.
type ReadyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis,omitempty"`
}

// HealthHandler handles liveness, readiness and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     *database.DB
	cache  *redis.Client
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. The cache may be nil when
// Redis is not configured.
func NewHealthHandler(cfg *config.Config, db *database.DB, cache *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, cache: cache, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/health/ready", h.Ready)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health requests.
// Liveness only: returns "ok" without touching dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /health/ready requests.
// Pings the database and, when configured, Redis. Returns 503 when any
// dependency is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ok", Database: "ok"}
	code := http.StatusOK

	if h.db == nil {
		resp.Status = "degraded"
		resp.Database = "not configured"
		code = http.StatusServiceUnavailable
	} else if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Warn("Readiness: database unreachable", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "unreachable"
		code = http.StatusServiceUnavailable
	}

	if h.cache != nil {
		resp.Redis = "ok"
		if err := h.cache.Ping(r.Context()).Err(); err != nil {
			h.logger.Warn("Readiness: redis unreachable", zap.Error(err))
			resp.Status = "degraded"
			resp.Redis = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	if err := WriteJSON(w, code, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "hourglass-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
