package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/config"
	"github.com/cowors/booking-engine/pkg/database"
	"github.com/cowors/booking-engine/pkg/events"
	"github.com/cowors/booking-engine/pkg/gateway"
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

// HealthStatus reports the state of the engine's moving parts.
type HealthStatus struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Subscribers int    `json:"event_subscribers"`
	WSClients   int    `json:"ws_clients"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	db      *database.DB
	bus     *events.Bus
	gateway *gateway.Gateway
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, db *database.DB, bus *events.Bus, gw *gateway.Gateway, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, bus: bus, gateway: gw, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("GET /admin/commission/config/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /healthz requests. It pings the database so load
// balancers stop routing to an instance that lost its pool.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:      "ok",
		Database:    "ok",
		Subscribers: h.bus.SubscriberCount(),
		WSClients:   h.gateway.ClientCount(),
	}

	code := http.StatusOK
	if err := h.db.Health(r.Context()); err != nil {
		status.Status = "degraded"
		status.Database = err.Error()
		code = http.StatusServiceUnavailable
	}

	if err := WriteJSON(w, code, status); err != nil {
		h.logger.Error("failed to encode health response", zap.Error(err))
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
		Service:     "booking-engine-config",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to encode ping response", zap.Error(err))
	}
}
