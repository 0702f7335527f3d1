package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/auth"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/services"
)

// ConfigHandler handles the commission configuration HTTP surface.
type ConfigHandler struct {
	store   services.ConfigStore
	history services.VersionHistory
	logger  *zap.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store services.ConfigStore, history services.VersionHistory, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		store:   store,
		history: history,
		logger:  logger,
	}
}

// RegisterRoutes registers the config handler's routes on the given mux.
// The whole surface is admin-only; partners consume configuration through
// the realtime gateway.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/admin/commission/config"

	mux.HandleFunc("POST "+base+"/commission-rates", authMiddleware.RequireAdmin(h.CreateRate))
	mux.HandleFunc("GET "+base+"/commission-rates", authMiddleware.RequireAdmin(h.ListRates))
	mux.HandleFunc("GET "+base+"/commission-rates/{id}", authMiddleware.RequireAdmin(h.GetRate))
	mux.HandleFunc("PUT "+base+"/commission-rates/{id}", authMiddleware.RequireAdmin(h.UpdateRate))
	mux.HandleFunc("DELETE "+base+"/commission-rates/{id}", authMiddleware.RequireAdmin(h.DeleteRate))

	mux.HandleFunc("POST "+base+"/commission-settings", authMiddleware.RequireAdmin(h.CreateSettings))
	mux.HandleFunc("GET "+base+"/commission-settings", authMiddleware.RequireAdmin(h.GetSettings))
	mux.HandleFunc("PUT "+base+"/commission-settings", authMiddleware.RequireAdmin(h.UpdateSettings))

	mux.HandleFunc("GET "+base+"/{configType}/{configId}/versions", authMiddleware.RequireAdmin(h.ListVersions))
	mux.HandleFunc("POST "+base+"/{configType}/{configId}/rollback", authMiddleware.RequireAdmin(h.Rollback))

	mux.HandleFunc("POST "+base+"/validate", authMiddleware.RequireAdmin(h.Validate))
	mux.HandleFunc("POST "+base+"/bulk-update", authMiddleware.RequireAdmin(h.BulkUpdate))
	mux.HandleFunc("POST "+base+"/cache/refresh", authMiddleware.RequireAdmin(h.RefreshCache))
	mux.HandleFunc("GET "+base+"/stats", authMiddleware.RequireAdmin(h.Stats))
}

func (h *ConfigHandler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	principal, ok := auth.GetPrincipal(r.Context())
	if !ok {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Principal not found in context"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return principal.UserID, true
}

func (h *ConfigHandler) configID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(param))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_config_id", "Invalid config ID format"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// CreateRate handles POST /admin/commission/config/commission-rates
func (h *ConfigHandler) CreateRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var payload models.RateConfig
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	config, err := h.store.CreateRateConfig(r.Context(), &payload, actor)
	if err != nil {
		h.logger.Error("failed to create rate config", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: config})
}

// ListRates handles GET /admin/commission/config/commission-rates
func (h *ConfigHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	filters, err := parseConfigFilters(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_filters", err.Error())
		return
	}

	configs, err := h.store.ListRateConfigs(r.Context(), filters)
	if err != nil {
		h.logger.Error("failed to list rate configs", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	if configs == nil {
		configs = make([]*models.RateConfig, 0)
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginatedResponse{
			Items:  configs,
			Total:  len(configs),
			Limit:  filters.Limit,
			Offset: filters.Offset,
		},
	})
}

// GetRate handles GET /admin/commission/config/commission-rates/{id}
func (h *ConfigHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.configID(w, r, "id")
	if !ok {
		return
	}

	config, err := h.store.GetRateConfig(r.Context(), id)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: config})
}

type updateRateRequest struct {
	models.RateConfigChanges
	Reason string `json:"reason"`
}

// UpdateRate handles PUT /admin/commission/config/commission-rates/{id}
func (h *ConfigHandler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.configID(w, r, "id")
	if !ok {
		return
	}

	var req updateRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	config, err := h.store.UpdateRateConfig(r.Context(), id, req.RateConfigChanges, actor, req.Reason)
	if err != nil {
		h.logger.Error("failed to update rate config",
			zap.String("config_id", id.String()),
			zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: config})
}

// DeleteRate handles DELETE /admin/commission/config/commission-rates/{id}
// Deletion is soft: it writes a new inactive version so the chain's
// history survives.
func (h *ConfigHandler) DeleteRate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.configID(w, r, "id")
	if !ok {
		return
	}

	inactive := false
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "Configuration deleted"
	}

	_, err := h.store.UpdateRateConfig(r.Context(), id, models.RateConfigChanges{IsActive: &inactive}, actor, reason)
	if err != nil {
		h.logger.Error("failed to delete rate config",
			zap.String("config_id", id.String()),
			zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Configuration deactivated"})
}

// CreateSettings handles POST /admin/commission/config/commission-settings
func (h *ConfigHandler) CreateSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var payload models.SettingsConfig
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	config, err := h.store.CreateSettings(r.Context(), &payload, actor)
	if err != nil {
		h.logger.Error("failed to create settings config", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: config})
}

// GetSettings handles GET /admin/commission/config/commission-settings.
// An optional partner_id query selects a partner scope; without it the
// global settings are returned.
func (h *ConfigHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	partnerID, err := parseOptionalUUID(r.URL.Query().Get("partner_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_partner_id", "Invalid partner ID format")
		return
	}

	config, err := h.store.GetSettingsByScope(r.Context(), partnerID)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: config})
}

type updateSettingsRequest struct {
	models.SettingsConfigChanges
	Reason string `json:"reason"`
}

// UpdateSettings handles PUT /admin/commission/config/commission-settings
func (h *ConfigHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	partnerID, err := parseOptionalUUID(r.URL.Query().Get("partner_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_partner_id", "Invalid partner ID format")
		return
	}

	current, err := h.store.GetSettingsByScope(r.Context(), partnerID)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	config, err := h.store.UpdateSettings(r.Context(), current.ChainRoot(), req.SettingsConfigChanges, actor, req.Reason)
	if err != nil {
		h.logger.Error("failed to update settings config", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: config})
}

// ListVersions handles GET /admin/commission/config/{configType}/{configId}/versions
func (h *ConfigHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	configType := models.ConfigType(r.PathValue("configType"))
	if !models.ValidConfigType(configType) {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_config_type", "Unknown config type")
		return
	}
	id, ok := h.configID(w, r, "configId")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := h.history.History(r.Context(), id, limit)
	if err != nil {
		_ = ServiceError(w, err)
		return
	}

	if records == nil {
		records = make([]*models.VersionRecord, 0)
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: records})
}

type rollbackRequest struct {
	TargetVersion int    `json:"target_version"`
	Reason        string `json:"reason"`
}

// Rollback handles POST /admin/commission/config/{configType}/{configId}/rollback
func (h *ConfigHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	configType := models.ConfigType(r.PathValue("configType"))
	if !models.ValidConfigType(configType) {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_config_type", "Unknown config type")
		return
	}
	id, ok := h.configID(w, r, "configId")
	if !ok {
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.TargetVersion < 1 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_target_version", "Target version must be at least 1")
		return
	}

	var config any
	var err error
	switch configType {
	case models.ConfigTypeCommissionRate:
		config, err = h.store.RollbackRateConfig(r.Context(), id, req.TargetVersion, actor, req.Reason)
	case models.ConfigTypeCommissionSettings:
		config, err = h.store.RollbackSettings(r.Context(), id, req.TargetVersion, actor, req.Reason)
	}
	if err != nil {
		h.logger.Error("failed to roll back config",
			zap.String("config_id", id.String()),
			zap.Int("target_version", req.TargetVersion),
			zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: config})
}

type validateRequest struct {
	ConfigType models.ConfigType `json:"config_type"`
	Payload    json.RawMessage   `json:"payload"`
}

type validateResponse struct {
	Valid  bool `json:"valid"`
	Errors any  `json:"errors,omitempty"`
}

// Validate handles POST /admin/commission/config/validate. It runs the
// write-path validation without persisting anything.
func (h *ConfigHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	switch req.ConfigType {
	case models.ConfigTypeCommissionRate:
		var payload models.RateConfig
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_payload", "Invalid rate config payload")
			return
		}
		if verr := services.ValidateRateConfig(&payload); verr != nil {
			_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: validateResponse{Valid: false, Errors: verr.Errors}})
			return
		}
	case models.ConfigTypeCommissionSettings:
		var payload models.SettingsConfig
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_payload", "Invalid settings payload")
			return
		}
		if verr := services.ValidateSettingsConfig(&payload); verr != nil {
			_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: validateResponse{Valid: false, Errors: verr.Errors}})
			return
		}
	default:
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_config_type", "Unknown config type")
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: validateResponse{Valid: true}})
}

type bulkUpdateItem struct {
	ConfigID uuid.UUID                `json:"config_id"`
	Changes  models.RateConfigChanges `json:"changes"`
}

type bulkUpdateRequest struct {
	Updates []bulkUpdateItem `json:"updates"`
	Reason  string           `json:"reason"`
}

type bulkUpdateResult struct {
	ConfigID uuid.UUID          `json:"config_id"`
	Success  bool               `json:"success"`
	Config   *models.RateConfig `json:"config,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// BulkUpdate handles POST /admin/commission/config/bulk-update.
// Items are applied independently, best effort: one failure does not
// stop or undo the others, and every item reports its own outcome.
func (h *ConfigHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req bulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(req.Updates) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "empty_bulk_update", "No updates provided")
		return
	}

	results := make([]bulkUpdateResult, 0, len(req.Updates))
	succeeded := 0
	for _, item := range req.Updates {
		config, err := h.store.UpdateRateConfig(r.Context(), item.ConfigID, item.Changes, actor, req.Reason)
		if err != nil {
			results = append(results, bulkUpdateResult{ConfigID: item.ConfigID, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, bulkUpdateResult{ConfigID: item.ConfigID, Success: true, Config: config})
		succeeded++
	}

	h.logger.Info("bulk update applied",
		zap.Int("total", len(req.Updates)),
		zap.Int("succeeded", succeeded))

	_ = WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]any{
			"results":   results,
			"succeeded": succeeded,
			"failed":    len(req.Updates) - succeeded,
		},
	})
}

// RefreshCache handles POST /admin/commission/config/cache/refresh
func (h *ConfigHandler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearCache(r.Context()); err != nil {
		h.logger.Error("failed to refresh config cache", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Cache refreshed"})
}

// Stats handles GET /admin/commission/config/stats
func (h *ConfigHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect config stats", zap.Error(err))
		_ = ServiceError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats})
}

func parseConfigFilters(r *http.Request) (models.ConfigFilters, error) {
	var filters models.ConfigFilters
	q := r.URL.Query()

	partnerID, err := parseOptionalUUID(q.Get("partner_id"))
	if err != nil {
		return filters, err
	}
	filters.PartnerID = partnerID

	spaceID, err := parseOptionalUUID(q.Get("space_id"))
	if err != nil {
		return filters, err
	}
	filters.SpaceID = spaceID

	if raw := q.Get("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, err
		}
		filters.IsActive = &active
	}
	if raw := q.Get("effective_date"); raw != "" {
		date, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, err
		}
		filters.EffectiveDate = &date
	}
	if tags := q["tag"]; len(tags) > 0 {
		filters.Tags = tags
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filters, err
		}
		filters.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filters, err
		}
		filters.Offset = offset
	}

	return filters, nil
}

func parseOptionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
