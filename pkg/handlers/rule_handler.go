package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/auth"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/services"
)

// RuleHandler exposes partner rule templates and their effective
// resolutions over HTTP.
type RuleHandler struct {
	resolver services.RuleResolver
	logger   *zap.Logger
}

func NewRuleHandler(resolver services.RuleResolver, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		resolver: resolver,
		logger:   logger,
	}
}

// RegisterRoutes registers the rule handler's routes on the given mux.
func (h *RuleHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /admin/partner-categories/{id}/effective-rules/{ruleType}", authMiddleware.RequireAdmin(h.EffectiveRules))
	mux.HandleFunc("PUT /admin/partner-categories/{id}/rules/{ruleType}", authMiddleware.RequireAdmin(h.UpdateCategoryRules))
	mux.HandleFunc("PUT /admin/partner-types/{id}/rules/{ruleType}", authMiddleware.RequireAdmin(h.UpdatePartnerTypeRules))
}

func (h *RuleHandler) pathParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, models.RuleType, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid ID format"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return uuid.Nil, "", false
	}

	ruleType := models.RuleType(r.PathValue("ruleType"))
	if !models.ValidRuleType(ruleType) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_rule_type", "Unknown rule type"); err != nil {
			h.logger.Error("failed to write error response", zap.Error(err))
		}
		return uuid.Nil, "", false
	}

	return id, ruleType, true
}

// EffectiveRules handles GET /admin/partner-categories/{id}/effective-rules/{ruleType}
func (h *RuleHandler) EffectiveRules(w http.ResponseWriter, r *http.Request) {
	categoryID, ruleType, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	rules, err := h.resolver.Resolve(r.Context(), categoryID, ruleType)
	if err != nil {
		h.logger.Error("failed to resolve effective rules",
			zap.String("category_id", categoryID.String()),
			zap.String("rule_type", string(ruleType)),
			zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rules})
}

// UpdateCategoryRules handles PUT /admin/partner-categories/{id}/rules/{ruleType}
func (h *RuleHandler) UpdateCategoryRules(w http.ResponseWriter, r *http.Request) {
	categoryID, ruleType, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var doc json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid rule document")
		return
	}

	if err := h.resolver.UpdateCategoryRules(r.Context(), categoryID, ruleType, doc); err != nil {
		h.logger.Error("failed to update category rules",
			zap.String("category_id", categoryID.String()),
			zap.String("rule_type", string(ruleType)),
			zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Rules updated"})
}

// UpdatePartnerTypeRules handles PUT /admin/partner-types/{id}/rules/{ruleType}
func (h *RuleHandler) UpdatePartnerTypeRules(w http.ResponseWriter, r *http.Request) {
	partnerTypeID, ruleType, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var doc json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid rule document")
		return
	}

	if err := h.resolver.UpdatePartnerTypeRules(r.Context(), partnerTypeID, ruleType, doc); err != nil {
		h.logger.Error("failed to update partner type rules",
			zap.String("partner_type_id", partnerTypeID.String()),
			zap.String("rule_type", string(ruleType)),
			zap.Error(err))
		_ = ServiceError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Rules updated"})
}
