package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/auth"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/services"
)

// stubConfigStore answers the handler with canned results.
type stubConfigStore struct {
	services.ConfigStore

	createRate   func(ctx context.Context, payload *models.RateConfig, actor uuid.UUID) (*models.RateConfig, error)
	updateRate   func(ctx context.Context, configID uuid.UUID, changes models.RateConfigChanges, actor uuid.UUID, reason string) (*models.RateConfig, error)
	rollbackRate func(ctx context.Context, configID uuid.UUID, targetVersion int, actor uuid.UUID, reason string) (*models.RateConfig, error)
	getRate      func(ctx context.Context, configID uuid.UUID) (*models.RateConfig, error)
	listRates    func(ctx context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error)
	stats        func(ctx context.Context) (*services.ConfigStats, error)
}

func (s *stubConfigStore) CreateRateConfig(ctx context.Context, payload *models.RateConfig, actor uuid.UUID) (*models.RateConfig, error) {
	return s.createRate(ctx, payload, actor)
}

func (s *stubConfigStore) UpdateRateConfig(ctx context.Context, configID uuid.UUID, changes models.RateConfigChanges, actor uuid.UUID, reason string) (*models.RateConfig, error) {
	return s.updateRate(ctx, configID, changes, actor, reason)
}

func (s *stubConfigStore) RollbackRateConfig(ctx context.Context, configID uuid.UUID, targetVersion int, actor uuid.UUID, reason string) (*models.RateConfig, error) {
	return s.rollbackRate(ctx, configID, targetVersion, actor, reason)
}

func (s *stubConfigStore) GetRateConfig(ctx context.Context, configID uuid.UUID) (*models.RateConfig, error) {
	return s.getRate(ctx, configID)
}

func (s *stubConfigStore) ListRateConfigs(ctx context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error) {
	return s.listRates(ctx, filters)
}

func (s *stubConfigStore) Stats(ctx context.Context) (*services.ConfigStats, error) {
	return s.stats(ctx)
}

type stubHistory struct {
	services.VersionHistory

	history func(ctx context.Context, configID uuid.UUID, limit int) ([]*models.VersionRecord, error)
}

func (s *stubHistory) History(ctx context.Context, configID uuid.UUID, limit int) ([]*models.VersionRecord, error) {
	return s.history(ctx, configID, limit)
}

func adminRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)

	principal := &auth.Principal{UserID: uuid.New(), Role: models.RoleAdmin}
	return req.WithContext(auth.WithPrincipal(req.Context(), principal, "test-token"))
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConfigHandler_CreateRate(t *testing.T) {
	created := &models.RateConfig{ID: uuid.New(), Name: "Standard", Version: 1, IsActive: true}
	store := &stubConfigStore{
		createRate: func(_ context.Context, payload *models.RateConfig, actor uuid.UUID) (*models.RateConfig, error) {
			assert.Equal(t, "Standard", payload.Name)
			assert.NotEqual(t, uuid.Nil, actor)
			return created, nil
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodPost, "/admin/commission/config/commission-rates", map[string]any{
		"name":      "Standard",
		"rate_type": "percentage",
		"trigger":   "booking_confirmed",
		"base_rate": 10,
	})
	handler.CreateRate(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
}

func TestConfigHandler_CreateRate_ValidationError(t *testing.T) {
	store := &stubConfigStore{
		createRate: func(context.Context, *models.RateConfig, uuid.UUID) (*models.RateConfig, error) {
			return nil, &apperrors.ValidationError{Errors: []apperrors.FieldError{
				{Field: "name", Message: "configuration name is required"},
			}}
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.CreateRate(rec, adminRequest(t, http.MethodPost, "/admin/commission/config/commission-rates", map[string]any{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
}

func TestConfigHandler_CreateRate_MissingPrincipal(t *testing.T) {
	handler := NewConfigHandler(&stubConfigStore{}, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/commission/config/commission-rates", bytes.NewBufferString("{}"))
	handler.CreateRate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfigHandler_GetRate(t *testing.T) {
	configID := uuid.New()
	store := &stubConfigStore{
		getRate: func(_ context.Context, id uuid.UUID) (*models.RateConfig, error) {
			if id == configID {
				return &models.RateConfig{ID: configID, Name: "Standard"}, nil
			}
			return nil, apperrors.ErrNotFound
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodGet, "/admin/commission/config/commission-rates/"+configID.String(), nil)
	req.SetPathValue("id", configID.String())
	handler.GetRate(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	unknown := uuid.New()
	req = adminRequest(t, http.MethodGet, "/admin/commission/config/commission-rates/"+unknown.String(), nil)
	req.SetPathValue("id", unknown.String())
	handler.GetRate(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	req = adminRequest(t, http.MethodGet, "/admin/commission/config/commission-rates/nope", nil)
	req.SetPathValue("id", "nope")
	handler.GetRate(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigHandler_UpdateRate_VersionConflict(t *testing.T) {
	configID := uuid.New()
	store := &stubConfigStore{
		updateRate: func(context.Context, uuid.UUID, models.RateConfigChanges, uuid.UUID, string) (*models.RateConfig, error) {
			return nil, fmt.Errorf("expected version 1 but chain is at 2: %w", apperrors.ErrVersionConflict)
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodPut, "/admin/commission/config/commission-rates/"+configID.String(), map[string]any{
		"base_rate":        15,
		"expected_version": 1,
	})
	req.SetPathValue("id", configID.String())
	handler.UpdateRate(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfigHandler_DeleteRate_DeactivatesChain(t *testing.T) {
	configID := uuid.New()
	var gotChanges models.RateConfigChanges
	store := &stubConfigStore{
		updateRate: func(_ context.Context, id uuid.UUID, changes models.RateConfigChanges, _ uuid.UUID, reason string) (*models.RateConfig, error) {
			assert.Equal(t, configID, id)
			gotChanges = changes
			assert.Equal(t, "Configuration deleted", reason)
			return &models.RateConfig{ID: id, IsActive: false}, nil
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodDelete, "/admin/commission/config/commission-rates/"+configID.String(), nil)
	req.SetPathValue("id", configID.String())
	handler.DeleteRate(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotChanges.IsActive)
	assert.False(t, *gotChanges.IsActive)
}

func TestConfigHandler_ListRates_Paginated(t *testing.T) {
	partnerID := uuid.New()
	store := &stubConfigStore{
		listRates: func(_ context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error) {
			require.NotNil(t, filters.PartnerID)
			assert.Equal(t, partnerID, *filters.PartnerID)
			assert.Equal(t, 10, filters.Limit)
			return []*models.RateConfig{{ID: uuid.New()}}, nil
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodGet,
		"/admin/commission/config/commission-rates?partner_id="+partnerID.String()+"&limit=10", nil)
	handler.ListRates(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigHandler_ListVersions(t *testing.T) {
	configID := uuid.New()
	history := &stubHistory{
		history: func(_ context.Context, id uuid.UUID, limit int) ([]*models.VersionRecord, error) {
			assert.Equal(t, configID, id)
			assert.Equal(t, 5, limit)
			return []*models.VersionRecord{{ConfigID: id, Version: 2, IsActive: true}}, nil
		},
	}
	handler := NewConfigHandler(&stubConfigStore{}, history, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodGet,
		"/admin/commission/config/commission_rate/"+configID.String()+"/versions?limit=5", nil)
	req.SetPathValue("configType", "commission_rate")
	req.SetPathValue("configId", configID.String())
	handler.ListVersions(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = adminRequest(t, http.MethodGet, "/admin/commission/config/bogus/"+configID.String()+"/versions", nil)
	req.SetPathValue("configType", "bogus")
	req.SetPathValue("configId", configID.String())
	handler.ListVersions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigHandler_Rollback(t *testing.T) {
	configID := uuid.New()
	store := &stubConfigStore{
		rollbackRate: func(_ context.Context, id uuid.UUID, targetVersion int, _ uuid.UUID, reason string) (*models.RateConfig, error) {
			assert.Equal(t, configID, id)
			assert.Equal(t, 2, targetVersion)
			assert.Equal(t, "bad deploy", reason)
			return &models.RateConfig{ID: uuid.New(), Version: 4}, nil
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodPost,
		"/admin/commission/config/commission_rate/"+configID.String()+"/rollback",
		map[string]any{"target_version": 2, "reason": "bad deploy"})
	req.SetPathValue("configType", "commission_rate")
	req.SetPathValue("configId", configID.String())
	handler.Rollback(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Version zero is rejected before reaching the store.
	rec = httptest.NewRecorder()
	req = adminRequest(t, http.MethodPost,
		"/admin/commission/config/commission_rate/"+configID.String()+"/rollback",
		map[string]any{"target_version": 0})
	req.SetPathValue("configType", "commission_rate")
	req.SetPathValue("configId", configID.String())
	handler.Rollback(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigHandler_Validate(t *testing.T) {
	handler := NewConfigHandler(&stubConfigStore{}, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodPost, "/admin/commission/config/validate", map[string]any{
		"config_type": "commission_rate",
		"payload": map[string]any{
			"name":      "Standard",
			"rate_type": "percentage",
			"trigger":   "booking_confirmed",
			"base_rate": 10,
		},
	})
	handler.Validate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["valid"])

	rec = httptest.NewRecorder()
	req = adminRequest(t, http.MethodPost, "/admin/commission/config/validate", map[string]any{
		"config_type": "commission_rate",
		"payload":     map[string]any{"base_rate": 300},
	})
	handler.Validate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeResponse(t, rec)
	data = resp.Data.(map[string]any)
	assert.Equal(t, false, data["valid"])
	assert.NotEmpty(t, data["errors"])
}

func TestConfigHandler_BulkUpdate_BestEffort(t *testing.T) {
	okID := uuid.New()
	failID := uuid.New()
	store := &stubConfigStore{
		updateRate: func(_ context.Context, id uuid.UUID, _ models.RateConfigChanges, _ uuid.UUID, _ string) (*models.RateConfig, error) {
			if id == failID {
				return nil, apperrors.ErrNotFound
			}
			return &models.RateConfig{ID: id, Version: 2}, nil
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	req := adminRequest(t, http.MethodPost, "/admin/commission/config/bulk-update", map[string]any{
		"updates": []map[string]any{
			{"config_id": okID.String(), "changes": map[string]any{"base_rate": 11}},
			{"config_id": failID.String(), "changes": map[string]any{"base_rate": 12}},
		},
		"reason": "bulk adjust",
	})
	handler.BulkUpdate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["succeeded"])
	assert.Equal(t, float64(1), data["failed"])
	assert.Len(t, data["results"], 2)
}

func TestConfigHandler_Stats(t *testing.T) {
	store := &stubConfigStore{
		stats: func(context.Context) (*services.ConfigStats, error) {
			return &services.ConfigStats{TotalConfigs: 5, ActiveConfigs: 3}, nil
		},
	}
	handler := NewConfigHandler(store, &stubHistory{}, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Stats(rec, adminRequest(t, http.MethodGet, "/admin/commission/config/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
}
