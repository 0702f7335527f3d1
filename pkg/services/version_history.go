package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/repositories"
)

// VersionHistory exposes the audit trail of a versioned configuration.
// Records are written by the store at commit time; this service only
// reads them, deriving activity flags from the live chain state so the
// trail stays correct across restarts and multiple instances.
type VersionHistory interface {
	History(ctx context.Context, configID uuid.UUID, limit int) ([]*models.VersionRecord, error)
	Diff(ctx context.Context, configType models.ConfigType, configID uuid.UUID, fromVersion, toVersion int) (map[string]models.FieldChange, error)

	// RollbackAvailable reports whether the chain has any version beyond
	// the first to roll back to.
	RollbackAvailable(ctx context.Context, configID uuid.UUID) (bool, error)
}

type versionHistory struct {
	versionRepo  repositories.VersionRecordRepository
	rateRepo     repositories.RateConfigRepository
	settingsRepo repositories.SettingsConfigRepository
	logger       *zap.Logger
}

// NewVersionHistory creates the history reader.
func NewVersionHistory(
	versionRepo repositories.VersionRecordRepository,
	rateRepo repositories.RateConfigRepository,
	settingsRepo repositories.SettingsConfigRepository,
	logger *zap.Logger,
) VersionHistory {
	return &versionHistory{
		versionRepo:  versionRepo,
		rateRepo:     rateRepo,
		settingsRepo: settingsRepo,
		logger:       logger.Named("version-history"),
	}
}

// History returns the version trail for a chain, newest first. IsActive
// is derived at read time: only the highest recorded version is live.
func (h *versionHistory) History(ctx context.Context, configID uuid.UUID, limit int) ([]*models.VersionRecord, error) {
	records, err := h.versionRepo.ListByConfig(ctx, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("list version history for %s: %w", configID, err)
	}
	if len(records) == 0 {
		return records, nil
	}

	max, err := h.versionRepo.MaxVersion(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("resolve current version for %s: %w", configID, err)
	}
	for _, record := range records {
		record.IsActive = record.Version == max
	}
	return records, nil
}

// Diff compares the business fields of two recorded versions.
func (h *versionHistory) RollbackAvailable(ctx context.Context, configID uuid.UUID) (bool, error) {
	max, err := h.versionRepo.MaxVersion(ctx, configID)
	if err != nil {
		return false, fmt.Errorf("resolve current version for %s: %w", configID, err)
	}
	return max > 1, nil
}

func (h *versionHistory) Diff(ctx context.Context, configType models.ConfigType, configID uuid.UUID, fromVersion, toVersion int) (map[string]models.FieldChange, error) {
	switch configType {
	case models.ConfigTypeCommissionRate:
		from, err := h.rateRepo.GetVersion(ctx, configID, fromVersion)
		if err != nil {
			return nil, fmt.Errorf("version %d not found for config %s: %w", fromVersion, configID, err)
		}
		to, err := h.rateRepo.GetVersion(ctx, configID, toVersion)
		if err != nil {
			return nil, fmt.Errorf("version %d not found for config %s: %w", toVersion, configID, err)
		}
		return diffRateConfigs(from, to), nil

	case models.ConfigTypeCommissionSettings:
		from, err := h.settingsRepo.GetVersion(ctx, configID, fromVersion)
		if err != nil {
			return nil, fmt.Errorf("version %d not found for config %s: %w", fromVersion, configID, err)
		}
		to, err := h.settingsRepo.GetVersion(ctx, configID, toVersion)
		if err != nil {
			return nil, fmt.Errorf("version %d not found for config %s: %w", toVersion, configID, err)
		}
		return diffSettingsConfigs(from, to), nil

	default:
		return nil, fmt.Errorf("unknown config type %q", configType)
	}
}

var _ VersionHistory = (*versionHistory)(nil)
