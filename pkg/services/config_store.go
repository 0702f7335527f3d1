package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/cache"
	"github.com/cowors/booking-engine/pkg/events"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/repositories"
)

const (
	rateCachePrefix     = "rate_config:"
	settingsCachePrefix = "settings_config:"
)

// ConfigStats is the diagnostics payload for the stats endpoint.
type ConfigStats struct {
	TotalConfigs  int               `json:"total_configs"`
	ActiveConfigs int               `json:"active_configs"`
	ConfigsByType map[string]int    `json:"configs_by_type"`
	RecentUpdates int               `json:"recent_updates"`
	CacheStats    map[string]any    `json:"cache_stats"`
}

// ConfigStore owns create, update and rollback of versioned commission
// configuration. Every write re-validates the merged payload, supersedes
// the prior version atomically, records an audit row, refreshes the
// cache, and publishes a typed event. It never talks to the broadcast
// layer directly.
type ConfigStore interface {
	CreateRateConfig(ctx context.Context, payload *models.RateConfig, actor uuid.UUID) (*models.RateConfig, error)
	UpdateRateConfig(ctx context.Context, configID uuid.UUID, changes models.RateConfigChanges, actor uuid.UUID, reason string) (*models.RateConfig, error)
	RollbackRateConfig(ctx context.Context, configID uuid.UUID, targetVersion int, actor uuid.UUID, reason string) (*models.RateConfig, error)
	GetRateConfig(ctx context.Context, configID uuid.UUID) (*models.RateConfig, error)
	ListRateConfigs(ctx context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error)
	ListActiveRateConfigs(ctx context.Context) ([]*models.RateConfig, error)

	CreateSettings(ctx context.Context, payload *models.SettingsConfig, actor uuid.UUID) (*models.SettingsConfig, error)
	UpdateSettings(ctx context.Context, configID uuid.UUID, changes models.SettingsConfigChanges, actor uuid.UUID, reason string) (*models.SettingsConfig, error)
	RollbackSettings(ctx context.Context, configID uuid.UUID, targetVersion int, actor uuid.UUID, reason string) (*models.SettingsConfig, error)
	GetSettings(ctx context.Context, configID uuid.UUID) (*models.SettingsConfig, error)
	GetSettingsByScope(ctx context.Context, partnerID *uuid.UUID) (*models.SettingsConfig, error)
	ListActiveSettings(ctx context.Context) ([]*models.SettingsConfig, error)

	// WarmCache preloads every active configuration, called at startup.
	WarmCache(ctx context.Context) error

	// ClearCache drops and rewarms the cache.
	ClearCache(ctx context.Context) error

	Stats(ctx context.Context) (*ConfigStats, error)
}

type configStore struct {
	rateRepo     repositories.RateConfigRepository
	settingsRepo repositories.SettingsConfigRepository
	versionRepo  repositories.VersionRecordRepository
	cache        cache.Cache
	bus          *events.Bus
	logger       *zap.Logger

	// chainLocks serializes same-process writers per chain so two
	// concurrent updates cannot both read the same current version. The
	// transactional flag swap in the repository guards the cross-process
	// case.
	mu         sync.Mutex
	chainLocks map[uuid.UUID]*sync.Mutex
}

// NewConfigStore creates the versioned configuration store.
func NewConfigStore(
	rateRepo repositories.RateConfigRepository,
	settingsRepo repositories.SettingsConfigRepository,
	versionRepo repositories.VersionRecordRepository,
	configCache cache.Cache,
	bus *events.Bus,
	logger *zap.Logger,
) ConfigStore {
	return &configStore{
		rateRepo:     rateRepo,
		settingsRepo: settingsRepo,
		versionRepo:  versionRepo,
		cache:        configCache,
		bus:          bus,
		logger:       logger.Named("config-store"),
		chainLocks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *configStore) lockChain(chainRoot uuid.UUID) func() {
	s.mu.Lock()
	lock, ok := s.chainLocks[chainRoot]
	if !ok {
		lock = &sync.Mutex{}
		s.chainLocks[chainRoot] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *configStore) CreateRateConfig(ctx context.Context, payload *models.RateConfig, actor uuid.UUID) (*models.RateConfig, error) {
	if verr := ValidateRateConfig(payload); verr != nil {
		return nil, verr
	}

	config := *payload
	config.ID = uuid.New()
	config.Version = 1
	config.ParentConfigID = nil
	config.IsActive = true
	config.CreatedBy = actor

	record := newVersionRecord(models.ConfigTypeCommissionRate, config.ID, config.ID, 1, 0, nil, actor, config.ChangeReason)
	if err := s.rateRepo.Insert(ctx, &config, record); err != nil {
		return nil, fmt.Errorf("create rate config: %w", err)
	}

	s.cache.Set(ctx, rateCachePrefix+config.ID.String(), &config)

	s.publish(events.EventConfigCreated, config.ID, models.ConfigTypeCommissionRate, nil, 1, actor)
	s.logger.Info("created rate config",
		zap.String("config_id", config.ID.String()),
		zap.String("rate_type", string(config.RateType)))
	return &config, nil
}

func (s *configStore) UpdateRateConfig(ctx context.Context, configID uuid.UUID, changes models.RateConfigChanges, actor uuid.UUID, reason string) (*models.RateConfig, error) {
	chainRoot, err := s.rateChainRoot(ctx, configID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockChain(chainRoot)
	defer unlock()

	current, err := s.rateRepo.GetActive(ctx, chainRoot)
	if err != nil {
		return nil, fmt.Errorf("load active rate config %s: %w", chainRoot, err)
	}

	if changes.ExpectedVersion != nil && *changes.ExpectedVersion != current.Version {
		return nil, fmt.Errorf("expected version %d but chain %s is at %d: %w",
			*changes.ExpectedVersion, chainRoot, current.Version, apperrors.ErrVersionConflict)
	}

	next, diff := applyRateChanges(current, changes)
	if len(diff) == 0 {
		return current, nil
	}
	if verr := ValidateRateConfig(next); verr != nil {
		return nil, verr
	}

	next.ID = uuid.New()
	next.Version = current.Version + 1
	next.ParentConfigID = &chainRoot
	next.CreatedBy = current.CreatedBy
	next.UpdatedBy = &actor
	next.ChangeReason = reason

	record := newVersionRecord(models.ConfigTypeCommissionRate, chainRoot, next.ID, next.Version, current.Version, diff, actor, reason)
	if err := s.rateRepo.ReplaceActive(ctx, chainRoot, next, record); err != nil {
		return nil, fmt.Errorf("supersede rate config %s: %w", chainRoot, err)
	}

	// A deactivated chain leaves the cache empty rather than serving the
	// retired version until TTL expiry.
	key := rateCachePrefix + chainRoot.String()
	s.cache.Delete(ctx, key)
	if next.IsActive {
		s.cache.Set(ctx, key, next)
	}

	s.publish(events.EventConfigUpdated, chainRoot, models.ConfigTypeCommissionRate, diff, next.Version, actor)
	s.logger.Info("updated rate config",
		zap.String("config_id", chainRoot.String()),
		zap.Int("version", next.Version),
		zap.Int("changed_fields", len(diff)))
	return next, nil
}

func (s *configStore) RollbackRateConfig(ctx context.Context, configID uuid.UUID, targetVersion int, actor uuid.UUID, reason string) (*models.RateConfig, error) {
	chainRoot, err := s.rateChainRoot(ctx, configID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockChain(chainRoot)
	defer unlock()

	target, err := s.rateRepo.GetVersion(ctx, chainRoot, targetVersion)
	if err != nil {
		return nil, fmt.Errorf("version %d not found for config %s: %w", targetVersion, chainRoot, err)
	}

	current, err := s.rateRepo.GetActive(ctx, chainRoot)
	if err != nil {
		return nil, fmt.Errorf("load active rate config %s: %w", chainRoot, err)
	}

	next := *target
	next.ID = uuid.New()
	next.Version = current.Version + 1
	next.ParentConfigID = &chainRoot
	next.IsActive = true
	next.UpdatedBy = &actor
	next.ChangeReason = fmt.Sprintf("Rollback to version %d: %s", targetVersion, reason)

	diff := diffRateConfigs(current, &next)

	record := newVersionRecord(models.ConfigTypeCommissionRate, chainRoot, next.ID, next.Version, current.Version, diff, actor, next.ChangeReason)
	if err := s.rateRepo.ReplaceActive(ctx, chainRoot, &next, record); err != nil {
		return nil, fmt.Errorf("supersede rate config %s: %w", chainRoot, err)
	}

	key := rateCachePrefix + chainRoot.String()
	s.cache.Delete(ctx, key)
	s.cache.Set(ctx, key, &next)

	s.publish(events.EventConfigRollback, chainRoot, models.ConfigTypeCommissionRate, diff, next.Version, actor)
	s.logger.Info("rolled back rate config",
		zap.String("config_id", chainRoot.String()),
		zap.Int("target_version", targetVersion),
		zap.Int("new_version", next.Version))
	return &next, nil
}

func (s *configStore) GetRateConfig(ctx context.Context, configID uuid.UUID) (*models.RateConfig, error) {
	if cached, ok := cache.GetAs[*models.RateConfig](ctx, s.cache, rateCachePrefix+configID.String()); ok {
		return cached, nil
	}

	config, err := s.rateRepo.GetActive(ctx, configID)
	if err != nil {
		// configID may name a non-root version row; resolve its chain.
		chainRoot, rootErr := s.rateChainRoot(ctx, configID)
		if rootErr != nil {
			return nil, rootErr
		}
		config, err = s.rateRepo.GetActive(ctx, chainRoot)
		if err != nil {
			return nil, fmt.Errorf("load active rate config %s: %w", chainRoot, err)
		}
	}

	s.cache.Set(ctx, rateCachePrefix+config.ChainRoot().String(), config)
	return config, nil
}

func (s *configStore) ListRateConfigs(ctx context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error) {
	return s.rateRepo.List(ctx, filters)
}

func (s *configStore) ListActiveRateConfigs(ctx context.Context) ([]*models.RateConfig, error) {
	return s.rateRepo.ListActive(ctx)
}

func (s *configStore) CreateSettings(ctx context.Context, payload *models.SettingsConfig, actor uuid.UUID) (*models.SettingsConfig, error) {
	if verr := ValidateSettingsConfig(payload); verr != nil {
		return nil, verr
	}

	config := *payload
	config.ID = uuid.New()
	config.Version = 1
	config.ParentConfigID = nil
	config.IsActive = true
	config.CreatedBy = actor

	record := newVersionRecord(models.ConfigTypeCommissionSettings, config.ID, config.ID, 1, 0, nil, actor, config.ChangeReason)
	if err := s.settingsRepo.Insert(ctx, &config, record); err != nil {
		return nil, fmt.Errorf("create settings config: %w", err)
	}

	s.cache.Set(ctx, settingsCachePrefix+config.ID.String(), &config)

	s.publish(events.EventConfigCreated, config.ID, models.ConfigTypeCommissionSettings, nil, 1, actor)
	s.logger.Info("created settings config", zap.String("config_id", config.ID.String()))
	return &config, nil
}

func (s *configStore) UpdateSettings(ctx context.Context, configID uuid.UUID, changes models.SettingsConfigChanges, actor uuid.UUID, reason string) (*models.SettingsConfig, error) {
	chainRoot, err := s.settingsChainRoot(ctx, configID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockChain(chainRoot)
	defer unlock()

	current, err := s.settingsRepo.GetActive(ctx, chainRoot)
	if err != nil {
		return nil, fmt.Errorf("load active settings %s: %w", chainRoot, err)
	}

	if changes.ExpectedVersion != nil && *changes.ExpectedVersion != current.Version {
		return nil, fmt.Errorf("expected version %d but chain %s is at %d: %w",
			*changes.ExpectedVersion, chainRoot, current.Version, apperrors.ErrVersionConflict)
	}

	next, diff := applySettingsChanges(current, changes)
	if len(diff) == 0 {
		return current, nil
	}
	if verr := ValidateSettingsConfig(next); verr != nil {
		return nil, verr
	}

	next.ID = uuid.New()
	next.Version = current.Version + 1
	next.ParentConfigID = &chainRoot
	next.CreatedBy = current.CreatedBy
	next.UpdatedBy = &actor
	next.ChangeReason = reason

	record := newVersionRecord(models.ConfigTypeCommissionSettings, chainRoot, next.ID, next.Version, current.Version, diff, actor, reason)
	if err := s.settingsRepo.ReplaceActive(ctx, chainRoot, next, record); err != nil {
		return nil, fmt.Errorf("supersede settings %s: %w", chainRoot, err)
	}

	key := settingsCachePrefix + chainRoot.String()
	s.cache.Delete(ctx, key)
	if next.IsActive {
		s.cache.Set(ctx, key, next)
	}

	s.publish(events.EventConfigUpdated, chainRoot, models.ConfigTypeCommissionSettings, diff, next.Version, actor)
	s.logger.Info("updated settings config",
		zap.String("config_id", chainRoot.String()),
		zap.Int("version", next.Version))
	return next, nil
}

func (s *configStore) RollbackSettings(ctx context.Context, configID uuid.UUID, targetVersion int, actor uuid.UUID, reason string) (*models.SettingsConfig, error) {
	chainRoot, err := s.settingsChainRoot(ctx, configID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockChain(chainRoot)
	defer unlock()

	target, err := s.settingsRepo.GetVersion(ctx, chainRoot, targetVersion)
	if err != nil {
		return nil, fmt.Errorf("version %d not found for config %s: %w", targetVersion, chainRoot, err)
	}

	current, err := s.settingsRepo.GetActive(ctx, chainRoot)
	if err != nil {
		return nil, fmt.Errorf("load active settings %s: %w", chainRoot, err)
	}

	next := *target
	next.ID = uuid.New()
	next.Version = current.Version + 1
	next.ParentConfigID = &chainRoot
	next.IsActive = true
	next.UpdatedBy = &actor
	next.ChangeReason = fmt.Sprintf("Rollback to version %d: %s", targetVersion, reason)

	diff := diffSettingsConfigs(current, &next)

	record := newVersionRecord(models.ConfigTypeCommissionSettings, chainRoot, next.ID, next.Version, current.Version, diff, actor, next.ChangeReason)
	if err := s.settingsRepo.ReplaceActive(ctx, chainRoot, &next, record); err != nil {
		return nil, fmt.Errorf("supersede settings %s: %w", chainRoot, err)
	}

	key := settingsCachePrefix + chainRoot.String()
	s.cache.Delete(ctx, key)
	s.cache.Set(ctx, key, &next)

	s.publish(events.EventConfigRollback, chainRoot, models.ConfigTypeCommissionSettings, diff, next.Version, actor)
	return &next, nil
}

func (s *configStore) GetSettings(ctx context.Context, configID uuid.UUID) (*models.SettingsConfig, error) {
	if cached, ok := cache.GetAs[*models.SettingsConfig](ctx, s.cache, settingsCachePrefix+configID.String()); ok {
		return cached, nil
	}

	config, err := s.settingsRepo.GetActive(ctx, configID)
	if err != nil {
		chainRoot, rootErr := s.settingsChainRoot(ctx, configID)
		if rootErr != nil {
			return nil, rootErr
		}
		config, err = s.settingsRepo.GetActive(ctx, chainRoot)
		if err != nil {
			return nil, fmt.Errorf("load active settings %s: %w", chainRoot, err)
		}
	}

	s.cache.Set(ctx, settingsCachePrefix+config.ChainRoot().String(), config)
	return config, nil
}

func (s *configStore) GetSettingsByScope(ctx context.Context, partnerID *uuid.UUID) (*models.SettingsConfig, error) {
	return s.settingsRepo.GetActiveByScope(ctx, partnerID)
}

func (s *configStore) ListActiveSettings(ctx context.Context) ([]*models.SettingsConfig, error) {
	return s.settingsRepo.ListActive(ctx)
}

func (s *configStore) WarmCache(ctx context.Context) error {
	rates, err := s.rateRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	for _, config := range rates {
		s.cache.Set(ctx, rateCachePrefix+config.ChainRoot().String(), config)
	}

	settings, err := s.settingsRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	for _, config := range settings {
		s.cache.Set(ctx, settingsCachePrefix+config.ChainRoot().String(), config)
	}

	s.logger.Info("warmed config cache",
		zap.Int("rate_configs", len(rates)),
		zap.Int("settings", len(settings)))
	return nil
}

func (s *configStore) ClearCache(ctx context.Context) error {
	s.cache.Clear(ctx)
	return s.WarmCache(ctx)
}

func (s *configStore) Stats(ctx context.Context) (*ConfigStats, error) {
	total, active, err := s.rateRepo.Counts(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := s.settingsRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.versionRepo.CountSince(ctx, 24)
	if err != nil {
		return nil, err
	}

	return &ConfigStats{
		TotalConfigs:  total + len(settings),
		ActiveConfigs: active + len(settings),
		ConfigsByType: map[string]int{
			string(models.ConfigTypeCommissionRate):     total,
			string(models.ConfigTypeCommissionSettings): len(settings),
		},
		RecentUpdates: recent,
		CacheStats: map[string]any{
			"size": s.cache.Len(ctx),
			"keys": s.cache.Keys(ctx),
		},
	}, nil
}

func (s *configStore) rateChainRoot(ctx context.Context, configID uuid.UUID) (uuid.UUID, error) {
	row, err := s.rateRepo.GetByID(ctx, configID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("rate config %s: %w", configID, err)
	}
	return row.ChainRoot(), nil
}

func (s *configStore) settingsChainRoot(ctx context.Context, configID uuid.UUID) (uuid.UUID, error) {
	row, err := s.settingsRepo.GetByID(ctx, configID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("settings config %s: %w", configID, err)
	}
	return row.ChainRoot(), nil
}

// newVersionRecord builds the audit row that rides the config write's
// transaction, so the trail can never miss a committed transition.
func newVersionRecord(configType models.ConfigType, chainRoot, versionID uuid.UUID, version, parentVersion int, diff map[string]models.FieldChange, actor uuid.UUID, reason string) *models.VersionRecord {
	return &models.VersionRecord{
		ID:            uuid.New(),
		ConfigID:      chainRoot,
		VersionID:     versionID,
		ConfigType:    configType,
		Version:       version,
		ParentVersion: parentVersion,
		Changes:       diff,
		CreatedBy:     actor,
		Reason:        reason,
	}
}

func (s *configStore) publish(eventType events.EventType, configID uuid.UUID, configType models.ConfigType, diff map[string]models.FieldChange, version int, actor uuid.UUID) {
	s.bus.Publish(events.Event{
		Type:       eventType,
		ConfigID:   configID,
		ConfigType: configType,
		Changes:    diff,
		Version:    version,
		Timestamp:  time.Now().UTC(),
		UserID:     actor,
	})
}

var _ ConfigStore = (*configStore)(nil)
