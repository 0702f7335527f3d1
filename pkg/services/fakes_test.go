package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/repositories"
)

// fakeRateRepo mirrors the repository's chain semantics in memory:
// versions of a chain share a root id and at most one row is active.
// The audit record shares the write's fate, like the real transaction.
type fakeRateRepo struct {
	mu       sync.Mutex
	rows     []*models.RateConfig
	versions *fakeVersionRepo
}

func (f *fakeRateRepo) inChain(row *models.RateConfig, chainRoot uuid.UUID) bool {
	return row.ID == chainRoot || (row.ParentConfigID != nil && *row.ParentConfigID == chainRoot)
}

func (f *fakeRateRepo) Insert(ctx context.Context, config *models.RateConfig, record *models.VersionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record != nil {
		if err := f.versions.Insert(ctx, record); err != nil {
			return err
		}
	}
	now := time.Now()
	config.CreatedAt = now
	config.UpdatedAt = now
	clone := *config
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeRateRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RateConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeRateRepo) GetActive(_ context.Context, chainRoot uuid.UUID) (*models.RateConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.IsActive {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeRateRepo) GetVersion(_ context.Context, chainRoot uuid.UUID, version int) (*models.RateConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.Version == version {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeRateRepo) ListChain(_ context.Context, chainRoot uuid.UUID) ([]*models.RateConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chain []*models.RateConfig
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) {
			clone := *row
			chain = append(chain, &clone)
		}
	}
	return chain, nil
}

func (f *fakeRateRepo) List(_ context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RateConfig
	for _, row := range f.rows {
		if filters.IsActive != nil && row.IsActive != *filters.IsActive {
			continue
		}
		if filters.PartnerID != nil && (row.PartnerID == nil || *row.PartnerID != *filters.PartnerID) {
			continue
		}
		clone := *row
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRateRepo) ListActive(_ context.Context) ([]*models.RateConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RateConfig
	for _, row := range f.rows {
		if row.IsActive {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeRateRepo) ReplaceActive(ctx context.Context, chainRoot uuid.UUID, next *models.RateConfig, record *models.VersionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hasActive := false
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.IsActive {
			hasActive = true
		}
	}
	if !hasActive {
		return fmt.Errorf("chain %s has no active version: %w", chainRoot, apperrors.ErrNotFound)
	}
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.Version == next.Version {
			return fmt.Errorf("insert rate config version %d: %w", next.Version, apperrors.ErrVersionConflict)
		}
	}
	if record != nil {
		if err := f.versions.Insert(ctx, record); err != nil {
			return err
		}
	}
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.IsActive {
			row.IsActive = false
		}
	}

	now := time.Now()
	next.CreatedAt = now
	next.UpdatedAt = now
	clone := *next
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeRateRepo) Counts(_ context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, row := range f.rows {
		if row.IsActive {
			active++
		}
	}
	return len(f.rows), active, nil
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	rows     []*models.SettingsConfig
	versions *fakeVersionRepo
}

func (f *fakeSettingsRepo) inChain(row *models.SettingsConfig, chainRoot uuid.UUID) bool {
	return row.ID == chainRoot || (row.ParentConfigID != nil && *row.ParentConfigID == chainRoot)
}

func (f *fakeSettingsRepo) Insert(ctx context.Context, config *models.SettingsConfig, record *models.VersionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record != nil {
		if err := f.versions.Insert(ctx, record); err != nil {
			return err
		}
	}
	now := time.Now()
	config.CreatedAt = now
	config.UpdatedAt = now
	clone := *config
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeSettingsRepo) GetByID(_ context.Context, id uuid.UUID) (*models.SettingsConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeSettingsRepo) GetActive(_ context.Context, chainRoot uuid.UUID) (*models.SettingsConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.IsActive {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeSettingsRepo) GetVersion(_ context.Context, chainRoot uuid.UUID, version int) (*models.SettingsConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.Version == version {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeSettingsRepo) GetActiveByScope(_ context.Context, partnerID *uuid.UUID) (*models.SettingsConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if !row.IsActive {
			continue
		}
		if partnerID == nil && row.PartnerID == nil {
			clone := *row
			return &clone, nil
		}
		if partnerID != nil && row.PartnerID != nil && *row.PartnerID == *partnerID {
			clone := *row
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeSettingsRepo) ListChain(_ context.Context, chainRoot uuid.UUID) ([]*models.SettingsConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chain []*models.SettingsConfig
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) {
			clone := *row
			chain = append(chain, &clone)
		}
	}
	return chain, nil
}

func (f *fakeSettingsRepo) ListActive(_ context.Context) ([]*models.SettingsConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SettingsConfig
	for _, row := range f.rows {
		if row.IsActive {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeSettingsRepo) ReplaceActive(ctx context.Context, chainRoot uuid.UUID, next *models.SettingsConfig, record *models.VersionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hasActive := false
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.IsActive {
			hasActive = true
		}
	}
	if !hasActive {
		return fmt.Errorf("chain %s has no active version: %w", chainRoot, apperrors.ErrNotFound)
	}
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.Version == next.Version {
			return fmt.Errorf("insert settings version %d: %w", next.Version, apperrors.ErrVersionConflict)
		}
	}
	if record != nil {
		if err := f.versions.Insert(ctx, record); err != nil {
			return err
		}
	}
	for _, row := range f.rows {
		if f.inChain(row, chainRoot) && row.IsActive {
			row.IsActive = false
		}
	}

	now := time.Now()
	next.CreatedAt = now
	next.UpdatedAt = now
	clone := *next
	f.rows = append(f.rows, &clone)
	return nil
}

type fakeVersionRepo struct {
	mu        sync.Mutex
	records   []*models.VersionRecord
	insertErr error
}

func (f *fakeVersionRepo) Insert(_ context.Context, record *models.VersionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	record.CreatedAt = time.Now()
	clone := *record
	f.records = append(f.records, &clone)
	return nil
}

func (f *fakeVersionRepo) ListByConfig(_ context.Context, chainRoot uuid.UUID, limit int) ([]*models.VersionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.VersionRecord
	// Newest first, matching the repository's ORDER BY version DESC.
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].ConfigID != chainRoot {
			continue
		}
		clone := *f.records[i]
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeVersionRepo) MaxVersion(_ context.Context, chainRoot uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, record := range f.records {
		if record.ConfigID == chainRoot && record.Version > max {
			max = record.Version
		}
	}
	return max, nil
}

func (f *fakeVersionRepo) CountSince(_ context.Context, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

var (
	_ repositories.RateConfigRepository     = (*fakeRateRepo)(nil)
	_ repositories.SettingsConfigRepository = (*fakeSettingsRepo)(nil)
	_ repositories.VersionRecordRepository  = (*fakeVersionRepo)(nil)
)
