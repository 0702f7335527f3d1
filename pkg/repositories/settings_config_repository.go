package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/database"
	"github.com/cowors/booking-engine/pkg/models"
)

// SettingsConfigRepository defines data access for versioned commission
// settings. Settings follow the same chain contract as rate configs.
type SettingsConfigRepository interface {
	// Insert persists a new version row, writing a non-nil record in the
	// same transaction.
	Insert(ctx context.Context, config *models.SettingsConfig, record *models.VersionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SettingsConfig, error)
	GetActive(ctx context.Context, chainRoot uuid.UUID) (*models.SettingsConfig, error)
	GetVersion(ctx context.Context, chainRoot uuid.UUID, version int) (*models.SettingsConfig, error)

	// GetActiveByScope returns the active settings for a partner scope,
	// nil partnerID meaning the global scope.
	GetActiveByScope(ctx context.Context, partnerID *uuid.UUID) (*models.SettingsConfig, error)

	ListChain(ctx context.Context, chainRoot uuid.UUID) ([]*models.SettingsConfig, error)
	ListActive(ctx context.Context) ([]*models.SettingsConfig, error)

	// ReplaceActive atomically supersedes the chain's active version. A
	// non-nil record joins the same transaction.
	ReplaceActive(ctx context.Context, chainRoot uuid.UUID, next *models.SettingsConfig, record *models.VersionRecord) error
}

type settingsConfigRepository struct {
	db *database.DB
}

// NewSettingsConfigRepository creates a settings repository on the given
// connection pool.
func NewSettingsConfigRepository(db *database.DB) SettingsConfigRepository {
	return &settingsConfigRepository{db: db}
}

const settingsColumns = `id, version, parent_config_id, partner_id, default_commission_percentage,
	minimum_payout_amount, payment_processing_days, auto_approval_threshold, is_active,
	change_reason, created_by, updated_by, created_at, updated_at`

func (r *settingsConfigRepository) Insert(ctx context.Context, config *models.SettingsConfig, record *models.VersionRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertSettingsConfigRow(ctx, tx, config); err != nil {
		return err
	}
	if record != nil {
		if err := insertVersionRecord(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settings insert: %w", err)
	}
	return nil
}

func insertSettingsConfigRow(ctx context.Context, q rowQuerier, config *models.SettingsConfig) error {
	query := `
		INSERT INTO commission_settings_configs (` + settingsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := q.QueryRow(ctx, query,
		config.ID, config.Version, config.ParentConfigID, config.PartnerID,
		config.DefaultCommissionPercentage, config.MinimumPayoutAmount,
		config.PaymentProcessingDays, config.AutoApprovalThreshold, config.IsActive,
		config.ChangeReason, config.CreatedBy, config.UpdatedBy,
	).Scan(&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert settings version %d: %w", config.Version, apperrors.ErrVersionConflict)
		}
		return fmt.Errorf("insert settings config: %w", err)
	}
	return nil
}

func (r *settingsConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SettingsConfig, error) {
	query := `SELECT ` + settingsColumns + ` FROM commission_settings_configs WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *settingsConfigRepository) GetActive(ctx context.Context, chainRoot uuid.UUID) (*models.SettingsConfig, error) {
	query := `SELECT ` + settingsColumns + `
		FROM commission_settings_configs
		WHERE (id = $1 OR parent_config_id = $1) AND is_active = true`
	return r.queryOne(ctx, query, chainRoot)
}

func (r *settingsConfigRepository) GetVersion(ctx context.Context, chainRoot uuid.UUID, version int) (*models.SettingsConfig, error) {
	query := `SELECT ` + settingsColumns + `
		FROM commission_settings_configs
		WHERE (id = $1 OR parent_config_id = $1) AND version = $2`
	return r.queryOne(ctx, query, chainRoot, version)
}

func (r *settingsConfigRepository) GetActiveByScope(ctx context.Context, partnerID *uuid.UUID) (*models.SettingsConfig, error) {
	if partnerID == nil {
		query := `SELECT ` + settingsColumns + `
			FROM commission_settings_configs
			WHERE partner_id IS NULL AND is_active = true`
		return r.queryOne(ctx, query)
	}
	query := `SELECT ` + settingsColumns + `
		FROM commission_settings_configs
		WHERE partner_id = $1 AND is_active = true`
	return r.queryOne(ctx, query, *partnerID)
}

func (r *settingsConfigRepository) ListChain(ctx context.Context, chainRoot uuid.UUID) ([]*models.SettingsConfig, error) {
	query := `SELECT ` + settingsColumns + `
		FROM commission_settings_configs
		WHERE id = $1 OR parent_config_id = $1
		ORDER BY version DESC`
	return r.queryMany(ctx, query, chainRoot)
}

func (r *settingsConfigRepository) ListActive(ctx context.Context) ([]*models.SettingsConfig, error) {
	query := `SELECT ` + settingsColumns + `
		FROM commission_settings_configs
		WHERE is_active = true
		ORDER BY updated_at DESC`
	return r.queryMany(ctx, query)
}

func (r *settingsConfigRepository) ReplaceActive(ctx context.Context, chainRoot uuid.UUID, next *models.SettingsConfig, record *models.VersionRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE commission_settings_configs
		SET is_active = false, updated_at = NOW()
		WHERE (id = $1 OR parent_config_id = $1) AND is_active = true`, chainRoot)
	if err != nil {
		return fmt.Errorf("deactivate current version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chain %s has no active version: %w", chainRoot, apperrors.ErrNotFound)
	}

	if err := insertSettingsConfigRow(ctx, tx, next); err != nil {
		return err
	}
	if record != nil {
		if err := insertVersionRecord(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit version replacement: %w", err)
	}
	return nil
}

func (r *settingsConfigRepository) queryOne(ctx context.Context, query string, args ...any) (*models.SettingsConfig, error) {
	config, err := scanSettingsConfig(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("query settings config: %w", err)
	}
	return config, nil
}

func (r *settingsConfigRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.SettingsConfig, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settings configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.SettingsConfig
	for rows.Next() {
		config, err := scanSettingsConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings config: %w", err)
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

func scanSettingsConfig(row pgx.Row) (*models.SettingsConfig, error) {
	var config models.SettingsConfig
	err := row.Scan(
		&config.ID, &config.Version, &config.ParentConfigID, &config.PartnerID,
		&config.DefaultCommissionPercentage, &config.MinimumPayoutAmount,
		&config.PaymentProcessingDays, &config.AutoApprovalThreshold, &config.IsActive,
		&config.ChangeReason, &config.CreatedBy, &config.UpdatedBy,
		&config.CreatedAt, &config.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

var _ SettingsConfigRepository = (*settingsConfigRepository)(nil)
