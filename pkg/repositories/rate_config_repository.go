package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/database"
	"github.com/cowors/booking-engine/pkg/models"
)

// RateConfigRepository defines data access for versioned commission rate
// configurations. Rows are append-only: an update inserts a new version
// and flips the active flag, it never rewrites business fields in place.
type RateConfigRepository interface {
	// Insert persists a new version row. A non-nil record is written in
	// the same transaction so the audit trail cannot miss the row.
	Insert(ctx context.Context, config *models.RateConfig, record *models.VersionRecord) error

	// GetByID returns the row with the given id regardless of active flag.
	// Returns apperrors.ErrNotFound if no such row exists.
	GetByID(ctx context.Context, id uuid.UUID) (*models.RateConfig, error)

	// GetActive returns the single active row of the chain rooted at
	// chainRoot. Returns apperrors.ErrNotFound if the chain is unknown.
	GetActive(ctx context.Context, chainRoot uuid.UUID) (*models.RateConfig, error)

	// GetVersion returns the chain row carrying the given version number.
	GetVersion(ctx context.Context, chainRoot uuid.UUID, version int) (*models.RateConfig, error)

	// ListChain returns every version of a chain, newest first.
	ListChain(ctx context.Context, chainRoot uuid.UUID) ([]*models.RateConfig, error)

	// List returns rows matching the filters.
	List(ctx context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error)

	// ListActive returns every active row across all chains.
	ListActive(ctx context.Context) ([]*models.RateConfig, error)

	// ReplaceActive deactivates the chain's current active row and inserts
	// next as the new active version in one transaction, so readers never
	// observe zero or two active rows. A non-nil record joins the same
	// transaction. A version collision from a concurrent writer surfaces
	// as apperrors.ErrVersionConflict.
	ReplaceActive(ctx context.Context, chainRoot uuid.UUID, next *models.RateConfig, record *models.VersionRecord) error

	// Counts returns the total and active row counts for the stats
	// endpoint.
	Counts(ctx context.Context) (total int, active int, err error)
}

type rateConfigRepository struct {
	db *database.DB
}

// NewRateConfigRepository creates a rate config repository on the given
// connection pool.
func NewRateConfigRepository(db *database.DB) RateConfigRepository {
	return &rateConfigRepository{db: db}
}

const rateConfigColumns = `id, name, description, version, parent_config_id, rate_type, trigger,
	base_rate, partner_id, space_id, tiers, effective_from, effective_to, priority,
	is_active, tags, change_reason, created_by, updated_by, created_at, updated_at`

func (r *rateConfigRepository) Insert(ctx context.Context, config *models.RateConfig, record *models.VersionRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertRateConfigRow(ctx, tx, config); err != nil {
		return err
	}
	if record != nil {
		if err := insertVersionRecord(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rate config insert: %w", err)
	}
	return nil
}

func insertRateConfigRow(ctx context.Context, q rowQuerier, config *models.RateConfig) error {
	tiers, err := json.Marshal(config.Tiers)
	if err != nil {
		return fmt.Errorf("marshal tiers: %w", err)
	}

	query := `
		INSERT INTO commission_rate_configs (` + rateConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
		RETURNING created_at, updated_at`

	err = q.QueryRow(ctx, query,
		config.ID, config.Name, config.Description, config.Version, config.ParentConfigID,
		config.RateType, config.Trigger, config.BaseRate, config.PartnerID, config.SpaceID,
		tiers, config.EffectiveFrom, config.EffectiveTo, config.Priority, config.IsActive,
		config.Tags, config.ChangeReason, config.CreatedBy, config.UpdatedBy,
	).Scan(&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert rate config version %d: %w", config.Version, apperrors.ErrVersionConflict)
		}
		return fmt.Errorf("insert rate config: %w", err)
	}
	return nil
}

func (r *rateConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RateConfig, error) {
	query := `SELECT ` + rateConfigColumns + ` FROM commission_rate_configs WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *rateConfigRepository) GetActive(ctx context.Context, chainRoot uuid.UUID) (*models.RateConfig, error) {
	query := `SELECT ` + rateConfigColumns + `
		FROM commission_rate_configs
		WHERE (id = $1 OR parent_config_id = $1) AND is_active = true`
	return r.queryOne(ctx, query, chainRoot)
}

func (r *rateConfigRepository) GetVersion(ctx context.Context, chainRoot uuid.UUID, version int) (*models.RateConfig, error) {
	query := `SELECT ` + rateConfigColumns + `
		FROM commission_rate_configs
		WHERE (id = $1 OR parent_config_id = $1) AND version = $2`
	return r.queryOne(ctx, query, chainRoot, version)
}

func (r *rateConfigRepository) ListChain(ctx context.Context, chainRoot uuid.UUID) ([]*models.RateConfig, error) {
	query := `SELECT ` + rateConfigColumns + `
		FROM commission_rate_configs
		WHERE id = $1 OR parent_config_id = $1
		ORDER BY version DESC`
	return r.queryMany(ctx, query, chainRoot)
}

func (r *rateConfigRepository) List(ctx context.Context, filters models.ConfigFilters) ([]*models.RateConfig, error) {
	var conditions []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.PartnerID != nil {
		conditions = append(conditions, "partner_id = "+arg(*filters.PartnerID))
	}
	if filters.SpaceID != nil {
		conditions = append(conditions, "space_id = "+arg(*filters.SpaceID))
	}
	if filters.IsActive != nil {
		conditions = append(conditions, "is_active = "+arg(*filters.IsActive))
	}
	if filters.EffectiveDate != nil {
		d := arg(*filters.EffectiveDate)
		conditions = append(conditions, fmt.Sprintf(
			"(effective_from IS NULL OR effective_from <= %s) AND (effective_to IS NULL OR effective_to > %s)", d, d))
	}
	if len(filters.Tags) > 0 {
		conditions = append(conditions, "tags @> "+arg(filters.Tags))
	}

	query := `SELECT ` + rateConfigColumns + ` FROM commission_rate_configs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority DESC, created_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT " + arg(filters.Limit)
	}
	if filters.Offset > 0 {
		query += " OFFSET " + arg(filters.Offset)
	}

	return r.queryMany(ctx, query, args...)
}

func (r *rateConfigRepository) ListActive(ctx context.Context) ([]*models.RateConfig, error) {
	query := `SELECT ` + rateConfigColumns + `
		FROM commission_rate_configs
		WHERE is_active = true
		ORDER BY created_at DESC`
	return r.queryMany(ctx, query)
}

func (r *rateConfigRepository) ReplaceActive(ctx context.Context, chainRoot uuid.UUID, next *models.RateConfig, record *models.VersionRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE commission_rate_configs
		SET is_active = false, updated_at = NOW()
		WHERE (id = $1 OR parent_config_id = $1) AND is_active = true`, chainRoot)
	if err != nil {
		return fmt.Errorf("deactivate current version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chain %s has no active version: %w", chainRoot, apperrors.ErrNotFound)
	}

	if err := insertRateConfigRow(ctx, tx, next); err != nil {
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

func (r *rateConfigRepository) Counts(ctx context.Context) (int, int, error) {
	var total, active int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM commission_rate_configs`).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count rate configs: %w", err)
	}
	return total, active, nil
}

func (r *rateConfigRepository) queryOne(ctx context.Context, query string, args ...any) (*models.RateConfig, error) {
	row := r.db.QueryRow(ctx, query, args...)
	config, err := scanRateConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("query rate config: %w", err)
	}
	return config, nil
}

func (r *rateConfigRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.RateConfig, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rate configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.RateConfig
	for rows.Next() {
		config, err := scanRateConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rate config: %w", err)
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

func scanRateConfig(row pgx.Row) (*models.RateConfig, error) {
	var config models.RateConfig
	var tiers []byte

	err := row.Scan(
		&config.ID, &config.Name, &config.Description, &config.Version, &config.ParentConfigID,
		&config.RateType, &config.Trigger, &config.BaseRate, &config.PartnerID, &config.SpaceID,
		&tiers, &config.EffectiveFrom, &config.EffectiveTo, &config.Priority, &config.IsActive,
		&config.Tags, &config.ChangeReason, &config.CreatedBy, &config.UpdatedBy,
		&config.CreatedAt, &config.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(tiers) > 0 && string(tiers) != "null" {
		if err := json.Unmarshal(tiers, &config.Tiers); err != nil {
			return nil, fmt.Errorf("unmarshal tiers: %w", err)
		}
	}
	return &config, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ RateConfigRepository = (*rateConfigRepository)(nil)
