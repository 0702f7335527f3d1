package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cowors/booking-engine/pkg/database"
	"github.com/cowors/booking-engine/pkg/models"
)

// VersionRecordRepository stores the append-only audit trail of
// configuration transitions. Records are only ever inserted; history
// queries are served entirely from these rows so audit and rollback work
// across restarts and instances.
type VersionRecordRepository interface {
	Insert(ctx context.Context, record *models.VersionRecord) error

	// ListByConfig returns the chain's records newest first. limit <= 0
	// means no truncation.
	ListByConfig(ctx context.Context, chainRoot uuid.UUID, limit int) ([]*models.VersionRecord, error)

	// MaxVersion returns the highest recorded version for the chain, zero
	// when the chain has no records.
	MaxVersion(ctx context.Context, chainRoot uuid.UUID) (int, error)

	// CountSince returns the number of records created in the last
	// interval given in hours, for the stats endpoint.
	CountSince(ctx context.Context, hours int) (int, error)
}

type versionRecordRepository struct {
	db *database.DB
}

// NewVersionRecordRepository creates a version record repository on the
// given connection pool.
func NewVersionRecordRepository(db *database.DB) VersionRecordRepository {
	return &versionRecordRepository{db: db}
}

func (r *versionRecordRepository) Insert(ctx context.Context, record *models.VersionRecord) error {
	return insertVersionRecord(ctx, r.db, record)
}

// rowQuerier is satisfied by both the pool wrapper and pgx.Tx so a
// record can be written inside the config write's own transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertVersionRecord(ctx context.Context, q rowQuerier, record *models.VersionRecord) error {
	changes, err := json.Marshal(record.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	query := `
		INSERT INTO config_version_records
			(id, config_id, version_id, config_type, version, parent_version, changes, created_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at`

	err = q.QueryRow(ctx, query,
		record.ID, record.ConfigID, record.VersionID, record.ConfigType,
		record.Version, record.ParentVersion, changes, record.CreatedBy, record.Reason,
	).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version record: %w", err)
	}
	return nil
}

func (r *versionRecordRepository) ListByConfig(ctx context.Context, chainRoot uuid.UUID, limit int) ([]*models.VersionRecord, error) {
	query := `
		SELECT id, config_id, version_id, config_type, version, parent_version, changes, created_by, reason, created_at
		FROM config_version_records
		WHERE config_id = $1
		ORDER BY version DESC`
	args := []any{chainRoot}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query version records: %w", err)
	}
	defer rows.Close()

	var records []*models.VersionRecord
	for rows.Next() {
		record, err := scanVersionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *versionRecordRepository) MaxVersion(ctx context.Context, chainRoot uuid.UUID) (int, error) {
	var max int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM config_version_records
		WHERE config_id = $1`, chainRoot).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query max version: %w", err)
	}
	return max, nil
}

func (r *versionRecordRepository) CountSince(ctx context.Context, hours int) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM config_version_records
		WHERE created_at > NOW() - make_interval(hours => $1)`, hours).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent version records: %w", err)
	}
	return count, nil
}

func scanVersionRecord(row pgx.Row) (*models.VersionRecord, error) {
	var record models.VersionRecord
	var changes []byte

	err := row.Scan(
		&record.ID, &record.ConfigID, &record.VersionID, &record.ConfigType,
		&record.Version, &record.ParentVersion, &changes, &record.CreatedBy,
		&record.Reason, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 && string(changes) != "null" {
		if err := json.Unmarshal(changes, &record.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	record.RollbackAvailable = record.Version > 1
	return &record, nil
}

var _ VersionRecordRepository = (*versionRecordRepository)(nil)
