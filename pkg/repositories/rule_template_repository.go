package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/database"
	"github.com/cowors/booking-engine/pkg/models"
)

// RuleTemplateRepository reads and writes the rule documents attached to
// partner types and categories. Documents live as JSONB columns on the
// owning row; they are mutated in place, not separately versioned.
type RuleTemplateRepository interface {
	GetCategory(ctx context.Context, id uuid.UUID) (*models.PartnerCategory, error)
	GetPartnerType(ctx context.Context, id uuid.UUID) (*models.PartnerType, error)

	// UpdateCategoryRules replaces one rule document on a category.
	UpdateCategoryRules(ctx context.Context, id uuid.UUID, ruleType models.RuleType, doc []byte) error

	// UpdatePartnerTypeRules replaces one rule document on a partner type.
	UpdatePartnerTypeRules(ctx context.Context, id uuid.UUID, ruleType models.RuleType, doc []byte) error

	// ListCategoryIDsByType returns the ids of every category under a
	// partner type, used for conservative cache invalidation when a
	// parent document changes.
	ListCategoryIDsByType(ctx context.Context, partnerTypeID uuid.UUID) ([]uuid.UUID, error)
}

type ruleTemplateRepository struct {
	db *database.DB
}

// NewRuleTemplateRepository creates a rule template repository on the
// given connection pool.
func NewRuleTemplateRepository(db *database.DB) RuleTemplateRepository {
	return &ruleTemplateRepository{db: db}
}

func ruleColumn(ruleType models.RuleType) (string, error) {
	switch ruleType {
	case models.RuleTypePricing:
		return "pricing_rules", nil
	case models.RuleTypeFeature:
		return "feature_rules", nil
	case models.RuleTypeValidation:
		return "validation_rules", nil
	case models.RuleTypeAvailability:
		return "availability_rules", nil
	}
	return "", fmt.Errorf("unknown rule type: %s", ruleType)
}

func (r *ruleTemplateRepository) GetCategory(ctx context.Context, id uuid.UUID) (*models.PartnerCategory, error) {
	query := `
		SELECT id, partner_type_id, name, slug, pricing_rules, feature_rules, validation_rules, availability_rules
		FROM partner_categories
		WHERE id = $1`

	var category models.PartnerCategory
	var pricing, feature, validation, availability []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&category.ID, &category.PartnerTypeID, &category.Name, &category.Slug,
		&pricing, &feature, &validation, &availability,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("query partner category: %w", err)
	}

	category.RuleDocs = ruleDocs(pricing, feature, validation, availability)
	return &category, nil
}

func (r *ruleTemplateRepository) GetPartnerType(ctx context.Context, id uuid.UUID) (*models.PartnerType, error) {
	query := `
		SELECT id, name, slug, pricing_rules, feature_rules, validation_rules, availability_rules
		FROM partner_types
		WHERE id = $1`

	var partnerType models.PartnerType
	var pricing, feature, validation, availability []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&partnerType.ID, &partnerType.Name, &partnerType.Slug,
		&pricing, &feature, &validation, &availability,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("query partner type: %w", err)
	}

	partnerType.RuleDocs = ruleDocs(pricing, feature, validation, availability)
	return &partnerType, nil
}

func (r *ruleTemplateRepository) UpdateCategoryRules(ctx context.Context, id uuid.UUID, ruleType models.RuleType, doc []byte) error {
	column, err := ruleColumn(ruleType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE partner_categories SET %s = $2, updated_at = NOW() WHERE id = $1`, column)
	tag, err := r.db.Exec(ctx, query, id, doc)
	if err != nil {
		return fmt.Errorf("update category %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("category %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *ruleTemplateRepository) UpdatePartnerTypeRules(ctx context.Context, id uuid.UUID, ruleType models.RuleType, doc []byte) error {
	column, err := ruleColumn(ruleType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE partner_types SET %s = $2, updated_at = NOW() WHERE id = $1`, column)
	tag, err := r.db.Exec(ctx, query, id, doc)
	if err != nil {
		return fmt.Errorf("update partner type %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("partner type %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *ruleTemplateRepository) ListCategoryIDsByType(ctx context.Context, partnerTypeID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM partner_categories WHERE partner_type_id = $1`, partnerTypeID)
	if err != nil {
		return nil, fmt.Errorf("query categories by type: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func ruleDocs(pricing, feature, validation, availability []byte) map[models.RuleType]json.RawMessage {
	docs := make(map[models.RuleType]json.RawMessage, 4)
	set := func(ruleType models.RuleType, data []byte) {
		if len(data) > 0 && string(data) != "null" {
			docs[ruleType] = json.RawMessage(data)
		}
	}
	set(models.RuleTypePricing, pricing)
	set(models.RuleTypeFeature, feature)
	set(models.RuleTypeValidation, validation)
	set(models.RuleTypeAvailability, availability)
	return docs
}

var _ RuleTemplateRepository = (*ruleTemplateRepository)(nil)
