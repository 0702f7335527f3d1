package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/cache"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/repositories"
)

const ruleCachePrefix = "effective_rules:"

// ConflictStrategy decides which value wins when parent and child rule
// documents define the same field with different values.
type ConflictStrategy interface {
	Resolve(field string, parentValue, childValue any) (any, models.Conflict)
}

// ChildWinsStrategy is the default policy: the more specific node's value
// always takes precedence, and the conflict is reported for transparency.
type ChildWinsStrategy struct{}

func (ChildWinsStrategy) Resolve(field string, parentValue, childValue any) (any, models.Conflict) {
	return childValue, models.Conflict{
		Field:       field,
		ParentValue: parentValue,
		ChildValue:  childValue,
		Resolution:  models.ResolutionUseChild,
		Message:     fmt.Sprintf("field %q overridden by category", field),
	}
}

// RuleResolver computes the effective rule document of a category by
// merging its own rules over its partner type's rules. Resolution is a
// pure read; it never mutates stored documents, so resolving twice with
// unchanged inputs yields the same result.
type RuleResolver interface {
	Resolve(ctx context.Context, categoryID uuid.UUID, ruleType models.RuleType) (*models.EffectiveRules, error)

	// UpdateCategoryRules replaces a category's rule document and drops
	// its cached resolutions.
	UpdateCategoryRules(ctx context.Context, categoryID uuid.UUID, ruleType models.RuleType, doc json.RawMessage) error

	// UpdatePartnerTypeRules replaces a partner type's rule document and
	// drops cached resolutions for every category under it.
	UpdatePartnerTypeRules(ctx context.Context, partnerTypeID uuid.UUID, ruleType models.RuleType, doc json.RawMessage) error
}

type ruleResolver struct {
	repo     repositories.RuleTemplateRepository
	cache    cache.Cache
	strategy ConflictStrategy
	logger   *zap.Logger
}

// NewRuleResolver creates a resolver with the child-wins conflict policy.
func NewRuleResolver(repo repositories.RuleTemplateRepository, ruleCache cache.Cache, logger *zap.Logger) RuleResolver {
	return &ruleResolver{
		repo:     repo,
		cache:    ruleCache,
		strategy: ChildWinsStrategy{},
		logger:   logger.Named("rule-resolver"),
	}
}

func ruleCacheKey(categoryID uuid.UUID, ruleType models.RuleType) string {
	return ruleCachePrefix + categoryID.String() + ":" + string(ruleType)
}

func (r *ruleResolver) Resolve(ctx context.Context, categoryID uuid.UUID, ruleType models.RuleType) (*models.EffectiveRules, error) {
	if !models.ValidRuleType(ruleType) {
		return nil, fmt.Errorf("unknown rule type: %s", ruleType)
	}

	key := ruleCacheKey(categoryID, ruleType)
	if cached, ok := cache.GetAs[*models.EffectiveRules](ctx, r.cache, key); ok {
		return cached, nil
	}

	category, err := r.repo.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", categoryID, err)
	}

	parent, err := r.repo.GetPartnerType(ctx, category.PartnerTypeID)
	if err != nil {
		return nil, fmt.Errorf("partner type %s: %w", category.PartnerTypeID, err)
	}

	parentDoc, err := models.UnmarshalRuleDocument(ruleType, parent.RuleDocs[ruleType])
	if err != nil {
		return nil, err
	}
	childDoc, err := models.UnmarshalRuleDocument(ruleType, category.RuleDocs[ruleType])
	if err != nil {
		return nil, err
	}

	result := r.merge(parentDoc, childDoc)

	r.cache.Set(ctx, key, result)
	return result, nil
}

// merge layers the child's fields over the parent's. Fields present in
// both with differing values go through the conflict strategy; equal
// values are not conflicts.
func (r *ruleResolver) merge(parent, child models.RuleTemplate) *models.EffectiveRules {
	var parentFields, childFields map[string]any
	if parent != nil {
		parentFields = parent.Fields()
	}
	if child != nil {
		childFields = child.Fields()
	}

	rules := make(map[string]any, len(parentFields)+len(childFields))
	for field, value := range parentFields {
		rules[field] = value
	}

	var conflicts []models.Conflict
	for field, childValue := range childFields {
		parentValue, inParent := parentFields[field]
		if inParent && !reflect.DeepEqual(parentValue, childValue) {
			resolved, conflict := r.strategy.Resolve(field, parentValue, childValue)
			rules[field] = resolved
			conflicts = append(conflicts, conflict)
			continue
		}
		rules[field] = childValue
	}

	return &models.EffectiveRules{
		Rules:     rules,
		Conflicts: conflicts,
		Version:   rulesDigest(rules),
	}
}

// rulesDigest hashes the merged document in canonical key order so the
// same content always yields the same version token.
func rulesDigest(rules map[string]any) string {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		if data, err := json.Marshal(rules[k]); err == nil {
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (r *ruleResolver) UpdateCategoryRules(ctx context.Context, categoryID uuid.UUID, ruleType models.RuleType, doc json.RawMessage) error {
	if !models.ValidRuleType(ruleType) {
		return fmt.Errorf("unknown rule type: %s", ruleType)
	}
	// Round-trip through the typed template so malformed documents are
	// rejected before they reach storage.
	if _, err := models.UnmarshalRuleDocument(ruleType, doc); err != nil {
		return err
	}

	if err := r.repo.UpdateCategoryRules(ctx, categoryID, ruleType, doc); err != nil {
		return fmt.Errorf("update category %s %s rules: %w", categoryID, ruleType, err)
	}

	r.cache.Delete(ctx, ruleCacheKey(categoryID, ruleType))
	r.logger.Info("updated category rules",
		zap.String("category_id", categoryID.String()),
		zap.String("rule_type", string(ruleType)))
	return nil
}

func (r *ruleResolver) UpdatePartnerTypeRules(ctx context.Context, partnerTypeID uuid.UUID, ruleType models.RuleType, doc json.RawMessage) error {
	if !models.ValidRuleType(ruleType) {
		return fmt.Errorf("unknown rule type: %s", ruleType)
	}
	if _, err := models.UnmarshalRuleDocument(ruleType, doc); err != nil {
		return err
	}

	if err := r.repo.UpdatePartnerTypeRules(ctx, partnerTypeID, ruleType, doc); err != nil {
		return fmt.Errorf("update partner type %s %s rules: %w", partnerTypeID, ruleType, err)
	}

	// Every category under the type may resolve differently now. Drop
	// their cached entries for this rule type rather than tracking which
	// ones actually inherit the changed fields.
	categoryIDs, err := r.repo.ListCategoryIDsByType(ctx, partnerTypeID)
	if err != nil {
		r.logger.Warn("failed to enumerate categories for cache invalidation, clearing rule cache",
			zap.String("partner_type_id", partnerTypeID.String()),
			zap.Error(err))
		r.cache.DeletePrefix(ctx, ruleCachePrefix)
		return nil
	}
	for _, id := range categoryIDs {
		r.cache.Delete(ctx, ruleCacheKey(id, ruleType))
	}

	r.logger.Info("updated partner type rules",
		zap.String("partner_type_id", partnerTypeID.String()),
		zap.String("rule_type", string(ruleType)),
		zap.Int("invalidated_categories", len(categoryIDs)))
	return nil
}

var _ RuleResolver = (*ruleResolver)(nil)
