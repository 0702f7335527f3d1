package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RuleType identifies one of the rule sub-documents attached to a partner
// type or category.
type RuleType string

const (
	RuleTypePricing      RuleType = "pricing"
	RuleTypeFeature      RuleType = "feature"
	RuleTypeValidation   RuleType = "validation"
	RuleTypeAvailability RuleType = "availability"
)

// RuleTypes lists every known rule type, used when a write has to
// invalidate all inheritance cache entries for an entity.
var RuleTypes = []RuleType{RuleTypePricing, RuleTypeFeature, RuleTypeValidation, RuleTypeAvailability}

// ValidRuleType reports whether t is a known rule type.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleTypePricing, RuleTypeFeature, RuleTypeValidation, RuleTypeAvailability:
		return true
	}
	return false
}

// RuleTemplate is one rule sub-document. Known fields are typed per kind;
// unknown top-level keys survive round trips through the Extra bag so
// newer documents remain readable. Fields exposes the document as its
// top-level key set, which is what the inheritance merge operates on.
type RuleTemplate interface {
	RuleType() RuleType
	Fields() map[string]any
}

// DiscountRule is one discount entry of a pricing document.
type DiscountRule struct {
	Type  string  `json:"type"` // "percentage" or "fixed"
	Value float64 `json:"value"`
}

// PricingRuleTemplate holds pricing rules for a partner type or category.
// BasePrice is a bag of named bounds (min, max, default, currency).
type PricingRuleTemplate struct {
	BasePrice     map[string]any `json:"base_price,omitempty"`
	DiscountRules []DiscountRule `json:"discount_rules,omitempty"`
	Extra         map[string]any `json:"-"`
}

func (t *PricingRuleTemplate) RuleType() RuleType { return RuleTypePricing }

func (t *PricingRuleTemplate) Fields() map[string]any {
	fields := cloneExtra(t.Extra)
	if t.BasePrice != nil {
		fields["base_price"] = t.BasePrice
	}
	if t.DiscountRules != nil {
		fields["discount_rules"] = t.DiscountRules
	}
	return fields
}

// FeatureRuleTemplate holds feature gating rules.
type FeatureRuleTemplate struct {
	AllowedFeatures  []string       `json:"allowed_features,omitempty"`
	RequiredFeatures []string       `json:"required_features,omitempty"`
	Extra            map[string]any `json:"-"`
}

func (t *FeatureRuleTemplate) RuleType() RuleType { return RuleTypeFeature }

func (t *FeatureRuleTemplate) Fields() map[string]any {
	fields := cloneExtra(t.Extra)
	if t.AllowedFeatures != nil {
		fields["allowed_features"] = t.AllowedFeatures
	}
	if t.RequiredFeatures != nil {
		fields["required_features"] = t.RequiredFeatures
	}
	return fields
}

// ValidationRuleTemplate holds listing validation rules.
type ValidationRuleTemplate struct {
	MinimumRating  *float64       `json:"minimum_rating,omitempty"`
	RequiredFields []string       `json:"required_fields,omitempty"`
	Extra          map[string]any `json:"-"`
}

func (t *ValidationRuleTemplate) RuleType() RuleType { return RuleTypeValidation }

func (t *ValidationRuleTemplate) Fields() map[string]any {
	fields := cloneExtra(t.Extra)
	if t.MinimumRating != nil {
		fields["minimum_rating"] = *t.MinimumRating
	}
	if t.RequiredFields != nil {
		fields["required_fields"] = t.RequiredFields
	}
	return fields
}

// AvailabilityRuleTemplate holds booking availability rules.
type AvailabilityRuleTemplate struct {
	AdvanceBookingDays      *int           `json:"advance_booking_days,omitempty"`
	MaxBookingDurationHours *int           `json:"max_booking_duration_hours,omitempty"`
	Extra                   map[string]any `json:"-"`
}

func (t *AvailabilityRuleTemplate) RuleType() RuleType { return RuleTypeAvailability }

func (t *AvailabilityRuleTemplate) Fields() map[string]any {
	fields := cloneExtra(t.Extra)
	if t.AdvanceBookingDays != nil {
		fields["advance_booking_days"] = *t.AdvanceBookingDays
	}
	if t.MaxBookingDurationHours != nil {
		fields["max_booking_duration_hours"] = *t.MaxBookingDurationHours
	}
	return fields
}

func cloneExtra(extra map[string]any) map[string]any {
	fields := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// UnmarshalRuleDocument decodes a stored JSONB rule document into the
// typed template for ruleType. Unknown top-level keys land in Extra.
// A nil or empty document returns nil with no error.
func UnmarshalRuleDocument(ruleType RuleType, data []byte) (RuleTemplate, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal %s rule document: %w", ruleType, err)
	}

	switch ruleType {
	case RuleTypePricing:
		t := &PricingRuleTemplate{}
		if err := decodeKnown(raw, map[string]any{
			"base_price":     &t.BasePrice,
			"discount_rules": &t.DiscountRules,
		}, &t.Extra); err != nil {
			return nil, err
		}
		return t, nil
	case RuleTypeFeature:
		t := &FeatureRuleTemplate{}
		if err := decodeKnown(raw, map[string]any{
			"allowed_features":  &t.AllowedFeatures,
			"required_features": &t.RequiredFeatures,
		}, &t.Extra); err != nil {
			return nil, err
		}
		return t, nil
	case RuleTypeValidation:
		t := &ValidationRuleTemplate{}
		if err := decodeKnown(raw, map[string]any{
			"minimum_rating":  &t.MinimumRating,
			"required_fields": &t.RequiredFields,
		}, &t.Extra); err != nil {
			return nil, err
		}
		return t, nil
	case RuleTypeAvailability:
		t := &AvailabilityRuleTemplate{}
		if err := decodeKnown(raw, map[string]any{
			"advance_booking_days":       &t.AdvanceBookingDays,
			"max_booking_duration_hours": &t.MaxBookingDurationHours,
		}, &t.Extra); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown rule type: %s", ruleType)
}

func decodeKnown(raw map[string]json.RawMessage, known map[string]any, extra *map[string]any) error {
	for key, target := range known {
		data, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("decode rule field %s: %w", key, err)
		}
	}

	for key, data := range raw {
		if _, ok := known[key]; ok {
			continue
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return fmt.Errorf("decode rule field %s: %w", key, err)
		}
		if *extra == nil {
			*extra = make(map[string]any)
		}
		(*extra)[key] = value
	}
	return nil
}

// MarshalRuleDocument encodes a typed template back into the flat JSON
// document stored on the owning row, folding Extra into the top level.
func MarshalRuleDocument(t RuleTemplate) ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return json.Marshal(t.Fields())
}

// ConflictResolution names how a rule conflict was settled.
type ConflictResolution string

// ResolutionUseChild is the default policy: the leaf's value wins.
const ResolutionUseChild ConflictResolution = "use_child"

// Conflict records a field where parent and child rule values differed
// during an inheritance merge. It is produced at read time only and never
// persisted.
type Conflict struct {
	Field       string             `json:"field"`
	ParentValue any                `json:"parent_value"`
	ChildValue  any                `json:"child_value"`
	Resolution  ConflictResolution `json:"resolution"`
	Message     string             `json:"message"`
}

// EffectiveRules is the result of merging a leaf's rule document over its
// structural parent's document.
type EffectiveRules struct {
	Rules     map[string]any `json:"effective_rules"`
	Conflicts []Conflict     `json:"conflicts"`
	// Version is a content hash of Rules used as a cache-busting token,
	// not a semantic version.
	Version string `json:"version"`
}

// PartnerType is the structural parent of categories. Only the fields the
// config engine needs are modeled here; the CRUD surface around these
// rows is an external collaborator.
type PartnerType struct {
	ID       uuid.UUID                    `json:"id"`
	Name     string                       `json:"name"`
	Slug     string                       `json:"slug"`
	RuleDocs map[RuleType]json.RawMessage `json:"rule_docs,omitempty"`
}

// PartnerCategory is a leaf node whose effective rules are its own
// documents merged over its partner type's.
type PartnerCategory struct {
	ID            uuid.UUID                    `json:"id"`
	PartnerTypeID uuid.UUID                    `json:"partner_type_id"`
	Name          string                       `json:"name"`
	Slug          string                       `json:"slug"`
	RuleDocs      map[RuleType]json.RawMessage `json:"rule_docs,omitempty"`
}
