package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRuleDocument_Pricing(t *testing.T) {
	doc := []byte(`{
		"base_price": {"min": 50, "max": 200, "currency": "EUR"},
		"discount_rules": [{"type": "percentage", "value": 10}]
	}`)

	template, err := UnmarshalRuleDocument(RuleTypePricing, doc)
	require.NoError(t, err)

	pricing, ok := template.(*PricingRuleTemplate)
	require.True(t, ok)
	assert.Equal(t, RuleTypePricing, pricing.RuleType())
	assert.Equal(t, float64(50), pricing.BasePrice["min"])
	require.Len(t, pricing.DiscountRules, 1)
	assert.Equal(t, "percentage", pricing.DiscountRules[0].Type)
	assert.Empty(t, pricing.Extra)
}

func TestUnmarshalRuleDocument_UnknownKeysSurvive(t *testing.T) {
	doc := []byte(`{
		"base_price": {"min": 50},
		"seasonal_multiplier": 1.2,
		"blackout_dates": ["2026-12-24"]
	}`)

	template, err := UnmarshalRuleDocument(RuleTypePricing, doc)
	require.NoError(t, err)

	pricing := template.(*PricingRuleTemplate)
	assert.Equal(t, 1.2, pricing.Extra["seasonal_multiplier"])
	assert.Equal(t, []any{"2026-12-24"}, pricing.Extra["blackout_dates"])

	// The unknown keys come back out at the top level.
	fields := pricing.Fields()
	assert.Contains(t, fields, "base_price")
	assert.Contains(t, fields, "seasonal_multiplier")
	assert.Contains(t, fields, "blackout_dates")

	encoded, err := MarshalRuleDocument(pricing)
	require.NoError(t, err)
	var roundTrip map[string]any
	require.NoError(t, json.Unmarshal(encoded, &roundTrip))
	assert.Equal(t, 1.2, roundTrip["seasonal_multiplier"])
}

func TestUnmarshalRuleDocument_EmptyDocument(t *testing.T) {
	for _, doc := range [][]byte{nil, []byte(""), []byte("null")} {
		template, err := UnmarshalRuleDocument(RuleTypePricing, doc)
		require.NoError(t, err)
		assert.Nil(t, template)
	}
}

func TestUnmarshalRuleDocument_TypedFieldMismatch(t *testing.T) {
	_, err := UnmarshalRuleDocument(RuleTypeValidation, []byte(`{"minimum_rating": "high"}`))
	require.Error(t, err)
}

func TestUnmarshalRuleDocument_AllTypes(t *testing.T) {
	tests := []struct {
		ruleType RuleType
		doc      string
		field    string
	}{
		{RuleTypeFeature, `{"allowed_features": ["wifi"]}`, "allowed_features"},
		{RuleTypeValidation, `{"minimum_rating": 4.5}`, "minimum_rating"},
		{RuleTypeAvailability, `{"advance_booking_days": 30}`, "advance_booking_days"},
	}

	for _, tt := range tests {
		t.Run(string(tt.ruleType), func(t *testing.T) {
			template, err := UnmarshalRuleDocument(tt.ruleType, []byte(tt.doc))
			require.NoError(t, err)
			require.NotNil(t, template)
			assert.Equal(t, tt.ruleType, template.RuleType())
			assert.Contains(t, template.Fields(), tt.field)
		})
	}
}

func TestUnmarshalRuleDocument_UnknownRuleType(t *testing.T) {
	_, err := UnmarshalRuleDocument("bogus", []byte(`{}`))
	require.Error(t, err)
}
