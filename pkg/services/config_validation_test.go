package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/models"
)

func fieldNames(errs []apperrors.FieldError) []string {
	names := make([]string, 0, len(errs))
	for _, e := range errs {
		names = append(names, e.Field)
	}
	return names
}

func TestValidateRateConfig_Valid(t *testing.T) {
	assert.Nil(t, ValidateRateConfig(validRatePayload()))
}

func TestValidateRateConfig_CollectsAllViolations(t *testing.T) {
	verr := ValidateRateConfig(&models.RateConfig{
		RateType: "weird",
		BaseRate: 0,
	})
	require.NotNil(t, verr)

	names := fieldNames(verr.Errors)
	assert.Contains(t, names, "name")
	assert.Contains(t, names, "rate_type")
	assert.Contains(t, names, "trigger")
}

func TestValidateRateConfig_PercentageBounds(t *testing.T) {
	config := validRatePayload()

	config.BaseRate = 101
	verr := ValidateRateConfig(config)
	require.NotNil(t, verr)
	assert.Contains(t, fieldNames(verr.Errors), "base_rate")

	config.BaseRate = 100
	assert.Nil(t, ValidateRateConfig(config))
}

func TestValidateRateConfig_EffectiveWindow(t *testing.T) {
	config := validRatePayload()
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, -1, 0)
	config.EffectiveFrom = &from
	config.EffectiveTo = &to

	verr := ValidateRateConfig(config)
	require.NotNil(t, verr)
	assert.Contains(t, fieldNames(verr.Errors), "effective_from")
}

func TestValidateRateConfig_Tiers(t *testing.T) {
	max100 := 100.0
	max50 := 50.0

	tests := []struct {
		name  string
		tiers []models.CommissionTier
		valid bool
	}{
		{
			name: "ordered non-overlapping",
			tiers: []models.CommissionTier{
				{MinAmount: 0, MaxAmount: &max100, Rate: 10},
				{MinAmount: 100, Rate: 8},
			},
			valid: true,
		},
		{
			name:  "missing tiers",
			tiers: nil,
			valid: false,
		},
		{
			name: "overlapping ranges",
			tiers: []models.CommissionTier{
				{MinAmount: 0, MaxAmount: &max100, Rate: 10},
				{MinAmount: 50, Rate: 8},
			},
			valid: false,
		},
		{
			name: "open-ended tier not last",
			tiers: []models.CommissionTier{
				{MinAmount: 0, Rate: 10},
				{MinAmount: 100, Rate: 8},
			},
			valid: false,
		},
		{
			name: "inverted range",
			tiers: []models.CommissionTier{
				{MinAmount: 60, MaxAmount: &max50, Rate: 10},
			},
			valid: false,
		},
		{
			name: "zero rate",
			tiers: []models.CommissionTier{
				{MinAmount: 0, MaxAmount: &max100, Rate: 0},
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validRatePayload()
			config.RateType = models.RateTypeTiered
			config.Tiers = tt.tiers

			verr := ValidateRateConfig(config)
			if tt.valid {
				assert.Nil(t, verr)
			} else {
				assert.NotNil(t, verr)
			}
		})
	}
}

func TestValidateSettingsConfig(t *testing.T) {
	assert.Nil(t, ValidateSettingsConfig(&models.SettingsConfig{
		DefaultCommissionPercentage: 10,
		MinimumPayoutAmount:         50,
		PaymentProcessingDays:       7,
		AutoApprovalThreshold:       500,
	}))

	verr := ValidateSettingsConfig(&models.SettingsConfig{
		DefaultCommissionPercentage: 120,
		MinimumPayoutAmount:         -1,
		PaymentProcessingDays:       -3,
		AutoApprovalThreshold:       -10,
	})
	require.NotNil(t, verr)
	assert.Len(t, verr.Errors, 4)
}
