package services

import (
	"fmt"

	"github.com/cowors/booking-engine/pkg/apperrors"
	"github.com/cowors/booking-engine/pkg/models"
)

// ValidateRateConfig checks a fully merged rate configuration payload and
// reports every violated field, not just the first. A nil return means
// the payload is valid.
func ValidateRateConfig(config *models.RateConfig) *apperrors.ValidationError {
	var fieldErrors []apperrors.FieldError
	add := func(field, message string) {
		fieldErrors = append(fieldErrors, apperrors.FieldError{Field: field, Message: message})
	}

	if config.Name == "" {
		add("name", "configuration name is required")
	}
	if config.RateType == "" {
		add("rate_type", "rate type is required")
	} else if !models.ValidRateType(config.RateType) {
		add("rate_type", fmt.Sprintf("unknown rate type: %s", config.RateType))
	}
	if config.Trigger == "" {
		add("trigger", "trigger is required")
	} else if !models.ValidTrigger(config.Trigger) {
		add("trigger", fmt.Sprintf("unknown trigger: %s", config.Trigger))
	}

	switch config.RateType {
	case models.RateTypePercentage:
		if config.BaseRate <= 0 || config.BaseRate > 100 {
			add("base_rate", "base rate must be between 0 and 100 for percentage type")
		}
	case models.RateTypeFixedAmount:
		if config.BaseRate <= 0 {
			add("base_rate", "base rate must be greater than 0 for fixed amount type")
		}
	case models.RateTypeTiered, models.RateTypeHybrid:
		validateTiers(config.Tiers, add)
	}

	if config.EffectiveFrom != nil && config.EffectiveTo != nil &&
		!config.EffectiveFrom.Before(*config.EffectiveTo) {
		add("effective_from", "effective from date must be before effective to date")
	}

	if len(fieldErrors) == 0 {
		return nil
	}
	return &apperrors.ValidationError{Errors: fieldErrors}
}

func validateTiers(tiers []models.CommissionTier, add func(field, message string)) {
	if len(tiers) == 0 {
		add("tiers", "commission tiers are required for tiered rate type")
		return
	}

	for i, tier := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if tier.MinAmount < 0 {
			add(field, "minimum amount cannot be negative")
		}
		if tier.MaxAmount != nil && *tier.MaxAmount <= tier.MinAmount {
			add(field, "maximum amount must be greater than minimum amount")
		}
		if tier.Rate <= 0 {
			add(field, "rate must be greater than 0")
		}
		if i > 0 {
			prev := tiers[i-1]
			if tier.MinAmount < prev.MinAmount {
				add(field, "tiers must be ordered by ascending minimum amount")
			}
			if prev.MaxAmount == nil {
				add(field, "only the last tier may be open-ended")
			} else if tier.MinAmount < *prev.MaxAmount {
				add(field, "tier ranges must not overlap")
			}
		}
	}
}

// ValidateSettingsConfig checks a fully merged settings payload.
func ValidateSettingsConfig(config *models.SettingsConfig) *apperrors.ValidationError {
	var fieldErrors []apperrors.FieldError
	add := func(field, message string) {
		fieldErrors = append(fieldErrors, apperrors.FieldError{Field: field, Message: message})
	}

	if config.DefaultCommissionPercentage < 0 || config.DefaultCommissionPercentage > 100 {
		add("default_commission_percentage", "default commission percentage must be between 0 and 100")
	}
	if config.MinimumPayoutAmount < 0 {
		add("minimum_payout_amount", "minimum payout amount cannot be negative")
	}
	if config.PaymentProcessingDays < 0 {
		add("payment_processing_days", "payment processing days cannot be negative")
	}
	if config.AutoApprovalThreshold < 0 {
		add("auto_approval_threshold", "auto approval threshold cannot be negative")
	}

	if len(fieldErrors) == 0 {
		return nil
	}
	return &apperrors.ValidationError{Errors: fieldErrors}
}
