package services

import (
	"reflect"
	"time"

	"github.com/cowors/booking-engine/pkg/models"
)

// applyRateChanges merges an update payload onto the current active
// version. Only fields present in the payload are considered; each field
// whose value actually differs produces one diff entry.
func applyRateChanges(current *models.RateConfig, changes models.RateConfigChanges) (*models.RateConfig, map[string]models.FieldChange) {
	next := *current
	diff := make(map[string]models.FieldChange)

	if changes.Name != nil && *changes.Name != current.Name {
		diff["name"] = models.FieldChange{From: current.Name, To: *changes.Name}
		next.Name = *changes.Name
	}
	if changes.Description != nil && *changes.Description != current.Description {
		diff["description"] = models.FieldChange{From: current.Description, To: *changes.Description}
		next.Description = *changes.Description
	}
	if changes.RateType != nil && *changes.RateType != current.RateType {
		diff["rate_type"] = models.FieldChange{From: current.RateType, To: *changes.RateType}
		next.RateType = *changes.RateType
	}
	if changes.Trigger != nil && *changes.Trigger != current.Trigger {
		diff["trigger"] = models.FieldChange{From: current.Trigger, To: *changes.Trigger}
		next.Trigger = *changes.Trigger
	}
	if changes.BaseRate != nil && *changes.BaseRate != current.BaseRate {
		diff["base_rate"] = models.FieldChange{From: current.BaseRate, To: *changes.BaseRate}
		next.BaseRate = *changes.BaseRate
	}
	if changes.Tiers != nil && !reflect.DeepEqual(changes.Tiers, current.Tiers) {
		diff["tiers"] = models.FieldChange{From: current.Tiers, To: changes.Tiers}
		next.Tiers = changes.Tiers
	}
	if changes.EffectiveFrom != nil && !timePtrEqual(changes.EffectiveFrom, current.EffectiveFrom) {
		diff["effective_from"] = models.FieldChange{From: current.EffectiveFrom, To: changes.EffectiveFrom}
		next.EffectiveFrom = changes.EffectiveFrom
	}
	if changes.EffectiveTo != nil && !timePtrEqual(changes.EffectiveTo, current.EffectiveTo) {
		diff["effective_to"] = models.FieldChange{From: current.EffectiveTo, To: changes.EffectiveTo}
		next.EffectiveTo = changes.EffectiveTo
	}
	if changes.Priority != nil && *changes.Priority != current.Priority {
		diff["priority"] = models.FieldChange{From: current.Priority, To: *changes.Priority}
		next.Priority = *changes.Priority
	}
	if changes.IsActive != nil && *changes.IsActive != current.IsActive {
		diff["is_active"] = models.FieldChange{From: current.IsActive, To: *changes.IsActive}
		next.IsActive = *changes.IsActive
	}
	if changes.Tags != nil && !reflect.DeepEqual(changes.Tags, current.Tags) {
		diff["tags"] = models.FieldChange{From: current.Tags, To: changes.Tags}
		next.Tags = changes.Tags
	}

	return &next, diff
}

// diffRateConfigs compares the business fields of two versions, used for
// rollback where the incoming state is a full snapshot rather than a
// field-level payload.
func diffRateConfigs(old, new *models.RateConfig) map[string]models.FieldChange {
	diff := make(map[string]models.FieldChange)

	if old.Name != new.Name {
		diff["name"] = models.FieldChange{From: old.Name, To: new.Name}
	}
	if old.Description != new.Description {
		diff["description"] = models.FieldChange{From: old.Description, To: new.Description}
	}
	if old.RateType != new.RateType {
		diff["rate_type"] = models.FieldChange{From: old.RateType, To: new.RateType}
	}
	if old.Trigger != new.Trigger {
		diff["trigger"] = models.FieldChange{From: old.Trigger, To: new.Trigger}
	}
	if old.BaseRate != new.BaseRate {
		diff["base_rate"] = models.FieldChange{From: old.BaseRate, To: new.BaseRate}
	}
	if !reflect.DeepEqual(old.Tiers, new.Tiers) {
		diff["tiers"] = models.FieldChange{From: old.Tiers, To: new.Tiers}
	}
	if !timePtrEqual(old.EffectiveFrom, new.EffectiveFrom) {
		diff["effective_from"] = models.FieldChange{From: old.EffectiveFrom, To: new.EffectiveFrom}
	}
	if !timePtrEqual(old.EffectiveTo, new.EffectiveTo) {
		diff["effective_to"] = models.FieldChange{From: old.EffectiveTo, To: new.EffectiveTo}
	}
	if old.Priority != new.Priority {
		diff["priority"] = models.FieldChange{From: old.Priority, To: new.Priority}
	}
	if !reflect.DeepEqual(old.Tags, new.Tags) {
		diff["tags"] = models.FieldChange{From: old.Tags, To: new.Tags}
	}

	return diff
}

func applySettingsChanges(current *models.SettingsConfig, changes models.SettingsConfigChanges) (*models.SettingsConfig, map[string]models.FieldChange) {
	next := *current
	diff := make(map[string]models.FieldChange)

	if changes.DefaultCommissionPercentage != nil && *changes.DefaultCommissionPercentage != current.DefaultCommissionPercentage {
		diff["default_commission_percentage"] = models.FieldChange{From: current.DefaultCommissionPercentage, To: *changes.DefaultCommissionPercentage}
		next.DefaultCommissionPercentage = *changes.DefaultCommissionPercentage
	}
	if changes.MinimumPayoutAmount != nil && *changes.MinimumPayoutAmount != current.MinimumPayoutAmount {
		diff["minimum_payout_amount"] = models.FieldChange{From: current.MinimumPayoutAmount, To: *changes.MinimumPayoutAmount}
		next.MinimumPayoutAmount = *changes.MinimumPayoutAmount
	}
	if changes.PaymentProcessingDays != nil && *changes.PaymentProcessingDays != current.PaymentProcessingDays {
		diff["payment_processing_days"] = models.FieldChange{From: current.PaymentProcessingDays, To: *changes.PaymentProcessingDays}
		next.PaymentProcessingDays = *changes.PaymentProcessingDays
	}
	if changes.AutoApprovalThreshold != nil && *changes.AutoApprovalThreshold != current.AutoApprovalThreshold {
		diff["auto_approval_threshold"] = models.FieldChange{From: current.AutoApprovalThreshold, To: *changes.AutoApprovalThreshold}
		next.AutoApprovalThreshold = *changes.AutoApprovalThreshold
	}
	if changes.IsActive != nil && *changes.IsActive != current.IsActive {
		diff["is_active"] = models.FieldChange{From: current.IsActive, To: *changes.IsActive}
		next.IsActive = *changes.IsActive
	}

	return &next, diff
}

func diffSettingsConfigs(old, new *models.SettingsConfig) map[string]models.FieldChange {
	diff := make(map[string]models.FieldChange)

	if old.DefaultCommissionPercentage != new.DefaultCommissionPercentage {
		diff["default_commission_percentage"] = models.FieldChange{From: old.DefaultCommissionPercentage, To: new.DefaultCommissionPercentage}
	}
	if old.MinimumPayoutAmount != new.MinimumPayoutAmount {
		diff["minimum_payout_amount"] = models.FieldChange{From: old.MinimumPayoutAmount, To: new.MinimumPayoutAmount}
	}
	if old.PaymentProcessingDays != new.PaymentProcessingDays {
		diff["payment_processing_days"] = models.FieldChange{From: old.PaymentProcessingDays, To: new.PaymentProcessingDays}
	}
	if old.AutoApprovalThreshold != new.AutoApprovalThreshold {
		diff["auto_approval_threshold"] = models.FieldChange{From: old.AutoApprovalThreshold, To: new.AutoApprovalThreshold}
	}

	return diff
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
