package models

import (
	"time"

	"github.com/google/uuid"
)

// SettingsConfig is one version of the singleton-per-scope commission
// settings (default rate, payout terms, thresholds). It follows the same
// versioning contract as RateConfig but carries no tiers.
type SettingsConfig struct {
	ID             uuid.UUID  `json:"id"`
	Version        int        `json:"version"`
	ParentConfigID *uuid.UUID `json:"parent_config_id,omitempty"`

	// Nil PartnerID means the global settings scope.
	PartnerID *uuid.UUID `json:"partner_id,omitempty"`

	DefaultCommissionPercentage float64 `json:"default_commission_percentage"`
	MinimumPayoutAmount         float64 `json:"minimum_payout_amount"`
	PaymentProcessingDays       int     `json:"payment_processing_days"`
	AutoApprovalThreshold       float64 `json:"auto_approval_threshold"`

	IsActive     bool       `json:"is_active"`
	ChangeReason string     `json:"change_reason,omitempty"`
	CreatedBy    uuid.UUID  `json:"created_by"`
	UpdatedBy    *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ChainRoot returns the id of the chain this version belongs to.
func (c *SettingsConfig) ChainRoot() uuid.UUID {
	if c.ParentConfigID != nil {
		return *c.ParentConfigID
	}
	return c.ID
}

// SettingsConfigChanges is the update payload for commission settings.
// Nil fields are copied through from the current active version.
type SettingsConfigChanges struct {
	DefaultCommissionPercentage *float64 `json:"default_commission_percentage,omitempty"`
	MinimumPayoutAmount         *float64 `json:"minimum_payout_amount,omitempty"`
	PaymentProcessingDays       *int     `json:"payment_processing_days,omitempty"`
	AutoApprovalThreshold       *float64 `json:"auto_approval_threshold,omitempty"`
	IsActive                    *bool    `json:"is_active,omitempty"`

	ExpectedVersion *int `json:"expected_version,omitempty"`
}
