package models

import (
	"time"

	"github.com/google/uuid"
)

// RateType identifies how a commission rate is computed.
type RateType string

const (
	RateTypePercentage  RateType = "percentage"
	RateTypeFixedAmount RateType = "fixed_amount"
	RateTypeTiered      RateType = "tiered"
	RateTypeHybrid      RateType = "hybrid"
)

// ValidRateType reports whether t is a known rate type.
func ValidRateType(t RateType) bool {
	switch t {
	case RateTypePercentage, RateTypeFixedAmount, RateTypeTiered, RateTypeHybrid:
		return true
	}
	return false
}

// Trigger is the domain event that causes a rate to be evaluated.
type Trigger string

const (
	TriggerBookingConfirmed Trigger = "booking_confirmed"
	TriggerBookingCompleted Trigger = "booking_completed"
	TriggerPaymentReceived  Trigger = "payment_received"
	TriggerPayoutScheduled  Trigger = "payout_scheduled"
)

// ValidTrigger reports whether t is a known trigger.
func ValidTrigger(t Trigger) bool {
	switch t {
	case TriggerBookingConfirmed, TriggerBookingCompleted, TriggerPaymentReceived, TriggerPayoutScheduled:
		return true
	}
	return false
}

// CommissionTier is one amount range of a tiered rate. Tiers are ordered
// ascending by MinAmount and must not overlap. A nil MaxAmount means the
// tier is open-ended.
type CommissionTier struct {
	MinAmount float64  `json:"min_amount"`
	MaxAmount *float64 `json:"max_amount,omitempty"`
	Rate      float64  `json:"rate"`
}

// RateConfig is one version of a commission rate configuration.
// Versions sharing a chain root form the configuration's history; exactly
// one row per chain is active at any time and it carries the highest
// version number.
type RateConfig struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Version        int        `json:"version"`
	ParentConfigID *uuid.UUID `json:"parent_config_id,omitempty"` // chain root, nil for v1

	RateType RateType `json:"rate_type"`
	Trigger  Trigger  `json:"trigger"`
	BaseRate float64  `json:"base_rate"`

	// Optional scope narrowing. Nil means the config applies globally.
	PartnerID *uuid.UUID `json:"partner_id,omitempty"`
	SpaceID   *uuid.UUID `json:"space_id,omitempty"`

	Tiers []CommissionTier `json:"tiers,omitempty"`

	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Priority      int        `json:"priority"`
	IsActive      bool       `json:"is_active"`

	Tags         []string   `json:"tags,omitempty"`
	ChangeReason string     `json:"change_reason,omitempty"`
	CreatedBy    uuid.UUID  `json:"created_by"`
	UpdatedBy    *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ChainRoot returns the id of the chain this version belongs to.
func (c *RateConfig) ChainRoot() uuid.UUID {
	if c.ParentConfigID != nil {
		return *c.ParentConfigID
	}
	return c.ID
}

// RateConfigChanges is the update payload for a rate configuration.
// Nil fields are copied through from the current active version.
type RateConfigChanges struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	RateType      *RateType        `json:"rate_type,omitempty"`
	Trigger       *Trigger         `json:"trigger,omitempty"`
	BaseRate      *float64         `json:"base_rate,omitempty"`
	Tiers         []CommissionTier `json:"tiers,omitempty"`
	EffectiveFrom *time.Time       `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time       `json:"effective_to,omitempty"`
	Priority      *int             `json:"priority,omitempty"`
	IsActive      *bool            `json:"is_active,omitempty"`
	Tags          []string         `json:"tags,omitempty"`

	// ExpectedVersion, when set, makes the write conditional on the chain's
	// current active version. A mismatch is rejected as a version conflict
	// so the caller can retry with fresh state.
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

// ConfigFilters narrows List results.
type ConfigFilters struct {
	PartnerID     *uuid.UUID
	SpaceID       *uuid.UUID
	IsActive      *bool
	EffectiveDate *time.Time
	Tags          []string
	Limit         int
	Offset        int
}
