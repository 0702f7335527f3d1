package models

import (
	"time"

	"github.com/google/uuid"
)

// ConfigType distinguishes the two versioned configuration kinds.
type ConfigType string

const (
	ConfigTypeCommissionRate     ConfigType = "commission_rate"
	ConfigTypeCommissionSettings ConfigType = "commission_settings"
)

// ValidConfigType reports whether t is a known configuration type.
func ValidConfigType(t ConfigType) bool {
	return t == ConfigTypeCommissionRate || t == ConfigTypeCommissionSettings
}

// FieldChange records one field transition between two versions.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// VersionRecord is the append-only audit row written for every store
// write. It is derived entirely from persisted state so history survives
// restarts and stays consistent across instances; it is never mutated
// after creation.
type VersionRecord struct {
	ID            uuid.UUID              `json:"id"`
	ConfigID      uuid.UUID              `json:"config_id"`  // chain root
	VersionID     uuid.UUID              `json:"version_id"` // row holding this version's content
	ConfigType    ConfigType             `json:"config_type"`
	Version       int                    `json:"version"`
	ParentVersion int                    `json:"parent_version"`
	Changes       map[string]FieldChange `json:"changes"`
	CreatedBy     uuid.UUID              `json:"created_by"`
	Reason        string                 `json:"reason,omitempty"`
	IsActive      bool                   `json:"is_active"`
	CreatedAt     time.Time              `json:"created_at"`

	// RollbackAvailable is true once any version beyond 1 exists.
	RollbackAvailable bool `json:"rollback_available"`
}
