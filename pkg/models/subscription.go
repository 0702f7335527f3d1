package models

import (
	"github.com/google/uuid"
)

// Role is the coarse access role attached to a connection or request.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RolePartner    Role = "partner"
	RoleUser       Role = "user"
)

// IsAdmin reports whether the role grants unrestricted configuration
// access.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Subscription is a connection's declared interest in configuration
// change events. It is connection-scoped and ephemeral: it lives only as
// long as the connection and is removed on disconnect or explicit
// unsubscribe.
type Subscription struct {
	ConfigTypes []ConfigType `json:"config_types,omitempty"`
	ConfigIDs   []uuid.UUID  `json:"config_ids,omitempty"`
	PartnerID   *uuid.UUID   `json:"partner_id,omitempty"`
}

// WantsType reports whether the subscription covers configType. An empty
// type list means all types.
func (s *Subscription) WantsType(configType ConfigType) bool {
	if len(s.ConfigTypes) == 0 {
		return true
	}
	for _, t := range s.ConfigTypes {
		if t == configType {
			return true
		}
	}
	return false
}

// WantsConfig reports whether the subscription covers the chain with the
// given root id. An empty id list means all configs.
func (s *Subscription) WantsConfig(configID uuid.UUID) bool {
	if len(s.ConfigIDs) == 0 {
		return true
	}
	for _, id := range s.ConfigIDs {
		if id == configID {
			return true
		}
	}
	return false
}

// Matches reports whether an event for the given type and chain root
// falls within the subscription.
func (s *Subscription) Matches(configType ConfigType, configID uuid.UUID) bool {
	return s.WantsType(configType) && s.WantsConfig(configID)
}

// Prune removes the named ids and types from the subscription's explicit
// selectors and reports whether the subscription still selects anything.
// A subscription that never named a selector stays a catch-all; one whose
// last explicit selector was pruned is spent.
func (s *Subscription) Prune(ids []uuid.UUID, types []ConfigType) bool {
	hadSelectors := len(s.ConfigIDs) > 0 || len(s.ConfigTypes) > 0

	if len(ids) > 0 && len(s.ConfigIDs) > 0 {
		kept := s.ConfigIDs[:0]
		for _, have := range s.ConfigIDs {
			drop := false
			for _, id := range ids {
				if have == id {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, have)
			}
		}
		s.ConfigIDs = kept
	}
	if len(types) > 0 && len(s.ConfigTypes) > 0 {
		kept := s.ConfigTypes[:0]
		for _, have := range s.ConfigTypes {
			drop := false
			for _, t := range types {
				if have == t {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, have)
			}
		}
		s.ConfigTypes = kept
	}

	if !hadSelectors {
		return true
	}
	return len(s.ConfigIDs) > 0 || len(s.ConfigTypes) > 0
}
