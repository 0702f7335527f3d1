package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cowors/booking-engine/pkg/events"
	"github.com/cowors/booking-engine/pkg/models"
	"github.com/cowors/booking-engine/pkg/services"
)

// Message type constants for the config gateway WebSocket protocol.
const (
	TypeSubscribeConfig   = "subscribe_config"
	TypeUnsubscribeConfig = "unsubscribe_config"
	TypeGetConfigStatus   = "get_config_status"

	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeInitialConfigData       = "initial_config_data"
	TypeConfigStatus            = "config_status"
	TypeConfigStatusError       = "config_status_error"
	TypeConfigUpdated           = "config_updated"
	TypeError                   = "error"
)

// Envelope is used for initial JSON decoding to determine the message type.
type Envelope struct {
	Type string `json:"type"`
}

// SubscribeMessage declares a connection's interest in config changes.
type SubscribeMessage struct {
	Type        string   `json:"type"`
	ConfigTypes []string `json:"config_types,omitempty"`
	ConfigIDs   []string `json:"config_ids,omitempty"`
	PartnerID   string   `json:"partner_id,omitempty"`
}

// UnsubscribeMessage removes subscriptions. With selectors it prunes the
// named config ids and types from the connection's subscriptions; without
// any it drops them all.
type UnsubscribeMessage struct {
	Type        string   `json:"type"`
	ConfigIDs   []string `json:"config_ids,omitempty"`
	ConfigTypes []string `json:"config_types,omitempty"`
}

// StatusRequestMessage asks for the status of one configuration, or for
// an engine-wide snapshot when no config id is given.
type StatusRequestMessage struct {
	Type       string `json:"type"`
	ConfigID   string `json:"config_id,omitempty"`
	ConfigType string `json:"config_type,omitempty"`
}

// SubscriptionConfirmedMessage acknowledges a subscribe request, echoing
// the subscription the server actually applied.
type SubscriptionConfirmedMessage struct {
	Type         string               `json:"type"`
	Subscription *models.Subscription `json:"subscription"`
	Timestamp    time.Time            `json:"timestamp"`
}

// UnsubscriptionConfirmedMessage acknowledges an unsubscribe request.
type UnsubscriptionConfirmedMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// InitialConfigDataMessage carries the current active configurations
// matching a fresh subscription so the client can render without a
// second round trip.
type InitialConfigDataMessage struct {
	Type      string                   `json:"type"`
	Configs   []*models.RateConfig     `json:"configs"`
	Settings  []*models.SettingsConfig `json:"settings,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// ConfigStatusMessage is the reply to a status request. Per-config
// requests fill ConfigID and Config; engine-wide requests fill Stats.
type ConfigStatusMessage struct {
	Type      string                `json:"type"`
	ConfigID  string                `json:"config_id,omitempty"`
	Config    any                   `json:"config,omitempty"`
	Stats     *services.ConfigStats `json:"stats,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// ConfigStatusErrorMessage reports a failed status request without
// closing the connection.
type ConfigStatusErrorMessage struct {
	Type      string    `json:"type"`
	ConfigID  string    `json:"config_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigUpdatedMessage relays a configuration change event to a
// subscribed connection.
type ConfigUpdatedMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

// ErrorMessage reports a malformed or rejected client message.
type ErrorMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseClientMessage decodes an inbound JSON message into its typed form.
func ParseClientMessage(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}

	switch env.Type {
	case TypeSubscribeConfig:
		var msg SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse subscribe_config message: %w", err)
		}
		return &msg, nil

	case TypeUnsubscribeConfig:
		var msg UnsubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse unsubscribe_config message: %w", err)
		}
		return &msg, nil

	case TypeGetConfigStatus:
		var msg StatusRequestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse get_config_status message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %q", env.Type)
	}
}
