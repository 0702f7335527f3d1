package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage_Subscribe(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{
		"type": "subscribe_config",
		"config_types": ["commission_rate"],
		"config_ids": ["8b7f9c52-8d7e-4f7a-9c1d-2e3f4a5b6c7d"],
		"partner_id": "11111111-2222-3333-4444-555555555555"
	}`))
	require.NoError(t, err)

	sub, ok := msg.(*SubscribeMessage)
	require.True(t, ok)
	assert.Equal(t, []string{"commission_rate"}, sub.ConfigTypes)
	assert.Equal(t, []string{"8b7f9c52-8d7e-4f7a-9c1d-2e3f4a5b6c7d"}, sub.ConfigIDs)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", sub.PartnerID)
}

func TestParseClientMessage_Unsubscribe(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type": "unsubscribe_config"}`))
	require.NoError(t, err)

	_, ok := msg.(*UnsubscribeMessage)
	assert.True(t, ok)
}

func TestParseClientMessage_StatusRequest(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type": "get_config_status"}`))
	require.NoError(t, err)

	_, ok := msg.(*StatusRequestMessage)
	assert.True(t, ok)
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type": "config_updated"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
}

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type": `))
	require.Error(t, err)
}
