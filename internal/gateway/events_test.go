// ABOUTME: Tests for the websocket wire protocol envelope and payloads
// ABOUTME: Exercises decode edge cases: missing data, nulls, wrong shapes

package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgepoint/support-gateway/internal/store"
)

func TestEnvelopeDecoding(t *testing.T) {
	var env envelope
	err := json.Unmarshal([]byte(`{"event": "send-message", "data": {"chatId": "c1", "message": "hi"}}`), &env)
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, env.Event)

	var p sendMessagePayload
	require.NoError(t, decodePayload(env, &p))
	assert.Equal(t, "c1", p.ChatID)
	assert.Equal(t, "hi", p.Message)
}

func TestDecodePayloadMissingData(t *testing.T) {
	var p joinChatPayload
	err := decodePayload(envelope{Event: EventJoinChat}, &p)
	require.NoError(t, err)
	assert.Empty(t, p.ChatID, "absent data decodes to the zero payload")
}

func TestDecodePayloadNullData(t *testing.T) {
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(`{"event": "join-chat", "data": null}`), &env))

	var p joinChatPayload
	require.NoError(t, decodePayload(env, &p))
	assert.Empty(t, p.ChatID)
}

func TestDecodePayloadWrongShape(t *testing.T) {
	env := envelope{Event: EventJoinChat, Data: json.RawMessage(`"just-a-string"`)}

	var p joinChatPayload
	err := decodePayload(env, &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join-chat")
}

func TestDecodePayloadIgnoresUnknownFields(t *testing.T) {
	env := envelope{Event: EventSendMessage, Data: json.RawMessage(`{"chatId": "c1", "message": "hi", "extra": 42}`)}

	var p sendMessagePayload
	require.NoError(t, decodePayload(env, &p))
	assert.Equal(t, "c1", p.ChatID)
}

func TestMessageJSONFieldNames(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	m := &store.Message{
		ID:         "m1",
		ChatID:     "c1",
		SenderID:   "agent-1",
		SenderType: store.SenderTypeAgent,
		Text:       "your invoice is attached",
		FileURL:    "https://files.example.com/invoice.pdf",
		FileType:   "application/pdf",
		CreatedAt:  now,
	}

	raw, err := json.Marshal(toMessageJSON(m))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "your invoice is attached", decoded["message"])
	assert.Equal(t, "c1", decoded["chatId"])
	assert.Equal(t, "agent", decoded["senderType"])
	assert.Equal(t, "application/pdf", decoded["fileType"])
	assert.NotContains(t, decoded, "readAt", "unread messages omit readAt")
	assert.NotContains(t, decoded, "text", "wire field is message, not text")
}

func TestChatJSONOmitsEmptyAgent(t *testing.T) {
	c := &store.Chat{ID: "c1", UserID: "user-1", Status: store.ChatStatusActive}

	raw, err := json.Marshal(toChatJSON(c))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "agentId")
	assert.NotContains(t, decoded, "endedAt")
	assert.Equal(t, "active", decoded["status"])
}
