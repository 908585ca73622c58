package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-same/collab-hub/internal/config"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type":"cursor_move","room_id":"R","data":{"line":3}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeCursorMove, msg.Type)
	assert.Equal(t, "R", msg.RoomID)
	assert.JSONEq(t, `{"line":3}`, string(msg.Data))

	_, err = decodeMessage([]byte(`{"room_id":"R"}`))
	assert.ErrorIs(t, err, errMissingType)

	_, err = decodeMessage([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestEncodeMessageStampsTime(t *testing.T) {
	msg := &Message{Type: MessageTypePong}
	data, err := encodeMessage(msg)
	require.NoError(t, err)
	assert.True(t, msg.Timestamp.IsZero(), "caller's message must not be modified")

	decoded, err := decodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MessageTypePong, decoded.Type)
	assert.False(t, decoded.Timestamp.IsZero())
	assert.NotContains(t, string(data), "room_id")

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err = encodeMessage(&Message{Type: MessageTypePong, Timestamp: fixed})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamp":"2024-01-02T03:04:05Z"`)
}

func TestMessageTypeClassification(t *testing.T) {
	for _, mt := range []MessageType{MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypeContentChange,
		MessageTypeCursorMove, MessageTypeSelectionChange, MessageTypeChatMessage, MessageTypePing} {
		assert.True(t, mt.IsInbound(), mt)
	}
	for _, mt := range []MessageType{MessageTypeRoomJoined, MessageTypeRoomLeft, MessageTypeUserJoined,
		MessageTypeUserLeft, MessageTypePong, MessageTypeDocumentState, MessageTypeError, "bogus"} {
		assert.False(t, mt.IsInbound(), mt)
		assert.False(t, mt.IsRelayed(), mt)
	}
	assert.True(t, MessageTypeChatMessage.IsRelayed())
	assert.False(t, MessageTypeJoinRoom.IsRelayed())
	assert.False(t, MessageTypePing.IsRelayed())
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.WriteWait)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(512), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBufferSize)

	got := ConfigFrom(config.HubConfig{PongWait: 2 * time.Second, PingPeriod: 5 * time.Second, MaxRoomMembers: -1})
	assert.Equal(t, 2*time.Second, got.PongWait)
	assert.Equal(t, 1800*time.Millisecond, got.PingPeriod, "ping period is kept below pong wait")
	assert.Equal(t, 0, got.MaxRoomMembers)
	assert.Equal(t, DefaultConfig().SendBufferSize, got.SendBufferSize)
	assert.Equal(t, DefaultConfig().MessageBurst, got.MessageBurst)
}
