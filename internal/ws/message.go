package ws

import (
	"encoding/json"
	"errors"
	"time"
)

// MessageType represents the type of a wire message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeJoinRoom        MessageType = "join_room"
	MessageTypeLeaveRoom       MessageType = "leave_room"
	MessageTypeContentChange   MessageType = "content_change"
	MessageTypeCursorMove      MessageType = "cursor_move"
	MessageTypeSelectionChange MessageType = "selection_change"
	MessageTypeChatMessage     MessageType = "chat_message"
	MessageTypePing            MessageType = "ping"

	// Server -> Client message types
	MessageTypeRoomJoined    MessageType = "room_joined"
	MessageTypeRoomLeft      MessageType = "room_left"
	MessageTypeUserJoined    MessageType = "user_joined"
	MessageTypeUserLeft      MessageType = "user_left"
	MessageTypePong          MessageType = "pong"
	MessageTypeDocumentState MessageType = "document_state"
	MessageTypeError         MessageType = "error"
)

var errMissingType = errors.New("message type is required")

// IsInbound reports whether clients are allowed to send this type.
func (t MessageType) IsInbound() bool {
	switch t {
	case MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypeContentChange,
		MessageTypeCursorMove, MessageTypeSelectionChange, MessageTypeChatMessage,
		MessageTypePing:
		return true
	}
	return false
}

// IsRelayed reports whether the type is fanned out to the other room members.
func (t MessageType) IsRelayed() bool {
	switch t {
	case MessageTypeContentChange, MessageTypeCursorMove, MessageTypeSelectionChange, MessageTypeChatMessage:
		return true
	}
	return false
}

// Message is the JSON envelope carried in every frame.
// Sender fields are filled by the hub and ignored on inbound frames.
type Message struct {
	Type         MessageType     `json:"type"`
	RoomID       string          `json:"room_id,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Username     string          `json:"username,omitempty"`
	Content      string          `json:"content,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// decodeMessage parses one inbound frame.
func decodeMessage(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errMissingType
	}
	return &msg, nil
}

// encodeMessage serializes a copy of msg, stamping the copy when msg has no
// timestamp. msg itself is never modified.
func encodeMessage(msg *Message) ([]byte, error) {
	out := *msg
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return json.Marshal(&out)
}

// presenceMessage builds a presence announcement about c.
func presenceMessage(t MessageType, roomID string, c *Connection) *Message {
	return &Message{
		Type:         t,
		RoomID:       roomID,
		ConnectionID: c.ID(),
		UserID:       c.UserID(),
		Username:     c.Username(),
		Timestamp:    time.Now().UTC(),
	}
}
