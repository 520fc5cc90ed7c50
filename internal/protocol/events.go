// Package protocol defines the JSON event envelope exchanged over the
// websocket connection and the payload shapes for each logical channel.
// Any serialization satisfying these shapes is conformant; JSON is used
// because both ends already speak it for the HTTP surface.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"pairtalk/internal/conversation"
)

// Event names, client to server.
const (
	EventIdentify    = "identify"
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSend        = "send"
	EventTypingStart = "typingStart"
	EventTypingStop  = "typingStop"
)

// Event names, server to client.
const (
	EventMessageCreated = "messageCreated"
	EventTypingStarted  = "typingStarted"
	EventTypingStopped  = "typingStopped"
)

// Envelope wraps every event on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Identify binds a connection to a user id. Sent once after connecting and
// again after every reconnection.
type Identify struct {
	UserID int `json:"userId"`
}

// RoomRequest joins or leaves the room for a participant pair.
type RoomRequest struct {
	UserID      int `json:"userId"`
	RecipientID int `json:"recipientId"`
}

// SendRequest posts a message into a conversation.
type SendRequest struct {
	SenderID    int    `json:"senderId"`
	RecipientID int    `json:"recipientId"`
	Content     string `json:"content" validate:"required"`
}

// TypingStart announces typing activity to the other room member.
type TypingStart struct {
	UserID      int    `json:"userId"`
	RecipientID int    `json:"recipientId"`
	DisplayName string `json:"displayName" validate:"required"`
}

// TypingStop clears a typing announcement.
type TypingStop struct {
	UserID      int `json:"userId"`
	RecipientID int `json:"recipientId"`
}

// TypingStarted is broadcast to a room, excluding the originator.
type TypingStarted struct {
	UserID      int    `json:"userId"`
	DisplayName string `json:"displayName"`
}

// TypingStopped is broadcast to the whole room.
type TypingStopped struct {
	UserID int `json:"userId"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Messages []conversation.Message `json:"messages"`
}

var validate = validator.New()

// Marshal wraps a payload in an envelope and encodes it.
func Marshal(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// Decode parses an envelope's payload into out and validates it. A payload
// failing validation is a local rejection; callers log and drop it without
// touching the connection.
func Decode[T any](env Envelope, out *T) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return nil
}
