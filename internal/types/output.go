package types

import (
	"encoding/json"
	"time"
)

// OnlineUser represents one entry of the presence snapshot in wire format
type OnlineUser struct {
	UserID   string `json:"user_id"`   // Identity
	Name     string `json:"name"`      // Display name from the profile directory
	IsOnline bool   `json:"is_online"` // Always true for snapshot entries
}

// OnlineUsersEnvelope represents the full-snapshot presence broadcast
type OnlineUsersEnvelope struct {
	Type EnvelopeType `json:"type"` // Always EnvelopeTypeOnlineUsers
	Data []OnlineUser `json:"data"` // Complete current snapshot, not a delta
}

// ChatPayload represents a persisted message in wire format
type ChatPayload struct {
	ID        int64     `json:"id"`         // Store-assigned message id
	Sender    string    `json:"sender"`     // Sender identity
	Receiver  string    `json:"receiver"`   // Receiver identity
	Message   string    `json:"message"`    // Text payload
	IsRead    bool      `json:"is_read"`    // Read flag as persisted
	CreatedAt time.Time `json:"created_at"` // Store-assigned creation timestamp
}

// ChatEnvelope represents the chat fan-out frame
type ChatEnvelope struct {
	Type    EnvelopeType `json:"type"` // Always EnvelopeTypeChatMessage
	Message ChatPayload  `json:"message"`
}

// ErrorDetail carries a failure notice for the sending connection
type ErrorDetail struct {
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason"`
}

// ErrorEnvelope represents a failure frame, delivered to one connection only
type ErrorEnvelope struct {
	Type  EnvelopeType `json:"type"` // Always EnvelopeTypeError
	Error ErrorDetail  `json:"error"`
}

// NewOnlineUsersEnvelope builds a presence snapshot envelope
func NewOnlineUsersEnvelope(users []OnlineUser) *OnlineUsersEnvelope {
	if users == nil {
		users = []OnlineUser{}
	}
	return &OnlineUsersEnvelope{
		Type: EnvelopeTypeOnlineUsers,
		Data: users,
	}
}

// NewChatEnvelope builds a chat fan-out envelope
func NewChatEnvelope(payload ChatPayload) *ChatEnvelope {
	return &ChatEnvelope{
		Type:    EnvelopeTypeChatMessage,
		Message: payload,
	}
}

// NewErrorEnvelope builds a sender-only failure envelope
func NewErrorEnvelope(code ErrorCode, reason string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Type: EnvelopeTypeError,
		Error: ErrorDetail{
			Code:   code,
			Reason: reason,
		},
	}
}

// ToJSON converts the envelope to JSON bytes
func (e *OnlineUsersEnvelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ToJSON converts the envelope to JSON bytes
func (e *ChatEnvelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ToJSON converts the envelope to JSON bytes
func (e *ErrorEnvelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
