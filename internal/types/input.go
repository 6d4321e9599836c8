package types

import (
	"encoding/json"
	"unicode/utf8"
)

// MaxMessageLength caps the chat body, matching the messages.body column width.
const MaxMessageLength = 500

// ChatSendRequest represents the inbound frame a client sends on a room connection
type ChatSendRequest struct {
	Sender   string `json:"sender"`   // Authenticated sender identity
	Receiver string `json:"receiver"` // Peer identity
	Message  string `json:"message"`  // Text payload
}

// ParseChatSendRequest decodes an inbound frame into a ChatSendRequest
func ParseChatSendRequest(data []byte) (*ChatSendRequest, error) {
	var req ChatSendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, ErrInvalidValue("frame", "not a valid chat-send payload")
	}
	return &req, nil
}

// Validate validates the chat-send request
func (r *ChatSendRequest) Validate() error {
	if r.Sender == "" {
		return ErrMissingRequiredField("sender")
	}

	if r.Receiver == "" {
		return ErrMissingRequiredField("receiver")
	}

	if r.Sender == r.Receiver {
		return ErrInvalidValue("receiver", "must differ from sender")
	}

	if r.Message == "" {
		return ErrMissingRequiredField("message")
	}

	if utf8.RuneCountInString(r.Message) > MaxMessageLength {
		return ErrInvalidValue("message", "exceeds maximum length")
	}

	return nil
}
