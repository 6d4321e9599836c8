package types

// EnvelopeType tags every outbound frame so clients can dispatch on it
type EnvelopeType string

const (
	EnvelopeTypeOnlineUsers EnvelopeType = "online_users" // Full presence snapshot
	EnvelopeTypeChatMessage EnvelopeType = "chat_message" // Persisted chat message fan-out
	EnvelopeTypeError       EnvelopeType = "error"        // Failure notice, sent to one connection only
)

// ErrorCode identifies the class of a failure reported to a sender
type ErrorCode string

const (
	ErrorCodeInvalidMessage   ErrorCode = "invalid_message"   // Malformed chat-send payload
	ErrorCodePersistenceError ErrorCode = "persistence_error" // Store rejected the write; nothing was fanned out
)

// IsValidEnvelopeType checks if the given value is a known EnvelopeType
func IsValidEnvelopeType(t string) bool {
	switch EnvelopeType(t) {
	case EnvelopeTypeOnlineUsers, EnvelopeTypeChatMessage, EnvelopeTypeError:
		return true
	default:
		return false
	}
}
