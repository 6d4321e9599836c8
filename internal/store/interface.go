package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced message does not exist.
var ErrNotFound = errors.New("message not found")

// Message is a persisted chat message. The store assigns ID and CreatedAt.
type Message struct {
	ID        int64
	Sender    string
	Receiver  string
	Body      string
	IsRead    bool
	CreatedAt time.Time
}

// MessageStore persists chat messages. CreateMessage must complete before any
// fan-out of the message; a failed write means nothing is delivered.
//
//go:generate mockery --name MessageStore
type MessageStore interface {
	// CreateMessage durably records one message and returns it with the
	// assigned id and timestamp.
	CreateMessage(ctx context.Context, sender, receiver, body string) (Message, error)

	// Conversation returns all messages between the two identities, in either
	// direction, ordered by creation time.
	Conversation(ctx context.Context, a, b string) ([]Message, error)

	// MarkRead flips the read flag on one message.
	MarkRead(ctx context.Context, id int64) error
}
