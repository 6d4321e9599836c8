package room

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned when a publish carries an empty body, an
// unresolvable participant, or a sender/receiver pair not matching the room.
var ErrInvalidMessage = errors.New("invalid chat message")

// PersistenceError wraps a message store failure. The message was not
// recorded and nothing was fanned out; the sender may retry by resending.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("message store rejected write: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError checks if an error is a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
