package gateway

import (
	"fmt"
	"regexp"
)

// User ID validation constants
const (
	MinUserIDLength = 1
	MaxUserIDLength = 50
)

// userIDPattern matches valid user IDs: alphanumeric, underscore, and hyphen
var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ParamValidationError represents a path parameter validation error
type ParamValidationError struct {
	Field   string
	Message string
}

func (e *ParamValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateUserID validates a user ID path parameter
func ValidateUserID(id string, fieldName string) error {
	if len(id) < MinUserIDLength || len(id) > MaxUserIDLength {
		return &ParamValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("must be %d-%d characters", MinUserIDLength, MaxUserIDLength),
		}
	}

	if !userIDPattern.MatchString(id) {
		return &ParamValidationError{
			Field:   fieldName,
			Message: "only alphanumeric, underscore, and hyphen allowed",
		}
	}

	return nil
}

// ValidateChatParameters validates the conversation pair parameters
func ValidateChatParameters(userID, peerID string) error {
	if err := ValidateUserID(userID, "userId"); err != nil {
		return err
	}
	if err := ValidateUserID(peerID, "peerId"); err != nil {
		return err
	}
	if userID == peerID {
		return &ParamValidationError{
			Field:   "peerId",
			Message: "must differ from userId",
		}
	}
	return nil
}
