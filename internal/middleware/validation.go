package middleware

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// identityReservedChars are delimiters of the storage key scheme (:) and
// NATS subject tokens/wildcards (. * >). An identity containing any of them
// could collide with another pair's keys or widen a subject subscription.
const identityReservedChars = ":.*>"

// ValidateMessageContent validates message content against maxBytes.
func ValidateMessageContent(content string, maxBytes int) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateChatID validates a chat ID.
func ValidateChatID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid chat ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateIdentity validates an identity reference.
func ValidateIdentity(id string) error {
	if len(id) == 0 {
		return errors.New("identity cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("identity exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("identity must be valid UTF-8")
	}
	if strings.ContainsAny(id, identityReservedChars) {
		return errors.New("identity contains reserved characters")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.New("identity contains whitespace or control characters")
		}
	}
	return nil
}
