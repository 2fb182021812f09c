package validation

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Input length limits
const (
	MaxMessageLength     = 65536 // bytes, the gateway's frame budget for a text body
	MaxProfileNameLength = 64
)

// ErrMessageTooLong is wrapped by ValidateMessageText.
var ErrMessageTooLong = errors.New("message too long")

// ValidateMessageText bounds an outgoing text body. Emptiness is checked by
// the sender, which treats whitespace-only bodies as empty too.
func ValidateMessageText(text string) error {
	if len(text) > MaxMessageLength {
		return fmt.Errorf("%w: maximum is %d bytes (got %d)", ErrMessageTooLong, MaxMessageLength, len(text))
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message must be valid UTF-8")
	}
	return nil
}

// ValidateProfileName restricts profile names to what can safely be used
// as a keyring key and a cache directory component.
func ValidateProfileName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxProfileNameLength {
		return fmt.Errorf("profile name exceeds maximum length of %d characters", MaxProfileNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("invalid profile name %q: contains invalid character '%c'", name, r)
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}
