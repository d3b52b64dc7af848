package event

import (
	"errors"
	"fmt"
)

// MaxNameLength is the maximum allowed length of an event name.
const MaxNameLength = 128

// Sentinel errors for event validation.
var (
	// ErrInvalidName is returned when an event name fails validation.
	ErrInvalidName = errors.New("invalid event name")
)

// ValidateName checks that an event name is non-empty, within length limits,
// and contains only letters, digits, spaces, underscores, hyphens and dots.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	for _, r := range name {
		if !nameRune(r) {
			return fmt.Errorf("%w: disallowed character %q", ErrInvalidName, r)
		}
	}
	return nil
}

func nameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == ' ' || r == '_' || r == '-' || r == '.':
		return true
	default:
		return false
	}
}

// SanitizeProperties returns a copy of props containing only flat primitive
// values (strings, booleans, integers and floats). Keys with unsupported
// values are dropped and returned in the second result.
func SanitizeProperties(props map[string]any) (map[string]any, []string) {
	if len(props) == 0 {
		return nil, nil
	}

	clean := make(map[string]any, len(props))
	var dropped []string
	for k, v := range props {
		if primitive(v) {
			clean[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	if len(clean) == 0 {
		clean = nil
	}
	return clean, dropped
}

func primitive(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
