package domain

import "github.com/google/uuid"

const maxIDLength = 64

// NewID returns a fresh time ordered identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether id is 1-64 characters of letters, digits, '-' or '_'.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// ValidIDs reports the first malformed id in ids, if any.
func ValidIDs(ids []string) error {
	for _, id := range ids {
		if !ValidID(id) {
			return InvalidInputf("malformed id %q", id)
		}
	}
	return nil
}
