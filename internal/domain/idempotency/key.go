package idempotency

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MinKeyLength and MaxKeyLength bound a valid idempotency key.
	MinKeyLength = 1
	MaxKeyLength = 255
)

// keyPattern matches the allowed alphabet for an idempotency key.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Validate checks that key is syntactically well-formed per the data model:
// non-empty, length in [1, 255] bytes, characters in [A-Za-z0-9_.-], and, if
// the key is shaped like a canonical 8-4-4-4-12 hex UUID, that it parses as
// a valid UUID.
func Validate(key string) error {
	n := len(key)
	if n == 0 {
		return NewInvalidKey("empty")
	}
	if n < MinKeyLength || n > MaxKeyLength {
		return NewInvalidKey("length out of range")
	}
	if !keyPattern.MatchString(key) {
		return NewInvalidKey("disallowed character")
	}
	if looksLikeUUID(key) {
		if _, err := uuid.Parse(key); err != nil {
			return NewInvalidKey("UUID-shaped but not a valid UUID")
		}
	}
	return nil
}

// Normalize trims surrounding whitespace and, for UUID-shaped keys,
// lower-cases them. Normalize is idempotent: Normalize(Normalize(x)) ==
// Normalize(x).
func Normalize(key string) string {
	trimmed := strings.TrimSpace(key)
	if looksLikeUUID(trimmed) {
		return strings.ToLower(trimmed)
	}
	return trimmed
}

// Generate produces a fresh canonical-form random UUID string, suitable as a
// server-suggested idempotency key.
func Generate() string {
	return uuid.New().String()
}

// uuidShape matches the canonical 8-4-4-4-12 hex grouping regardless of case
// or validity as an actual UUID (version/variant bits unchecked here —
// that's left to uuid.Parse).
var uuidShape = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)

func looksLikeUUID(key string) bool {
	return uuidShape.MatchString(key)
}
