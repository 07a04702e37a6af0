// Package ids provides UUID helpers for runtime identities.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// namespace scopes deterministic IDs so they cannot collide with
// v5 UUIDs minted by other systems from the same input strings.
var namespace = uuid.MustParse("9a81f6e2-4c1d-4d6a-8b2e-7f3a5c9d0e14")

// New returns a random (v4) UUID.
func New() uuid.UUID {
	return uuid.New()
}

// NewString returns a random (v4) UUID as a string.
func NewString() string {
	return uuid.NewString()
}

// Deterministic derives a stable (v5) UUID from the given parts.
// The same parts always produce the same ID, which is how an agent
// keeps its identity across restarts when the character carries no
// explicit ID.
func Deterministic(parts ...string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, ":")))
}

// Parse wraps uuid.Parse for callers that deal in strings.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
