// Package player defines the canonical player identifier used across the
// distribution core and helpers for normalizing identifiers that arrive in
// broker payloads.
package player

import "strings"

// ID is the canonical player identifier. Broker payloads carry identifiers
// as strings; everything past the extraction layer uses this type.
type ID string

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// Normalize converts a raw payload value into a canonical ID. Canonical IDs
// and strings pass through (trimmed); nil or an empty string means "no
// player" and reports false. Any other type also reports false; callers
// that require an identifier treat that as a validation failure.
func Normalize(v any) (ID, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case ID:
		return t, t != ""
	case string:
		s := strings.TrimSpace(t)
		return ID(s), s != ""
	}
	return "", false
}
