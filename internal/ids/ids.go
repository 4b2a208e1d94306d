// Package ids generates the opaque 128-bit entity identifiers used across
// the courier core's data model.
package ids

import "github.com/google/uuid"

// New returns a new random (v4) identifier in canonical 8-4-4-4-12 form.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s is a syntactically valid identifier.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
