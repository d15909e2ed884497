package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed ("jti_<hex>").
// Prefixed ids drop the dashes so they stay URL and header safe.
func NewID(prefix string) string {
	id := uuid.New()
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", "")
}

// ValidID reports whether value parses as a UUID.
func ValidID(value string) bool {
	_, err := uuid.Parse(strings.TrimSpace(value))
	return err == nil
}
