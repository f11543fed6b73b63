// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package listing

import (
	"fmt"
	"strings"
)

// ObjectNamePrefix is the folder every processed image lands in.
const ObjectNamePrefix = "real_estate"

// DefaultObjectName is used when a listing id sanitises to nothing.
const DefaultObjectName = "default_image.jpg"

// SanitizeObjectName keeps [A-Za-z0-9._-] and replaces every other rune
// with '_'. Sanitisation is idempotent. An empty result falls back to
// DefaultObjectName.
func SanitizeObjectName(name string) string {
	if name == "" {
		return DefaultObjectName
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ObjectName builds the object-store name for the index-th image of a
// listing: real_estate/<sanitizedIdSec>_<index>.jpg.
func ObjectName(idSec string, index int) string {
	return fmt.Sprintf("%s/%s_%d.jpg", ObjectNamePrefix, SanitizeObjectName(idSec), index)
}
