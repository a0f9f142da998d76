// Package validate provides the field checks used when building and decoding envelopes.
package validate

import (
	"strings"
	"time"
	"unicode/utf8"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/morezero/umicp/pkg/protoerr"
)

// NonEmpty fails when value is empty or only whitespace.
func NonEmpty(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return protoerr.Validation("Field '%s' cannot be empty", field)
	}
	return nil
}

// UTF8 fails when value is not valid UTF-8. JSON encoding would replace the invalid bytes,
// so such a value cannot survive a round trip.
func UTF8(value, field string) error {
	if !utf8.ValidString(value) {
		return protoerr.Validation("Field '%s' is not valid UTF-8: %q", field, value)
	}
	return nil
}

// Text fails when value is empty, only whitespace or not valid UTF-8.
func Text(value, field string) error {
	if err := NonEmpty(value, field); err != nil {
		return err
	}
	return UTF8(value, field)
}

// IsUUID reports whether s is a UUID in the canonical 8-4-4-4-12 hyphenated form.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// UUID fails when s is not a canonical UUID.
func UUID(s, field string) error {
	if !IsUUID(s) {
		return protoerr.Validation("Field '%s' has invalid UUID format: %s", field, s)
	}
	return nil
}

// NewUUID returns a random (version 4) UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// Positive fails unless value > 0.
func Positive(value float64, field string) error {
	if !(value > 0) {
		return protoerr.Validation("Field '%s' must be positive, got %v", field, value)
	}
	return nil
}

// Index fails unless 0 <= index < max.
func Index(index, max int, field string) error {
	if index < 0 || index >= max {
		return protoerr.Validation("Field '%s' index %d is out of bounds (max: %d)", field, index, max)
	}
	return nil
}

// Now returns the current instant formatted as an RFC 3339 timestamp with zone.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Timestamp parses an RFC 3339 timestamp.
func Timestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, protoerr.Validation("Invalid timestamp format: %v", err)
	}
	return t, nil
}

// Version parses a protocol or schema version. Short forms such as "1.0" are accepted.
func Version(s string) (*masterminds.Version, error) {
	v, err := masterminds.NewVersion(s)
	if err != nil {
		return nil, protoerr.Validation("Invalid version format: %s", s)
	}
	return v, nil
}

// CompareVersions returns -1, 0 or 1 as a is lower than, equal to, or higher than b.
func CompareVersions(a, b string) (int, error) {
	va, err := Version(a)
	if err != nil {
		return 0, err
	}
	vb, err := Version(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// VersionSatisfies reports whether version satisfies the constraint expression (e.g. "^1.0").
func VersionSatisfies(version, constraint string) (bool, error) {
	v, err := Version(version)
	if err != nil {
		return false, err
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, protoerr.Validation("Invalid version constraint: %s", constraint)
	}
	return c.Check(v), nil
}
