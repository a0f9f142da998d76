// Package schema implements the registry of message schemas that envelopes reference through
// their schema_uri field.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// Type is the schema language of a Definition.
type Type int

const (
	TypeJSON Type = iota
	TypeCBOR
	TypeProtobuf
	TypeCustom
)

var typeNames = [...]string{"json", "cbor", "protobuf", "custom"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("schema(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType maps a name to a Type. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown schema type: %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Definition is a registered schema.
type Definition struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	Version            string    `json:"version" yaml:"version"`
	Type               Type      `json:"type" yaml:"type"`
	Content            string    `json:"content,omitempty" yaml:"content,omitempty"`
	CompatibleVersions []string  `json:"compatibleVersions,omitempty" yaml:"compatibleVersions,omitempty"`
	CreatedAt          time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt          time.Time `json:"updatedAt" yaml:"-"`
}

func (d Definition) clone() Definition {
	out := d
	if d.CompatibleVersions != nil {
		out.CompatibleVersions = append([]string(nil), d.CompatibleVersions...)
	}
	return out
}

// ValidationResult is the outcome of validating a message or envelope against a schema.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func valid() ValidationResult { return ValidationResult{Valid: true} }

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// Stats counts validations since the registry was created or last reset.
type Stats struct {
	TotalSchemas     int       `json:"totalSchemas"`
	TotalValidations int       `json:"totalValidations"`
	ValidationErrors int       `json:"validationErrors"`
	LastValidation   time.Time `json:"lastValidation,omitempty"`
}

// Error is a structured registry error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Error codes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeInternal        = "INTERNAL_ERROR"
)

// NewError creates an Error.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
