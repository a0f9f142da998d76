package schema

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/morezero/umicp/pkg/envelope"
)

// ValidateEnvelope checks that an envelope's schema_uri names a registered schema, either by
// id or as name@range. Envelopes without a schema_uri are valid and not counted.
func (r *Registry) ValidateEnvelope(e *envelope.Envelope) ValidationResult {
	uri, ok := e.SchemaURI()
	if !ok {
		return valid()
	}

	res := valid()
	if _, err := r.Lookup(uri); err != nil {
		res = invalid("Schema not found: %s", uri)
	}
	r.recordValidation(res.Valid)
	return res
}

// ValidateMessage checks message data against a registered schema. contentType is "json"
// or "cbor".
func (r *Registry) ValidateMessage(id string, data []byte, contentType string) ValidationResult {
	d, ok := r.Get(id)
	var res ValidationResult
	switch {
	case !ok:
		res = invalid("Schema not found: %s", id)
	case contentType == "json":
		res = validateJSON(d, data)
	case contentType == "cbor":
		res = validateCBOR(data)
	default:
		res = invalid("Unsupported content type: %s", contentType)
	}
	r.recordValidation(res.Valid)
	return res
}

// validateJSON requires a JSON object or array. When the schema content is a JSON Schema
// document with a top-level "required" list, an object message must carry those properties.
func validateJSON(d Definition, data []byte) ValidationResult {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return invalid("Empty JSON data")
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return invalid("Invalid JSON: must start with { or [")
	}
	if !json.Valid(trimmed) {
		return invalid("Invalid JSON: malformed document")
	}

	if d.Type != TypeJSON || d.Content == "" || trimmed[0] != '{' {
		return valid()
	}
	var doc struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(d.Content), &doc); err != nil {
		return ValidationResult{Valid: true, Warnings: []string{"schema content is not a JSON document"}}
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return invalid("Invalid JSON: %v", err)
	}
	for _, prop := range doc.Required {
		if _, ok := msg[prop]; !ok {
			return invalid("Missing required property: %s", prop)
		}
	}
	return valid()
}

// validateCBOR checks the initial byte and the argument that follows it. Major type 7 with
// additional info 28-30 is reserved. A definite-length byte or text string must declare
// exactly the bytes that follow its header; nested items are not walked.
func validateCBOR(data []byte) ValidationResult {
	if len(data) == 0 {
		return invalid("Empty CBOR data")
	}
	major, info := data[0]>>5, data[0]&0x1f
	if info >= 28 && info <= 30 {
		return invalid("Invalid CBOR: reserved additional information %d for major type %d", info, major)
	}
	if info == 31 {
		return valid()
	}

	arg, header := uint64(info), 1
	if info >= 24 {
		width := 1 << (info - 24)
		if len(data) < 1+width {
			return invalid("Invalid CBOR: truncated argument, need %d bytes after the initial byte", width)
		}
		var buf [8]byte
		copy(buf[8-width:], data[1:1+width])
		arg, header = binary.BigEndian.Uint64(buf[:]), 1+width
	}

	if major == 2 || major == 3 {
		if rest := uint64(len(data) - header); arg != rest {
			return invalid("Invalid CBOR: string declares %d bytes but %d follow", arg, rest)
		}
	}
	return valid()
}
