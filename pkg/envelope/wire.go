package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
)

// wireEnvelope is the canonical wire object. Required fields are pointers so that a missing
// field can be told apart from an empty one on decode.
type wireEnvelope struct {
	V            *string             `json:"v"`
	MsgID        *string             `json:"msg_id"`
	TS           *string             `json:"ts"`
	From         *string             `json:"from"`
	To           *string             `json:"to"`
	Op           *string             `json:"op"`
	Capabilities map[string]string   `json:"capabilities,omitempty"`
	SchemaURI    *string             `json:"schema_uri,omitempty"`
	Accept       []string            `json:"accept,omitempty"`
	PayloadHint  *wireHint           `json:"payload_hint,omitempty"`
	PayloadRefs  []map[string]string `json:"payload_refs,omitempty"`
}

type wireHint struct {
	Type     *string `json:"type"`
	Size     *uint64 `json:"size,omitempty"`
	Encoding *string `json:"encoding,omitempty"`
	Count    *uint64 `json:"count,omitempty"`
}

// Serialize encodes e in canonical wire form. Output is deterministic: struct fields are
// emitted in declaration order and map keys sorted.
func Serialize(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, protoerr.Serialization(nil, "Cannot serialize nil envelope")
	}
	op := e.operation.String()
	w := wireEnvelope{
		V:            &e.version,
		MsgID:        &e.messageID,
		TS:           &e.timestamp,
		From:         &e.from,
		To:           &e.to,
		Op:           &op,
		Capabilities: e.capabilities,
		SchemaURI:    e.schemaURI,
		Accept:       e.accept,
		PayloadRefs:  e.payloadRefs,
	}
	if h := e.payloadHint; h != nil {
		t := h.Type.String()
		wh := &wireHint{Type: &t, Size: h.Size, Count: h.Count}
		if h.Encoding != nil {
			enc := h.Encoding.String()
			wh.Encoding = &enc
		}
		w.PayloadHint = wh
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, protoerr.Serialization(err, "Failed to serialize envelope")
	}
	return data, nil
}

// Deserialize decodes and validates an envelope. Malformed input or a missing required field
// is a Serialization error; an unknown enumeration name or a field that fails validation is a
// Validation error.
func Deserialize(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, protoerr.Serialization(err, "Failed to deserialize envelope")
	}

	required := []struct {
		name  string
		value *string
	}{
		{"v", w.V}, {"msg_id", w.MsgID}, {"ts", w.TS}, {"from", w.From}, {"to", w.To}, {"op", w.Op},
	}
	for _, f := range required {
		if f.value == nil {
			return nil, protoerr.Serialization(nil, "Failed to deserialize envelope: missing field '%s'", f.name)
		}
	}

	op, ok := types.ParseOperationType(*w.Op)
	if !ok {
		return nil, protoerr.Validation("Unknown operation type: %s", *w.Op)
	}

	b := &Builder{
		version:      *w.V,
		messageID:    *w.MsgID,
		timestamp:    *w.TS,
		from:         *w.From,
		to:           *w.To,
		operation:    op,
		capabilities: w.Capabilities,
		schemaURI:    w.SchemaURI,
		accept:       w.Accept,
		payloadRefs:  w.PayloadRefs,
	}

	if wh := w.PayloadHint; wh != nil {
		if wh.Type == nil {
			return nil, protoerr.Serialization(nil, "Failed to deserialize envelope: missing field 'payload_hint.type'")
		}
		pt, ok := types.ParsePayloadType(*wh.Type)
		if !ok {
			return nil, protoerr.Validation("Unknown payload type: %s", *wh.Type)
		}
		hint := types.PayloadHint{Type: pt, Size: wh.Size, Count: wh.Count}
		if wh.Encoding != nil {
			enc, ok := types.ParseEncodingType(*wh.Encoding)
			if !ok {
				return nil, protoerr.Validation("Unknown encoding type: %s", *wh.Encoding)
			}
			hint.Encoding = &enc
		}
		b.payloadHint = &hint
	}

	return b.Build()
}

// Hash returns the lowercase hex SHA-256 digest of Serialize(e).
func Hash(e *Envelope) (string, error) {
	data, err := Serialize(e)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the digest of already serialized envelope bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
