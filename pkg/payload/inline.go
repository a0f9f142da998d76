package payload

import (
	"encoding/base64"

	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
)

// Keys of an inline payload reference.
const (
	RefName     = "name"
	RefEncoding = "encoding"
	RefData     = "data"
)

// InlineRef encodes data and returns a payload reference carrying it as base64.
func InlineRef(name string, data []float32, enc types.EncodingType) (map[string]string, error) {
	raw, err := Encode(data, enc)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		RefName:     name,
		RefEncoding: enc.String(),
		RefData:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// ResolveInline decodes the buffer carried by an inline reference.
func ResolveInline(ref map[string]string) ([]float32, error) {
	encName, ok := ref[RefEncoding]
	if !ok {
		return nil, protoerr.Validation("Payload reference '%s' has no encoding", ref[RefName])
	}
	enc, ok := types.ParseEncodingType(encName)
	if !ok {
		return nil, protoerr.Validation("Unknown encoding type: %s", encName)
	}
	encoded, ok := ref[RefData]
	if !ok {
		return nil, protoerr.Validation("Payload reference '%s' carries no inline data", ref[RefName])
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, protoerr.Serialization(err, "Invalid inline data in payload reference '%s'", ref[RefName])
	}
	return Decode(raw, enc)
}
