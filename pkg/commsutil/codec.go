package commsutil

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrEmptyPayload is returned by DecodePayload for an empty message body.
var ErrEmptyPayload = errors.New("commsutil:codec - empty payload")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into v. Unknown fields are ignored.
func DecodePayload(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, v)
}
