// Package types defines the primitive types shared by envelopes and the numeric kernel.
package types

import "fmt"

// OperationType is the kind of an envelope. Control is the zero value.
type OperationType int

const (
	OperationControl OperationType = iota
	OperationData
	OperationAck
	OperationError
	OperationRequest
	OperationResponse
)

var operationNames = [...]string{"control", "data", "ack", "error", "request", "response"}

// String returns the lowercase wire name of the operation.
func (o OperationType) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return fmt.Sprintf("operation(%d)", int(o))
	}
	return operationNames[o]
}

// Valid reports whether o is one of the defined operations.
func (o OperationType) Valid() bool {
	return o >= 0 && int(o) < len(operationNames)
}

// ParseOperationType maps a wire name to an OperationType. Unknown names are rejected.
func ParseOperationType(s string) (OperationType, bool) {
	for i, name := range operationNames {
		if name == s {
			return OperationType(i), true
		}
	}
	return 0, false
}

// PayloadType describes what an out-of-band payload contains.
type PayloadType int

const (
	PayloadVector PayloadType = iota
	PayloadText
	PayloadMetadata
	PayloadBinary
)

var payloadNames = [...]string{"vector", "text", "metadata", "binary"}

func (p PayloadType) String() string {
	if p < 0 || int(p) >= len(payloadNames) {
		return fmt.Sprintf("payload(%d)", int(p))
	}
	return payloadNames[p]
}

// Valid reports whether p is one of the defined payload types.
func (p PayloadType) Valid() bool {
	return p >= 0 && int(p) < len(payloadNames)
}

// ParsePayloadType maps a wire name to a PayloadType.
func ParsePayloadType(s string) (PayloadType, bool) {
	for i, name := range payloadNames {
		if name == s {
			return PayloadType(i), true
		}
	}
	return 0, false
}

// EncodingType is the element encoding of a numeric payload.
type EncodingType int

const (
	EncodingFloat32 EncodingType = iota
	EncodingFloat64
	EncodingInt32
	EncodingInt64
	EncodingUint8
	EncodingUint16
	EncodingUint32
	EncodingUint64
)

var encodingNames = [...]string{"float32", "float64", "int32", "int64", "uint8", "uint16", "uint32", "uint64"}

var encodingSizes = [...]int{4, 8, 4, 8, 1, 2, 4, 8}

func (e EncodingType) String() string {
	if e < 0 || int(e) >= len(encodingNames) {
		return fmt.Sprintf("encoding(%d)", int(e))
	}
	return encodingNames[e]
}

// Valid reports whether e is one of the defined encodings.
func (e EncodingType) Valid() bool {
	return e >= 0 && int(e) < len(encodingNames)
}

// ElementSize returns the width of one element in bytes, or 0 for an undefined encoding.
func (e EncodingType) ElementSize() int {
	if !e.Valid() {
		return 0
	}
	return encodingSizes[e]
}

// ParseEncodingType maps a wire name to an EncodingType.
func ParseEncodingType(s string) (EncodingType, bool) {
	for i, name := range encodingNames {
		if name == s {
			return EncodingType(i), true
		}
	}
	return 0, false
}

// PayloadHint describes an attached payload. Optional fields are nil when absent.
type PayloadHint struct {
	Type     PayloadType
	Size     *uint64
	Encoding *EncodingType
	Count    *uint64
}

// Clone returns a deep copy of h.
func (h PayloadHint) Clone() PayloadHint {
	out := PayloadHint{Type: h.Type}
	if h.Size != nil {
		v := *h.Size
		out.Size = &v
	}
	if h.Encoding != nil {
		v := *h.Encoding
		out.Encoding = &v
	}
	if h.Count != nil {
		v := *h.Count
		out.Count = &v
	}
	return out
}

// Uint64 returns a pointer to v, for filling optional hint fields.
func Uint64(v uint64) *uint64 { return &v }

// Encoding returns a pointer to e, for filling PayloadHint.Encoding.
func Encoding(e EncodingType) *EncodingType { return &e }

// NumericResult is the value returned by kernel operations.
// At most one of Scalar, Similarity and Data is populated.
type NumericResult struct {
	Scalar     *float64
	Similarity *float64
	Data       []float32
}

// Capabilities is free-form string metadata attached to an envelope.
type Capabilities = map[string]string

// AcceptTypes lists the content types a sender accepts in reply.
type AcceptTypes = []string

// PayloadRefs describes the locations of a multi-part payload.
type PayloadRefs = []map[string]string
