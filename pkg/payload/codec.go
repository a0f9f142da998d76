// Package payload converts numeric buffers to and from the byte layouts named by an
// envelope's payload hint, carries small buffers inline as payload references, and
// block-compresses serialized envelopes for transport.
package payload

import (
	"encoding/binary"
	"math"

	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
)

// Encode writes data in the given element encoding, little endian. Integer encodings
// truncate toward zero; values that are NaN, infinite or out of range fail.
func Encode(data []float32, enc types.EncodingType) ([]byte, error) {
	size := enc.ElementSize()
	if size == 0 {
		return nil, protoerr.Validation("Unknown encoding type: %s", enc)
	}

	out := make([]byte, len(data)*size)
	for i, v := range data {
		b := out[i*size : (i+1)*size]
		if enc == types.EncodingFloat32 {
			binary.LittleEndian.PutUint32(b, math.Float32bits(v))
			continue
		}
		if enc == types.EncodingFloat64 {
			binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
			continue
		}

		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, protoerr.Serialization(nil, "Element %d (%v) cannot be encoded as %s", i, v, enc)
		}
		t := math.Trunc(f)
		lo, hi := intRange(enc)
		if t < lo || t > hi {
			return nil, protoerr.Serialization(nil, "Element %d (%v) out of range for %s", i, v, enc)
		}

		switch enc {
		case types.EncodingInt32:
			binary.LittleEndian.PutUint32(b, uint32(int32(t)))
		case types.EncodingInt64:
			binary.LittleEndian.PutUint64(b, uint64(int64(t)))
		case types.EncodingUint8:
			b[0] = uint8(t)
		case types.EncodingUint16:
			binary.LittleEndian.PutUint16(b, uint16(t))
		case types.EncodingUint32:
			binary.LittleEndian.PutUint32(b, uint32(t))
		case types.EncodingUint64:
			binary.LittleEndian.PutUint64(b, uint64(t))
		}
	}
	return out, nil
}

// Decode reads a buffer written by Encode. The length must be a multiple of the element size.
func Decode(b []byte, enc types.EncodingType) ([]float32, error) {
	size := enc.ElementSize()
	if size == 0 {
		return nil, protoerr.Validation("Unknown encoding type: %s", enc)
	}
	if len(b)%size != 0 {
		return nil, protoerr.Serialization(nil, "Payload length %d is not a multiple of %d for %s", len(b), size, enc)
	}

	out := make([]float32, len(b)/size)
	for i := range out {
		e := b[i*size : (i+1)*size]
		switch enc {
		case types.EncodingFloat32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(e))
		case types.EncodingFloat64:
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(e)))
		case types.EncodingInt32:
			out[i] = float32(int32(binary.LittleEndian.Uint32(e)))
		case types.EncodingInt64:
			out[i] = float32(int64(binary.LittleEndian.Uint64(e)))
		case types.EncodingUint8:
			out[i] = float32(e[0])
		case types.EncodingUint16:
			out[i] = float32(binary.LittleEndian.Uint16(e))
		case types.EncodingUint32:
			out[i] = float32(binary.LittleEndian.Uint32(e))
		case types.EncodingUint64:
			out[i] = float32(binary.LittleEndian.Uint64(e))
		}
	}
	return out, nil
}

// HintFor describes data encoded as enc.
func HintFor(data []float32, enc types.EncodingType) types.PayloadHint {
	return types.PayloadHint{
		Type:     types.PayloadVector,
		Size:     types.Uint64(uint64(len(data) * enc.ElementSize())),
		Encoding: types.Encoding(enc),
		Count:    types.Uint64(uint64(len(data))),
	}
}

func intRange(enc types.EncodingType) (float64, float64) {
	switch enc {
	case types.EncodingInt32:
		return math.MinInt32, math.MaxInt32
	case types.EncodingInt64:
		// float64 cannot represent MaxInt64 exactly; 2^63 itself is out of range.
		return math.MinInt64, math.Nextafter(math.MaxInt64, 0)
	case types.EncodingUint8:
		return 0, math.MaxUint8
	case types.EncodingUint16:
		return 0, math.MaxUint16
	case types.EncodingUint32:
		return 0, math.MaxUint32
	default:
		return 0, math.Nextafter(math.MaxUint64, 0)
	}
}
