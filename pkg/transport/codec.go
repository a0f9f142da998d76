// Package transport moves serialized envelopes over COMMS (NATS). The core packages never
// import it: an envelope enters as bytes produced by envelope.Serialize and leaves as the
// envelope.Deserialize of the bytes a message carried.
package transport

import (
	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/payload"
	"github.com/morezero/umicp/pkg/protoerr"

	comms "github.com/nats-io/nats.go"
)

// Message headers.
const (
	HeaderHash        = "Umicp-Hash"
	HeaderCompression = "Umicp-Compression"
	HeaderOperation   = "Umicp-Op"
)

// EncodeOptions controls how an envelope is packed into a message.
type EncodeOptions struct {
	Compression payload.Algorithm
	// Threshold is the serialized size in bytes below which compression is skipped.
	Threshold int
	// MaxPayloadSize rejects envelopes whose serialized form or message body exceeds it.
	// Zero disables the check.
	MaxPayloadSize int
}

// Encode serializes e into a message addressed to subject. The hash header is always
// computed over the uncompressed serialized bytes.
func Encode(e *envelope.Envelope, subject string, opts EncodeOptions) (*comms.Msg, error) {
	raw, err := envelope.Serialize(e)
	if err != nil {
		return nil, err
	}

	if opts.MaxPayloadSize > 0 && len(raw) > opts.MaxPayloadSize {
		return nil, protoerr.Transport(nil, "envelope of %d bytes exceeds max payload size %d", len(raw), opts.MaxPayloadSize)
	}

	body := raw
	alg := payload.None
	if opts.Compression != payload.None && len(raw) >= opts.Threshold {
		body, err = payload.Compress(raw, opts.Compression)
		if err != nil {
			return nil, err
		}
		alg = opts.Compression
	}

	if opts.MaxPayloadSize > 0 && len(body) > opts.MaxPayloadSize {
		return nil, protoerr.Transport(nil, "message of %d bytes exceeds max payload size %d", len(body), opts.MaxPayloadSize)
	}

	msg := comms.NewMsg(subject)
	msg.Data = body
	msg.Header.Set(HeaderHash, envelope.HashBytes(raw))
	msg.Header.Set(HeaderOperation, e.Operation().String())
	if alg != payload.None {
		msg.Header.Set(HeaderCompression, alg.String())
	}
	return msg, nil
}

// Decode reverses Encode and returns the envelope with the uncompressed serialized bytes.
// A present hash header must match those bytes. maxSize bounds the decompressed body; zero
// means payload.DefaultMaxDecompressedSize.
func Decode(msg *comms.Msg, maxSize int) (*envelope.Envelope, []byte, error) {
	if msg == nil {
		return nil, nil, protoerr.Transport(nil, "nil message")
	}

	raw := msg.Data
	var wantHash string
	if msg.Header != nil {
		wantHash = msg.Header.Get(HeaderHash)
		alg, err := payload.ParseAlgorithm(msg.Header.Get(HeaderCompression))
		if err != nil {
			return nil, nil, err
		}
		if raw, err = payload.Decompress(msg.Data, alg, maxSize); err != nil {
			return nil, nil, err
		}
	}

	if wantHash != "" {
		if got := envelope.HashBytes(raw); got != wantHash {
			return nil, nil, protoerr.Validation("envelope hash mismatch: header %s, computed %s", wantHash, got)
		}
	}

	e, err := envelope.Deserialize(raw)
	if err != nil {
		return nil, nil, err
	}
	return e, raw, nil
}
