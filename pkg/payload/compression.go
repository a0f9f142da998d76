package payload

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/morezero/umicp/pkg/protoerr"
)

// Algorithm selects a block compression codec.
type Algorithm uint8

const (
	// None passes data through unchanged, without a header.
	None Algorithm = 0
	// LZ4 is fast block compression.
	LZ4 Algorithm = 1
	// Zstd trades speed for ratio.
	Zstd Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a configuration or header value to an Algorithm. Empty means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, protoerr.Configuration("Unknown compression algorithm: %s", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return newZstdEncoder(zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return newZstdDecoder()
}

func newZstdEncoder(opts ...zstd.EOption) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, protoerr.Configuration("zstd encoder: %v", err)
	}
	return enc, nil
}

func newZstdDecoder(opts ...zstd.DOption) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, protoerr.Configuration("zstd decoder: %v", err)
	}
	return dec, nil
}

// Block layout: [uncompressed uint32][compressed uint32][data]. A compressed size of 0
// means the data is stored raw because compression did not help.
const headerSize = 8

// Compress returns data framed as a single block. With None it returns data as is.
func Compress(data []byte, alg Algorithm) ([]byte, error) {
	if alg == None {
		return data, nil
	}

	var compressed []byte
	switch alg {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, protoerr.Serialization(err, "lz4 compression failed")
		}
		compressed = buf[:n]
	case Zstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, protoerr.Configuration("Unknown compression algorithm: %d", alg)
	}

	// Store raw when the ratio is worse than 0.9.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

// DefaultMaxDecompressedSize bounds Decompress when the caller passes no limit.
const DefaultMaxDecompressedSize = 64 << 20

// Decompress reverses Compress. A block whose header declares more than maxSize uncompressed
// bytes is rejected before anything is allocated; maxSize <= 0 means
// DefaultMaxDecompressedSize.
func Decompress(data []byte, alg Algorithm, maxSize int) ([]byte, error) {
	if alg == None {
		return data, nil
	}
	if len(data) < headerSize {
		return nil, protoerr.Serialization(nil, "Compressed block too small for header")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxDecompressedSize
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	body := data[headerSize:]

	if uint64(uncompressedSize) > uint64(maxSize) {
		return nil, protoerr.Serialization(nil, "Declared size %d exceeds limit %d", uncompressedSize, maxSize)
	}

	if compressedSize == 0 {
		if uint32(len(body)) != uncompressedSize {
			return nil, protoerr.Serialization(nil, "Stored block length %d does not match header %d", len(body), uncompressedSize)
		}
		return body, nil
	}
	if uint32(len(body)) != compressedSize {
		return nil, protoerr.Serialization(nil, "Compressed block length %d does not match header %d", len(body), compressedSize)
	}

	result := make([]byte, uncompressedSize)
	switch alg {
	case LZ4:
		n, err := lz4.UncompressBlock(body, result)
		if err != nil {
			return nil, protoerr.Serialization(err, "lz4 decompression failed")
		}
		if uint32(n) != uncompressedSize {
			return nil, protoerr.Serialization(nil, "Decompressed size mismatch")
		}
		return result, nil
	case Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(body, result[:0])
		if err != nil {
			return nil, protoerr.Serialization(err, "zstd decompression failed")
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, protoerr.Serialization(nil, "Decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, protoerr.Configuration("Unknown compression algorithm: %d", alg)
	}
}
