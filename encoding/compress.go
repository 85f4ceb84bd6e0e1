package encoding

import (
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frame headers written in front of every compressed-or-not blob
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

var ErrBadFrame = errors.New("encoding: unknown frame header")

var (
	encoderPool = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				panic(err)
			}
			return enc
		},
	}
	decoderPool = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				panic(err)
			}
			return dec
		},
	}
)

// Compress frames data, applying zstd when it is at least threshold bytes.
// A threshold <= 0 disables compression.
func Compress(data []byte, threshold int) []byte {
	if threshold <= 0 || len(data) < threshold {
		out := make([]byte, 0, len(data)+1)
		out = append(out, frameRaw)
		return append(out, data...)
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)

	out := make([]byte, 1, len(data)/2+1)
	out[0] = frameZstd
	return enc.EncodeAll(data, out)
}

// Decompress reverses Compress.
func Decompress(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, ErrBadFrame
	}

	switch framed[0] {
	case frameRaw:
		return framed[1:], nil
	case frameZstd:
		dec := decoderPool.Get().(*zstd.Decoder)
		defer decoderPool.Put(dec)
		return dec.DecodeAll(framed[1:], nil)
	default:
		return nil, ErrBadFrame
	}
}
