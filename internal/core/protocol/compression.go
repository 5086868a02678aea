package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionID is written as the first byte of every packed frame.
type CompressionID uint8

const (
	CompressionNone CompressionID = iota
	CompressionLZ4
	CompressionZstd
)

func (id CompressionID) String() string {
	switch id {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(id))
	}
}

// Compression is a pluggable frame compression strategy. Implementations must be safe
// for concurrent use because one packer serves every connection.
type Compression interface {
	ID() CompressionID
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// ParseCompression resolves a configured strategy name.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None{}, nil
	case "lz4":
		return LZ4{}, nil
	case "zstd":
		return NewZstd()
	default:
		return nil, NewProtocolError(ErrorCodeInvalidConfig, "parse compression", ErrInvalidConfig).
			WithContext("compression", name)
	}
}

// None passes frames through untouched.
type None struct{}

func (None) ID() CompressionID { return CompressionNone }

func (None) Compress(src []byte) ([]byte, error) { return src, nil }

func (None) Decompress(src []byte) ([]byte, error) { return src, nil }

// LZ4 uses the lz4 frame format.
type LZ4 struct{}

func (LZ4) ID() CompressionID { return CompressionLZ4 }

func (LZ4) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4) Decompress(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(zr)
}

// Zstd shares one encoder and one decoder; EncodeAll and DecodeAll are safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) ID() CompressionID { return CompressionZstd }

func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// Close releases the encoder and decoder goroutines.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
