package protocol

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/zeusync/netsync/pkg/generic"
)

// Packer turns envelopes into transport frames and back.
// A frame is one compression id byte followed by the compressed gob encoding.
type Packer struct {
	compression Compression
	buffers     *generic.Pool[*bytes.Buffer]
}

func NewPacker(compression Compression) *Packer {
	if compression == nil {
		compression = None{}
	}
	return &Packer{
		compression: compression,
		buffers: generic.NewHotPool(
			func() *bytes.Buffer { return new(bytes.Buffer) },
			func(b *bytes.Buffer) { b.Reset() },
			16,
		),
	}
}

func (p *Packer) Compression() Compression {
	return p.compression
}

// Pack encodes v into a new frame.
func (p *Packer) Pack(v any) ([]byte, error) {
	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, NewProtocolError(ErrorCodeSerializationFailed, "pack", fmt.Errorf("%w: %v", ErrSerializationFailed, err)).
			WithContext("type", fmt.Sprintf("%T", v))
	}

	compressed, err := p.compression.Compress(buf.Bytes())
	if err != nil {
		return nil, NewProtocolError(ErrorCodeSerializationFailed, "compress", fmt.Errorf("%w: %v", ErrSerializationFailed, err)).
			WithContext("compression", p.compression.ID().String())
	}

	frame := make([]byte, 1+len(compressed))
	frame[0] = byte(p.compression.ID())
	copy(frame[1:], compressed)
	return frame, nil
}

// Unpack decodes a frame into v, which must be a pointer.
func (p *Packer) Unpack(frame []byte, v any) error {
	if len(frame) < 1 {
		return NewProtocolError(ErrorCodeProtocolViolation, "unpack", ErrInvalidFrame)
	}
	if id := CompressionID(frame[0]); id != p.compression.ID() {
		return NewProtocolError(ErrorCodeCompressionMismatch, "unpack", ErrCompressionMismatch).
			WithContext("got", id.String()).
			WithContext("want", p.compression.ID().String())
	}

	raw, err := p.compression.Decompress(frame[1:])
	if err != nil {
		return NewProtocolError(ErrorCodeDeserializationFailed, "decompress", fmt.Errorf("%w: %v", ErrDeserializationFailed, err)).
			WithContext("compression", p.compression.ID().String())
	}

	if err = gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return NewProtocolError(ErrorCodeDeserializationFailed, "unpack", fmt.Errorf("%w: %v", ErrDeserializationFailed, err)).
			WithContext("type", fmt.Sprintf("%T", v))
	}
	return nil
}
