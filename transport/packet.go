package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/netcore/limits"
)

// PackageMagic is the sentinel opening every NetPackage.
const PackageMagic uint16 = 12345

// HeaderSize is the encoded size of a NetPackage header.
const HeaderSize = limits.HeaderSize

// Header is the fixed prefix of a NetPackage. All fields travel in network
// byte order.
//
//	offset 0: uint16 magic
//	offset 2: uint16 length (header + payload)
//	offset 4: uint32 seq
//	offset 8: payload
type Header struct {
	Magic  uint16
	Length uint16
	Seq    uint32
}

// NetPackage is one framed record on a TCPConnection stream.
type NetPackage struct {
	Seq     uint32
	Payload []byte
}

// Size returns the encoded size of the package.
func (p *NetPackage) Size() int {
	return HeaderSize + len(p.Payload)
}

// Serialize encodes the package into a new slice.
func (p *NetPackage) Serialize() ([]byte, error) {
	buf := make([]byte, p.Size())
	if _, err := p.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalTo encodes the package into dst and returns the bytes written.
func (p *NetPackage) MarshalTo(dst []byte) (int, error) {
	if err := limits.ValidatePayload(p.Payload); err != nil {
		return 0, err
	}
	size := p.Size()
	if len(dst) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, size, len(dst))
	}
	encodePackage(dst, p.Seq, p.Payload)
	return size, nil
}

// encodePackage writes header and payload; dst must hold HeaderSize+len(payload).
func encodePackage(dst []byte, seq uint32, payload []byte) {
	binary.BigEndian.PutUint16(dst[0:2], PackageMagic)
	binary.BigEndian.PutUint16(dst[2:4], uint16(HeaderSize+len(payload)))
	binary.BigEndian.PutUint32(dst[4:8], seq)
	copy(dst[HeaderSize:], payload)
}

// ParseHeader decodes and validates the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrIncomplete
	}
	h := Header{
		Magic:  binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint16(b[2:4]),
		Seq:    binary.BigEndian.Uint32(b[4:8]),
	}
	if h.Magic != PackageMagic {
		return h, fmt.Errorf("%w: got %d", ErrBadMagic, h.Magic)
	}
	if h.Length < HeaderSize {
		return h, fmt.Errorf("%w: length %d shorter than header", ErrBadLength, h.Length)
	}
	return h, nil
}

// ParseNetPackage decodes the first complete package in b and returns it with
// the number of bytes consumed. ErrIncomplete means more bytes are needed.
// The payload is copied out of b.
func ParseNetPackage(b []byte) (*NetPackage, int, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, 0, err
	}
	length := int(h.Length)
	if len(b) < length {
		return nil, 0, ErrIncomplete
	}
	p := &NetPackage{
		Seq:     h.Seq,
		Payload: make([]byte, length-HeaderSize),
	}
	copy(p.Payload, b[HeaderSize:length])
	return p, length, nil
}
