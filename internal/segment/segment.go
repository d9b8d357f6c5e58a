// Package segment implements the PRTP wire record: a fixed 18-byte
// big-endian header plus an optional payload, integrity-tagged with a
// truncated MD5 checksum.
package segment

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// Flags is the segment's 16-bit control bitfield.
type Flags uint16

const (
	FlagSYN Flags = 0x01
	FlagACK Flags = 0x02
	FlagFIN Flags = 0x04
	FlagRST Flags = 0x08
)

// HeaderSize is the fixed, bit-exact header length in bytes.
const HeaderSize = 18

// MaxPayload is the largest payload a sender may produce.
const MaxPayload = 1024

// Segment is the decoded wire record.
type Segment struct {
	Seq        uint32
	Ack        uint32
	Flags      Flags
	Window     uint16
	Checksum   uint32
	PayloadLen uint16
	Payload    []byte
}

// Has reports whether all bits of f are set.
func (s *Segment) Has(f Flags) bool {
	return s.Flags&f == f
}

// checksum computes the integrity tag over seq, ack, flags, window, and
// payload in network byte order, truncated to its first 4 bytes. It
// excludes payload_len and the checksum field itself, matching the wire
// contract exactly.
func checksum(seq, ack uint32, flags Flags, window uint16, payload []byte) uint32 {
	buf := make([]byte, 4+4+2+2+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], ack)
	binary.BigEndian.PutUint16(buf[8:10], uint16(flags))
	binary.BigEndian.PutUint16(buf[10:12], window)
	copy(buf[12:], payload)

	sum := md5.Sum(buf)
	return binary.BigEndian.Uint32(sum[:4])
}

// New builds a segment with a freshly computed checksum. It never fails:
// callers are responsible for keeping payload within MaxPayload.
func New(seq, ack uint32, flags Flags, window uint16, payload []byte) *Segment {
	return &Segment{
		Seq:        seq,
		Ack:        ack,
		Flags:      flags,
		Window:     window,
		Checksum:   checksum(seq, ack, flags, window, payload),
		PayloadLen: uint16(len(payload)),
		Payload:    payload,
	}
}

// Encode serializes s to its wire form. Always succeeds.
func (s *Segment) Encode() []byte {
	buf := make([]byte, HeaderSize+len(s.Payload))
	binary.BigEndian.PutUint32(buf[0:4], s.Seq)
	binary.BigEndian.PutUint32(buf[4:8], s.Ack)
	binary.BigEndian.PutUint16(buf[8:10], uint16(s.Flags))
	binary.BigEndian.PutUint16(buf[10:12], s.Window)
	binary.BigEndian.PutUint32(buf[12:16], s.Checksum)
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(s.Payload)))
	copy(buf[HeaderSize:], s.Payload)
	return buf
}

// ErrTooShort is returned when b is shorter than a full header.
var ErrTooShort = fmt.Errorf("segment: buffer shorter than header")

// ErrTruncated is returned when payload_len exceeds the bytes available.
var ErrTruncated = fmt.Errorf("segment: payload shorter than payload_len")

// ErrChecksum is returned when the recomputed checksum does not match the
// one carried on the wire — the segment must be silently dropped by the
// caller, never reflected into the sink.
var ErrChecksum = fmt.Errorf("segment: checksum mismatch")

// Decode parses b into a Segment, rejecting it on any integrity failure.
func Decode(b []byte) (*Segment, error) {
	if len(b) < HeaderSize {
		return nil, ErrTooShort
	}

	s := &Segment{
		Seq:        binary.BigEndian.Uint32(b[0:4]),
		Ack:        binary.BigEndian.Uint32(b[4:8]),
		Flags:      Flags(binary.BigEndian.Uint16(b[8:10])),
		Window:     binary.BigEndian.Uint16(b[10:12]),
		Checksum:   binary.BigEndian.Uint32(b[12:16]),
		PayloadLen: binary.BigEndian.Uint16(b[16:18]),
	}

	if int(s.PayloadLen) > len(b)-HeaderSize {
		return nil, ErrTruncated
	}
	if s.PayloadLen > 0 {
		s.Payload = make([]byte, s.PayloadLen)
		copy(s.Payload, b[HeaderSize:HeaderSize+int(s.PayloadLen)])
	}

	want := checksum(s.Seq, s.Ack, s.Flags, s.Window, s.Payload)
	if want != s.Checksum {
		return nil, ErrChecksum
	}

	return s, nil
}
