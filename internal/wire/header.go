// Package wire implements the 16-byte frame header shared by both peers
// of a flow. Headers travel in network byte order; payload bytes follow
// the header for REQUEST|WRITE and RESPONSE|READ frames.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire header length in bytes.
const HeaderSize = 16

// Type byte flags. A valid type carries exactly one direction flag and
// exactly one operation flag.
const (
	FlagRequest  uint8 = 0x01
	FlagResponse uint8 = 0x02
	FlagRead     uint8 = 0x04
	FlagWrite    uint8 = 0x08
)

// Header layout (big-endian on the wire):
//
//	byte  0     type
//	byte  1     status (meaningful on responses)
//	bytes 2-3   reserved
//	bytes 4-7   id
//	bytes 8-11  length
//	bytes 12-15 offset
type Header struct {
	Type   uint8
	Status uint8
	ID     uint32 // originating WQE id (slot byte offset)
	Length uint32 // payload byte length
	Offset uint32 // remote-side offset into the memory region
}

// Field offsets within the marshaled header.
const (
	typeOffset   = 0
	statusOffset = 1
	idOffset     = 4
	lengthOffset = 8
	offsetOffset = 12
)

// Marshal writes the header into buf, which must be at least HeaderSize
// bytes long.
func Marshal(h *Header, buf []byte) {
	buf[typeOffset] = h.Type
	buf[statusOffset] = h.Status
	buf[2] = 0
	buf[3] = 0
	binary.BigEndian.PutUint32(buf[idOffset:idOffset+4], h.ID)
	binary.BigEndian.PutUint32(buf[lengthOffset:lengthOffset+4], h.Length)
	binary.BigEndian.PutUint32(buf[offsetOffset:offsetOffset+4], h.Offset)
}

// Unmarshal decodes a header from buf, which must be at least HeaderSize
// bytes long.
func Unmarshal(buf []byte, h *Header) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("wire: short header: %d bytes", len(buf))
	}
	h.Type = buf[typeOffset]
	h.Status = buf[statusOffset]
	h.ID = binary.BigEndian.Uint32(buf[idOffset : idOffset+4])
	h.Length = binary.BigEndian.Uint32(buf[lengthOffset : lengthOffset+4])
	h.Offset = binary.BigEndian.Uint32(buf[offsetOffset : offsetOffset+4])
	return nil
}

// IsRequest reports whether the type byte carries the request flag.
func (h *Header) IsRequest() bool { return h.Type&FlagRequest == FlagRequest }

// IsResponse reports whether the type byte carries the response flag.
func (h *Header) IsResponse() bool { return h.Type&FlagResponse == FlagResponse }

// IsRead reports whether the type byte carries the read flag.
func (h *Header) IsRead() bool { return h.Type&FlagRead == FlagRead }

// IsWrite reports whether the type byte carries the write flag.
func (h *Header) IsWrite() bool { return h.Type&FlagWrite == FlagWrite }
