// Package frame defines the on-wire byte layout of a bus frame: a 6-byte
// header, a variable payload, and a trailing CRC-8.
package frame

import (
	"errors"

	"github.com/grantwilk/busnode/internal/crc8"
)

const (
	// Preamble is the fixed leading byte, alternating bits to give eight
	// evenly-spaced line edges for clock recovery.
	Preamble byte = 0x55
	// Version is the only protocol version this implementation speaks.
	Version byte = 0x01
	// Broadcast is the destination address every node accepts.
	Broadcast byte = 0x00

	// HeaderLen is the fixed header size in bytes.
	HeaderLen = 6
	// TrailerLen is the CRC-8 trailer size in bytes.
	TrailerLen = 1
	// MaxPayload is the largest payload a single frame can carry.
	MaxPayload = 255
	// MaxFrame is the largest on-wire frame (header + max payload + trailer).
	MaxFrame = HeaderLen + MaxPayload + TrailerLen
)

// crcReserved is the fixed value of the CRCFlag header byte: reserved, and
// must always be 1. No call site branches on it.
const crcReserved byte = 0x01

var (
	// ErrPayloadTooLarge is returned when a caller asks to build a frame
	// with a payload longer than MaxPayload.
	ErrPayloadTooLarge = errors.New("frame: payload exceeds 255 bytes")
	// ErrTruncated is returned when Unmarshal is given a buffer shorter than
	// a header plus trailer, or whose size differs from what the frame's own
	// length field implies.
	ErrTruncated = errors.New("frame: truncated")
	// ErrBadPreamble is returned when the leading byte isn't 0x55.
	ErrBadPreamble = errors.New("frame: bad preamble")
	// ErrWrongVersion is returned when the version byte isn't the one this
	// implementation speaks.
	ErrWrongVersion = errors.New("frame: wrong version")
	// ErrCRCMismatch is returned when the trailer doesn't match the computed
	// checksum over header+payload.
	ErrCRCMismatch = errors.New("frame: crc mismatch")
)

// Frame is the decoded representation of one bus frame.
type Frame struct {
	Source      byte
	Destination byte
	Payload     []byte
}

// Marshal builds the on-wire byte representation, computing and appending
// the CRC-8 trailer. Payload longer than MaxPayload is an error; callers
// fragment larger payloads themselves (see link.Send).
func Marshal(source, destination byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	header := []byte{Preamble, Version, source, destination, byte(len(payload)), crcReserved}
	out := make([]byte, 0, HeaderLen+len(payload)+TrailerLen)
	out = append(out, header...)
	out = append(out, payload...)
	out = append(out, crc8.FrameChecksum(header, payload))
	return out, nil
}

// Unmarshal validates and decodes a frame from raw on-wire bytes. It
// enforces the four recv-time checks from the specification: preamble,
// version, exact size (6 + length + 1), and CRC.
func Unmarshal(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen+TrailerLen {
		return Frame{}, ErrTruncated
	}
	if buf[0] != Preamble {
		return Frame{}, ErrBadPreamble
	}
	if buf[1] != Version {
		return Frame{}, ErrWrongVersion
	}
	length := int(buf[4])
	if len(buf) != HeaderLen+length+TrailerLen {
		return Frame{}, ErrTruncated
	}
	header := buf[:HeaderLen]
	payload := buf[HeaderLen : HeaderLen+length]
	trailer := buf[HeaderLen+length]
	if crc8.FrameChecksum(header, payload) != trailer {
		return Frame{}, ErrCRCMismatch
	}
	f := Frame{
		Source:      buf[2],
		Destination: buf[3],
		Payload:     append([]byte(nil), payload...),
	}
	return f, nil
}

// IsForLocal reports whether a frame destined for dst should be delivered
// to a node whose local address is localAddr: broadcast or exact match.
func IsForLocal(dst, localAddr byte) bool {
	return dst == Broadcast || dst == localAddr
}
