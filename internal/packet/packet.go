// Package packet implements the serial frame format understood by the
// HID bridge firmware.
//
// Wire format:
//
//	[0xAA] [type:1] [len:1] [payload:len] [checksum:1]
//
// checksum = (type + len + sum(payload)) mod 256.
package packet

import (
	"errors"
	"fmt"
)

// Magic marks the start of every frame.
const Magic byte = 0xAA

// Type identifies the report carried by a frame.
type Type byte

const (
	TypeMouse    Type = 0x01
	TypeKeyboard Type = 0x02
)

func (t Type) String() string {
	switch t {
	case TypeMouse:
		return "mouse"
	case TypeKeyboard:
		return "keyboard"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

// Size limits.
const (
	// MaxPayload is the largest payload the single-byte length field can describe.
	MaxPayload = 255
	// MaxDevicePayload is the receive buffer of the bridge firmware; longer
	// frames are dropped by the device.
	MaxDevicePayload = 64
	// Overhead is magic + type + len + checksum.
	Overhead = 4
)

var (
	// ErrPayloadTooLarge is returned by Encode for payloads over MaxPayload bytes.
	ErrPayloadTooLarge = errors.New("packet: payload too large")
	// ErrFrameCorrupt is returned when a frame fails validation.
	ErrFrameCorrupt = errors.New("packet: frame corrupt")
)

// CorruptKind says which check a frame failed.
type CorruptKind int

const (
	CorruptMagic CorruptKind = iota
	CorruptType
	CorruptLength
	CorruptChecksum
)

func (k CorruptKind) String() string {
	switch k {
	case CorruptMagic:
		return "bad magic"
	case CorruptType:
		return "unknown type"
	case CorruptLength:
		return "length mismatch"
	case CorruptChecksum:
		return "checksum mismatch"
	default:
		return "unknown"
	}
}

// FrameError describes a rejected frame. It matches ErrFrameCorrupt with errors.Is.
type FrameError struct {
	Kind   CorruptKind
	Offset int64 // stream offset of the frame's magic byte, -1 when decoding a single buffer
	Detail string
}

func (e *FrameError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("packet: frame corrupt at offset %d: %s (%s)", e.Offset, e.Kind, e.Detail)
	}
	return fmt.Sprintf("packet: frame corrupt: %s (%s)", e.Kind, e.Detail)
}

func (e *FrameError) Unwrap() error { return ErrFrameCorrupt }

// Packet is a decoded frame.
type Packet struct {
	Type    Type
	Payload []byte
}

// Checksum computes the frame checksum over type, length and payload.
func Checksum(t Type, payload []byte) byte {
	sum := byte(t) + byte(len(payload))
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Encode builds a complete frame. Payload semantics are not interpreted.
func Encode(t Type, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	buf := make([]byte, 0, len(payload)+Overhead)
	buf = append(buf, Magic, byte(t), byte(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, Checksum(t, payload))
	return buf, nil
}

// Decode validates and decodes exactly one frame held in buf.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < Overhead {
		return Packet{}, &FrameError{Kind: CorruptLength, Offset: -1, Detail: fmt.Sprintf("%d bytes is shorter than a frame", len(buf))}
	}
	if buf[0] != Magic {
		return Packet{}, &FrameError{Kind: CorruptMagic, Offset: -1, Detail: fmt.Sprintf("got 0x%02x", buf[0])}
	}
	t := Type(buf[1])
	if !t.valid() {
		return Packet{}, &FrameError{Kind: CorruptType, Offset: -1, Detail: t.String()}
	}
	n := int(buf[2])
	if len(buf) != n+Overhead {
		return Packet{}, &FrameError{Kind: CorruptLength, Offset: -1, Detail: fmt.Sprintf("declared %d, have %d", n, len(buf)-Overhead)}
	}
	payload := buf[3 : 3+n]
	if want, got := Checksum(t, payload), buf[3+n]; want != got {
		return Packet{}, &FrameError{Kind: CorruptChecksum, Offset: -1, Detail: fmt.Sprintf("want 0x%02x, got 0x%02x", want, got)}
	}
	out := make([]byte, n)
	copy(out, payload)
	return Packet{Type: t, Payload: out}, nil
}

func (t Type) valid() bool {
	return t == TypeMouse || t == TypeKeyboard
}
