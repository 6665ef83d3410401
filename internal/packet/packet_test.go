package packet

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	frame, err := Encode(TypeKeyboard, []byte{0x02, 0x04, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0xAA, 0x02, 0x07, 0x02, 0x04, 0, 0, 0, 0, 0, 0x0F}
	if !bytes.Equal(frame, want) {
		t.Errorf("Expected % X, got % X", want, frame)
	}
}

func TestEncodeChecksumWraps(t *testing.T) {
	payload := bytes.Repeat([]byte{0xFF}, 5)
	frame, err := Encode(TypeMouse, payload)
	if err != nil {
		t.Fatal(err)
	}
	// 1 + 5 + 5*255 = 1281 -> 0x01
	if got := frame[len(frame)-1]; got != 0x01 {
		t.Errorf("Expected checksum 0x01, got 0x%02X", got)
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(TypeKeyboard, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestRoundTripAllLengths(t *testing.T) {
	for _, typ := range []Type{TypeMouse, TypeKeyboard} {
		for n := 0; n <= MaxPayload; n++ {
			payload := make([]byte, n)
			for i := range payload {
				payload[i] = byte(i*7 + n)
			}
			frame, err := Encode(typ, payload)
			if err != nil {
				t.Fatalf("Encode(%s, %d bytes) failed: %v", typ, n, err)
			}
			got, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode(%s, %d bytes) failed: %v", typ, n, err)
			}
			if got.Type != typ || !bytes.Equal(got.Payload, payload) {
				t.Fatalf("Round trip mismatch for %s/%d", typ, n)
			}
		}
	}
}

func TestDecodeRejectsAnySingleByteChange(t *testing.T) {
	frame, _ := Encode(TypeMouse, []byte{0x10, 0x20, 0x30, 0x40, 0x01})
	for i := range frame {
		for _, delta := range []byte{0x01, 0x80, 0xFF} {
			mutated := append([]byte(nil), frame...)
			mutated[i] ^= delta
			_, err := Decode(mutated)
			if !errors.Is(err, ErrFrameCorrupt) {
				t.Errorf("byte %d ^ 0x%02X: expected ErrFrameCorrupt, got %v", i, delta, err)
			}
		}
	}
}

func TestDecodeErrorKinds(t *testing.T) {
	good, _ := Encode(TypeKeyboard, []byte{1, 2, 3})
	tests := []struct {
		name  string
		frame []byte
		kind  CorruptKind
	}{
		{"short", []byte{0xAA, 0x01}, CorruptLength},
		{"magic", append([]byte{0xAB}, good[1:]...), CorruptMagic},
		{"type", []byte{0xAA, 0x09, 0x00, 0x09}, CorruptType},
		{"length", append(append([]byte(nil), good...), 0x00), CorruptLength},
		{"checksum", append(append([]byte(nil), good[:len(good)-1]...), good[len(good)-1]+1), CorruptChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("Expected *FrameError, got %v", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, fe.Kind)
			}
		})
	}
}

func TestDecoderResynchronizes(t *testing.T) {
	first, _ := Encode(TypeKeyboard, []byte{0, 4, 0, 0, 0, 0, 0})
	bad, _ := Encode(TypeMouse, []byte{1, 2, 3, 4, 0})
	bad[len(bad)-1]++ // break the checksum
	last, _ := Encode(TypeMouse, []byte{9, 9, 9, 9, 1})

	var stream []byte
	stream = append(stream, 0x00, 0x13) // line noise
	stream = append(stream, first...)
	stream = append(stream, bad...)
	stream = append(stream, last...)

	d := NewDecoder(bytes.NewReader(stream))

	p, err := d.Next()
	if err != nil || p.Type != TypeKeyboard {
		t.Fatalf("Expected keyboard frame, got %+v, %v", p, err)
	}

	_, err = d.Next()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != CorruptChecksum {
		t.Fatalf("Expected checksum error, got %v", err)
	}
	if fe.Offset != int64(2+len(first)) {
		t.Errorf("Expected corrupt frame at offset %d, got %d", 2+len(first), fe.Offset)
	}

	p, err = d.Next()
	if err != nil {
		t.Fatalf("Expected decoder to recover, got %v", err)
	}
	if p.Type != TypeMouse || !bytes.Equal(p.Payload, []byte{9, 9, 9, 9, 1}) {
		t.Errorf("Unexpected frame after resync: %+v", p)
	}

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	frame, _ := Encode(TypeKeyboard, make([]byte, MaxDevicePayload+1))
	d := NewDecoder(bytes.NewReader(frame))
	_, err := d.Next()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != CorruptLength {
		t.Fatalf("Expected length error, got %v", err)
	}
}

func TestDecoderTruncatedFrame(t *testing.T) {
	frame, _ := Encode(TypeKeyboard, []byte{0, 4, 0, 0, 0, 0, 0})
	d := NewDecoder(bytes.NewReader(frame[:5]))
	if _, err := d.Next(); err != io.ErrUnexpectedEOF {
		t.Fatalf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}
