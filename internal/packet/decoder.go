package packet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Decoder reads frames from a byte stream. After a rejected frame it resumes
// scanning at the byte following the rejected magic, so a single corrupt
// frame never costs more than its own bytes.
type Decoder struct {
	r          *bufio.Reader
	maxPayload int
	offset     int64
}

// NewDecoder creates a decoder bounded by the device receive buffer.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, MaxDevicePayload)
}

// NewDecoderSize creates a decoder accepting payloads up to maxPayload bytes.
func NewDecoderSize(r io.Reader, maxPayload int) *Decoder {
	if maxPayload <= 0 || maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}
	return &Decoder{r: bufio.NewReaderSize(r, MaxPayload+Overhead), maxPayload: maxPayload}
}

// Offset is the number of bytes consumed so far.
func (d *Decoder) Offset() int64 { return d.offset }

// Next returns the next frame. A *FrameError (matching ErrFrameCorrupt) is
// returned for each rejected frame; the caller may keep calling Next.
// io.EOF means the stream ended between frames, io.ErrUnexpectedEOF that it
// ended inside one.
func (d *Decoder) Next() (Packet, error) {
	if err := d.skipToMagic(); err != nil {
		return Packet{}, err
	}
	start := d.offset
	// Consume the magic; everything after it stays buffered until the frame
	// checks out.
	if _, err := d.r.Discard(1); err != nil {
		return Packet{}, err
	}
	d.offset++

	head, err := d.r.Peek(2)
	if err != nil {
		return Packet{}, eofInFrame(err)
	}
	t, n := Type(head[0]), int(head[1])
	if !t.valid() {
		return Packet{}, &FrameError{Kind: CorruptType, Offset: start, Detail: t.String()}
	}
	if n > d.maxPayload {
		return Packet{}, &FrameError{Kind: CorruptLength, Offset: start, Detail: fmt.Sprintf("length %d exceeds %d", n, d.maxPayload)}
	}

	body, err := d.r.Peek(2 + n + 1)
	if err != nil {
		return Packet{}, eofInFrame(err)
	}
	payload := body[2 : 2+n]
	if want, got := Checksum(t, payload), body[2+n]; want != got {
		return Packet{}, &FrameError{Kind: CorruptChecksum, Offset: start, Detail: fmt.Sprintf("want 0x%02x, got 0x%02x", want, got)}
	}

	out := make([]byte, n)
	copy(out, payload)
	discarded, _ := d.r.Discard(len(body))
	d.offset += int64(discarded)
	return Packet{Type: t, Payload: out}, nil
}

// skipToMagic advances until the next unread byte is Magic.
func (d *Decoder) skipToMagic() error {
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			return err
		}
		if b[0] == Magic {
			return nil
		}
		if _, err := d.r.Discard(1); err != nil {
			return err
		}
		d.offset++
	}
}

func eofInFrame(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
