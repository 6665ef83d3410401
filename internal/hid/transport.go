package hid

import (
	"encoding/binary"
	"fmt"

	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/packet"
)

// LogTransport is a dry-run writer: it decodes each frame and logs what the
// bridge would have received instead of touching a serial port.
type LogTransport struct {
	mode MouseMode
	log  *log.Logger
}

// NewLogTransport returns a dry-run transport for the given mouse encoding.
func NewLogTransport(mode MouseMode, logger *log.Logger) *LogTransport {
	return &LogTransport{mode: mode, log: logger.Named("dry-run")}
}

// Write implements io.Writer. A buffer that does not hold exactly one valid
// frame is reported as an error so the Device counts it as failed.
func (t *LogTransport) Write(p []byte) (int, error) {
	pkt, err := packet.Decode(p)
	if err != nil {
		return 0, err
	}
	t.log.Info("frame", map[string]any{
		"type":   pkt.Type.String(),
		"report": Describe(pkt, t.mode),
	})
	return len(p), nil
}

// Close implements io.Closer.
func (t *LogTransport) Close() error { return nil }

// Describe renders a decoded packet as a short human-readable report.
func Describe(pkt packet.Packet, mode MouseMode) string {
	p := pkt.Payload
	switch pkt.Type {
	case packet.TypeKeyboard:
		if len(p) != 1+ReportKeys {
			return fmt.Sprintf("keyboard raw=% x", p)
		}
		return fmt.Sprintf("keyboard mods=0x%02x keys=% x", p[0], p[1:])
	case packet.TypeMouse:
		if len(p) != 5 {
			return fmt.Sprintf("mouse raw=% x", p)
		}
		if mode == MouseRelative {
			return fmt.Sprintf("mouse rel buttons=0x%02x dx=%d dy=%d wheel=%d hscroll=%d",
				p[0], int8(p[1]), int8(p[2]), int8(p[3]), int8(p[4]))
		}
		return fmt.Sprintf("mouse abs x=%d y=%d buttons=0x%02x",
			binary.LittleEndian.Uint16(p[0:2]), binary.LittleEndian.Uint16(p[2:4]), p[4])
	}
	return fmt.Sprintf("%s raw=% x", pkt.Type, p)
}
