// Package hid turns keyboard and mouse intents into framed reports for the
// serial HID bridge.
//
// All sends go through a single Device, which paces frames so the bridge
// firmware can keep up. Transport failures are logged and counted but never
// abort a sequence: the bridge resynchronizes on the next magic byte, so the
// caller proceeds on a best-effort basis.
package hid

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/packet"
)

// MouseMode selects the mouse payload encoding. A bridge firmware speaks one
// of them; the two are never mixed on one Device.
type MouseMode int

const (
	MouseAbsolute MouseMode = iota
	MouseRelative
)

func (m MouseMode) String() string {
	if m == MouseRelative {
		return "relative"
	}
	return "absolute"
}

// ParseMouseMode maps a config string to a MouseMode.
func ParseMouseMode(s string) (MouseMode, error) {
	switch s {
	case "", "absolute", "abs":
		return MouseAbsolute, nil
	case "relative", "rel":
		return MouseRelative, nil
	default:
		return MouseAbsolute, fmt.Errorf("unknown mouse mode %q", s)
	}
}

// ErrMouseMode is returned when a mouse operation does not match the
// Device's MouseMode.
var ErrMouseMode = errors.New("hid: mouse operation does not match device mouse mode")

// Timing holds the fixed delays the bridge needs.
type Timing struct {
	PacketGap   time.Duration // after every frame
	KeyHold     time.Duration // between key-down and key-up reports
	CharGap     time.Duration // between typed characters
	ClickSettle time.Duration // between redundant position reports
	ClickPress  time.Duration // button-down and button-up dwell
}

// DefaultTiming matches the bridge firmware's processing cadence.
func DefaultTiming() Timing {
	return Timing{
		PacketGap:   2 * time.Millisecond,
		KeyHold:     15 * time.Millisecond,
		CharGap:     2 * time.Millisecond,
		ClickSettle: 10 * time.Millisecond,
		ClickPress:  30 * time.Millisecond,
	}
}

// Config configures a Device.
type Config struct {
	Timing    Timing
	MouseMode MouseMode
	Screen    Screen
}

// Stats counts frames handed to the transport.
type Stats struct {
	Sent   int
	Failed int
}

// Device is the single send path to the bridge.
type Device struct {
	w     io.Writer
	cfg   Config
	log   *log.Logger
	sleep func(time.Duration)
	stats Stats
}

// New creates a Device writing frames to w.
func New(w io.Writer, cfg Config, logger *log.Logger) *Device {
	if cfg.Timing.KeyHold < time.Millisecond {
		cfg.Timing.KeyHold = time.Millisecond
	}
	return &Device{w: w, cfg: cfg, log: logger.Named("hid"), sleep: time.Sleep}
}

// SetSleep replaces the Device's clock, for tests and dry runs.
func (d *Device) SetSleep(fn func(time.Duration)) {
	if fn != nil {
		d.sleep = fn
	}
}

// Stats returns the send counters.
func (d *Device) Stats() Stats { return d.stats }

// Mode returns the mouse encoding the Device was built for.
func (d *Device) Mode() MouseMode { return d.cfg.MouseMode }

// Screen returns the configured target resolution.
func (d *Device) Screen() Screen { return d.cfg.Screen }

// Pause blocks for the given duration using the Device's clock.
func (d *Device) Pause(dur time.Duration) {
	if dur > 0 {
		d.sleep(dur)
	}
}

// Send frames payload and writes it. Only encoding errors are returned;
// transport errors are logged and counted.
func (d *Device) Send(t packet.Type, payload []byte) error {
	frame, err := packet.Encode(t, payload)
	if err != nil {
		return err
	}
	if _, err := d.w.Write(frame); err != nil {
		d.stats.Failed++
		d.log.Warn("serial write failed", map[string]any{"type": t.String(), "error": err})
	} else {
		d.stats.Sent++
	}
	d.Pause(d.cfg.Timing.PacketGap)
	return nil
}
