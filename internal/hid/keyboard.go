package hid

import (
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/packet"
)

// ReportKeys is the number of key slots in a keyboard report.
const ReportKeys = 6

// KeyboardReport is the 7-byte boot keyboard report: modifiers then six
// key slots, zero-padded.
type KeyboardReport struct {
	Modifiers byte
	Keys      [ReportKeys]byte
}

// NewKeyboardReport builds a report; keys beyond the sixth are dropped.
func NewKeyboardReport(mods byte, keys ...byte) KeyboardReport {
	r := KeyboardReport{Modifiers: mods}
	copy(r.Keys[:], keys)
	return r
}

// Bytes encodes the report payload.
func (r KeyboardReport) Bytes() []byte {
	out := make([]byte, 0, 1+ReportKeys)
	out = append(out, r.Modifiers)
	return append(out, r.Keys[:]...)
}

// SendKeyboard writes one keyboard report.
func (d *Device) SendKeyboard(r KeyboardReport) error {
	return d.Send(packet.TypeKeyboard, r.Bytes())
}

// Release sends the all-zero report (every key up).
func (d *Device) Release() error {
	return d.SendKeyboard(KeyboardReport{})
}

// Chord presses mods+keys together, holds, then releases.
func (d *Device) Chord(mods byte, keys ...byte) error {
	if err := d.SendKeyboard(NewKeyboardReport(mods, keys...)); err != nil {
		return err
	}
	d.Pause(d.cfg.Timing.KeyHold)
	return d.Release()
}

// Press taps a single key with optional modifiers.
func (d *Device) Press(mods, key byte) error {
	return d.Chord(mods, key)
}

// PressN taps key n times with gap between taps.
func (d *Device) PressN(mods, key byte, n int, gap time.Duration) error {
	for i := 0; i < n; i++ {
		if err := d.Press(mods, key); err != nil {
			return err
		}
		d.Pause(gap)
	}
	return nil
}

// TypeText types s character by character. Characters with no key mapping
// are skipped and returned; they never stop the rest of the text.
func (d *Device) TypeText(s string) ([]rune, error) {
	var skipped []rune
	for i, r := range s {
		k, ok := Lookup(r)
		if !ok {
			skipped = append(skipped, r)
			// Position only: the text may be a password.
			d.log.Warn("skipping unmapped character", map[string]any{"offset": i})
			continue
		}
		if err := d.Press(k.Mod, k.Code); err != nil {
			return skipped, err
		}
		d.Pause(d.cfg.Timing.CharGap)
	}
	return skipped, nil
}
