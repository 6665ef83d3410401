package hid

import (
	"encoding/binary"
	"image"
	"math"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/packet"
)

// AbsMax is the top of the absolute pointer range on both axes.
const AbsMax = 32767

// Button bits.
const (
	ButtonLeft   byte = 0x01
	ButtonRight  byte = 0x02
	ButtonMiddle byte = 0x04
)

// ParseButton maps a button name to its bit.
func ParseButton(name string) (byte, bool) {
	switch name {
	case "", "left":
		return ButtonLeft, true
	case "right":
		return ButtonRight, true
	case "middle":
		return ButtonMiddle, true
	}
	return 0, false
}

// Screen is the target display resolution in pixels.
type Screen struct {
	Width  int
	Height int
}

// Bounds is the screen rectangle.
func (s Screen) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.Width, s.Height)
}

// CenteredRegion returns a w×h rectangle centred on the screen.
func (s Screen) CenteredRegion(w, h int) image.Rectangle {
	x := (s.Width - w) / 2
	y := (s.Height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// ScaleAxis maps a pixel coordinate on an axis of size pixels to 0..AbsMax.
// Out-of-range input is clamped.
func ScaleAxis(px, size int) uint16 {
	if size <= 1 {
		return 0
	}
	maxPx := size - 1
	if px < 0 {
		px = 0
	}
	if px > maxPx {
		px = maxPx
	}
	v := int(math.Round(float64(px) * AbsMax / float64(maxPx)))
	if v > AbsMax {
		v = AbsMax
	}
	return uint16(v)
}

// Decrop translates a point measured inside region back to full-screen
// coordinates. A zero region leaves the point unchanged.
func Decrop(pt image.Point, region image.Rectangle) image.Point {
	return pt.Add(region.Min)
}

// AbsoluteReport is the absolute pointer payload [x_lo x_hi y_lo y_hi buttons].
type AbsoluteReport struct {
	X, Y    uint16
	Buttons byte
}

// Bytes encodes the report payload.
func (r AbsoluteReport) Bytes() []byte {
	out := make([]byte, 5)
	binary.LittleEndian.PutUint16(out[0:2], r.X)
	binary.LittleEndian.PutUint16(out[2:4], r.Y)
	out[4] = r.Buttons
	return out
}

// RelativeReport is the relative pointer payload [buttons dx dy wheel hscroll].
type RelativeReport struct {
	Buttons byte
	DX, DY  int8
	Wheel   int8
	HScroll int8
}

// Bytes encodes the report payload.
func (r RelativeReport) Bytes() []byte {
	return []byte{r.Buttons & 0x1F, byte(r.DX), byte(r.DY), byte(r.Wheel), byte(r.HScroll)}
}

// Absolute converts a screen pixel to absolute device coordinates.
func (d *Device) Absolute(pt image.Point) (uint16, uint16) {
	return ScaleAxis(pt.X, d.cfg.Screen.Width), ScaleAxis(pt.Y, d.cfg.Screen.Height)
}

func (d *Device) sendAbsolute(x, y uint16, buttons byte) error {
	if d.cfg.MouseMode != MouseAbsolute {
		return ErrMouseMode
	}
	return d.Send(packet.TypeMouse, AbsoluteReport{X: x, Y: y, Buttons: buttons}.Bytes())
}

// MoveTo positions the pointer at a screen pixel.
func (d *Device) MoveTo(pt image.Point) error {
	x, y := d.Absolute(pt)
	return d.sendAbsolute(x, y, 0)
}

// ClickAt moves to a screen pixel and left-clicks. The position is sent
// twice before the button goes down and once more after release, because
// some hosts drop the first absolute report after an idle period.
func (d *Device) ClickAt(pt image.Point) error {
	x, y := d.Absolute(pt)
	tm := d.cfg.Timing
	steps := []struct {
		buttons byte
		wait    time.Duration
	}{
		{0, tm.ClickSettle},
		{0, tm.ClickSettle},
		{ButtonLeft, tm.ClickPress},
		{0, tm.ClickPress},
		{0, tm.ClickSettle},
	}
	for _, s := range steps {
		if err := d.sendAbsolute(x, y, s.buttons); err != nil {
			return err
		}
		d.Pause(s.wait)
	}
	return nil
}

// ClickIn clicks a point measured inside a sub-region capture.
func (d *Device) ClickIn(pt image.Point, region image.Rectangle) error {
	return d.ClickAt(Decrop(pt, region))
}

func (d *Device) sendRelative(r RelativeReport) error {
	if d.cfg.MouseMode != MouseRelative {
		return ErrMouseMode
	}
	return d.Send(packet.TypeMouse, r.Bytes())
}

// Step moves the pointer by (dx, dy) one unit at a time, x axis first.
func (d *Device) Step(dx, dy int) error {
	return d.step(0, dx, dy)
}

// Home drives the pointer into the top-left corner. Relative bridges have no
// position feedback, so it sends enough full-range negative reports to
// saturate against the screen edge from anywhere.
func (d *Device) Home() error {
	span := max(d.cfg.Screen.Width, d.cfg.Screen.Height) * 2
	for i := 0; i <= span/-math.MinInt8; i++ {
		if err := d.sendRelative(RelativeReport{DX: math.MinInt8, DY: math.MinInt8}); err != nil {
			return err
		}
	}
	return nil
}

// StepTo homes the pointer and steps it out to a screen pixel. Points
// outside the screen are clamped to its edges.
func (d *Device) StepTo(pt image.Point) error {
	if err := d.Home(); err != nil {
		return err
	}
	pt = clampToScreen(pt, d.cfg.Screen)
	return d.Step(pt.X, pt.Y)
}

func clampToScreen(pt image.Point, s Screen) image.Point {
	pt.X = min(max(pt.X, 0), max(s.Width-1, 0))
	pt.Y = min(max(pt.Y, 0), max(s.Height-1, 0))
	return pt
}

func (d *Device) step(buttons byte, dx, dy int) error {
	sx, sy := int8(1), int8(1)
	if dx < 0 {
		sx, dx = -1, -dx
	}
	if dy < 0 {
		sy, dy = -1, -dy
	}
	for i := 0; i < dx; i++ {
		if err := d.sendRelative(RelativeReport{Buttons: buttons, DX: sx}); err != nil {
			return err
		}
	}
	for i := 0; i < dy; i++ {
		if err := d.sendRelative(RelativeReport{Buttons: buttons, DY: sy}); err != nil {
			return err
		}
	}
	return nil
}

// ClickButton presses and releases a button without moving.
func (d *Device) ClickButton(button byte) error {
	if err := d.sendRelative(RelativeReport{Buttons: button}); err != nil {
		return err
	}
	return d.sendRelative(RelativeReport{})
}

// Drag holds button while stepping by (dx, dy).
func (d *Device) Drag(dx, dy int, button byte) error {
	if err := d.sendRelative(RelativeReport{Buttons: button}); err != nil {
		return err
	}
	if err := d.step(button, dx, dy); err != nil {
		return err
	}
	return d.sendRelative(RelativeReport{})
}

// Scroll sends one wheel report; values are clamped to the int8 range.
func (d *Device) Scroll(vertical, horizontal int) error {
	return d.sendRelative(RelativeReport{Wheel: clamp8(vertical), HScroll: clamp8(horizontal)})
}

func clamp8(v int) int8 {
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	if v < math.MinInt8 {
		return math.MinInt8
	}
	return int8(v)
}
