// Package actions composes HID reports into the host-level sequences the
// automation needs: focusing the client, logging in, answering the guard
// prompt, launching and shutting down through the Run dialog, and clicking
// dialog buttons.
package actions

import (
	"fmt"
	"image"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
	"github.com/mbilal031/HID-PICO-OCR/internal/log"
)

// Timing holds the host-side delays between steps.
type Timing struct {
	FocusGap      time.Duration // between Alt+Tab presses
	EscSettle     time.Duration // after Esc
	RunDialog     time.Duration // after Win+R, before typing
	AfterUsername time.Duration
	AfterPassword time.Duration
	ClearGap      time.Duration // between Backspace presses
	LaunchSettle  time.Duration // after submitting a launch or shutdown command
	CleanerSettle time.Duration // after starting the cleaner
	PathStep      time.Duration // between pointer waypoints on the fallback path
	AfterClick    time.Duration // after clicking a dialog button
}

// DefaultTiming returns delays that work against a stock Windows desktop.
func DefaultTiming() Timing {
	return Timing{
		FocusGap:      150 * time.Millisecond,
		EscSettle:     80 * time.Millisecond,
		RunDialog:     500 * time.Millisecond,
		AfterUsername: 200 * time.Millisecond,
		AfterPassword: 200 * time.Millisecond,
		ClearGap:      40 * time.Millisecond,
		LaunchSettle:  2 * time.Second,
		CleanerSettle: 5 * time.Second,
		PathStep:      300 * time.Millisecond,
		AfterClick:    2 * time.Second,
	}
}

// Config describes the controlled host.
type Config struct {
	SteamPath   string
	LaunchArgs  string
	CleanerPath string // optional executable run after shutdown
	Timing      Timing
}

// Actions runs sequences on one Device.
type Actions struct {
	dev *hid.Device
	cfg Config
	log *log.Logger
}

// New returns an Actions bound to dev.
func New(dev *hid.Device, cfg Config, logger *log.Logger) *Actions {
	return &Actions{dev: dev, cfg: cfg, log: logger.Named("actions")}
}

// Device exposes the underlying HID device.
func (a *Actions) Device() *hid.Device { return a.dev }

// Enter taps Enter.
func (a *Actions) Enter() error {
	return a.dev.Press(0, hid.KeyEnter)
}

// FocusClient brings the client window forward: Alt+Tab twice, then Esc to
// dismiss whatever menu had focus.
func (a *Actions) FocusClient() error {
	if err := a.dev.PressN(hid.ModLAlt, hid.KeyTab, 2, a.cfg.Timing.FocusGap); err != nil {
		return err
	}
	if err := a.dev.Press(0, hid.KeyEsc); err != nil {
		return err
	}
	a.dev.Pause(a.cfg.Timing.EscSettle)
	return nil
}

// Login focuses the client and submits the credentials form.
func (a *Actions) Login(username, password string) error {
	if err := a.FocusClient(); err != nil {
		return err
	}
	if err := a.typeField("username", username); err != nil {
		return err
	}
	if err := a.dev.Press(0, hid.KeyTab); err != nil {
		return err
	}
	a.dev.Pause(a.cfg.Timing.AfterUsername)
	if err := a.typeField("password", password); err != nil {
		return err
	}
	a.dev.Pause(a.cfg.Timing.AfterPassword)
	return a.Enter()
}

// SubmitGuard types a guard code and presses Enter.
func (a *Actions) SubmitGuard(code string) error {
	if err := a.typeField("guard code", code); err != nil {
		return err
	}
	return a.Enter()
}

// ClearField erases n characters from the focused input.
func (a *Actions) ClearField(n int) error {
	return a.dev.PressN(0, hid.KeyBackspace, n, a.cfg.Timing.ClearGap)
}

// RunCommand opens the Run dialog (Win+R), types command and submits it.
func (a *Actions) RunCommand(command string) error {
	if err := a.dev.Chord(hid.ModLGUI, hid.KeyR); err != nil {
		return err
	}
	a.dev.Pause(a.cfg.Timing.RunDialog)
	if err := a.typeField("command", command); err != nil {
		return err
	}
	return a.Enter()
}

// LaunchCommand is the Run-dialog line that starts the game.
func (a *Actions) LaunchCommand() string {
	if a.cfg.LaunchArgs == "" {
		return quote(a.cfg.SteamPath)
	}
	return quote(a.cfg.SteamPath) + " " + a.cfg.LaunchArgs
}

// Launch starts the client with the configured arguments.
func (a *Actions) Launch() error {
	if err := a.FocusClient(); err != nil {
		return err
	}
	if err := a.RunCommand(a.LaunchCommand()); err != nil {
		return err
	}
	a.log.Info("launch command sent", nil)
	a.dev.Pause(a.cfg.Timing.LaunchSettle)
	return nil
}

// Logout shuts the client down and runs the cleaner when one is configured.
func (a *Actions) Logout() error {
	if err := a.FocusClient(); err != nil {
		return err
	}
	if err := a.RunCommand(quote(a.cfg.SteamPath) + " -shutdown"); err != nil {
		return err
	}
	a.log.Info("shutdown command sent", nil)
	a.dev.Pause(a.cfg.Timing.LaunchSettle)

	if a.cfg.CleanerPath == "" {
		return nil
	}
	if err := a.RunCommand(quote(a.cfg.CleanerPath)); err != nil {
		return err
	}
	a.log.Info("cleaner started", map[string]any{"path": a.cfg.CleanerPath})
	a.dev.Pause(a.cfg.Timing.CleanerSettle)
	return nil
}

// ClickAt clicks a screen point and waits for the dialog to react. On a
// relative bridge the pointer is homed and stepped out to pt first.
func (a *Actions) ClickAt(pt image.Point) error {
	var err error
	if a.dev.Mode() == hid.MouseRelative {
		err = a.stepClick(pt)
	} else {
		err = a.dev.ClickAt(pt)
	}
	if err != nil {
		return err
	}
	a.dev.Pause(a.cfg.Timing.AfterClick)
	return nil
}

func (a *Actions) stepClick(pt image.Point) error {
	if err := a.dev.StepTo(pt); err != nil {
		return err
	}
	return a.dev.ClickButton(hid.ButtonLeft)
}

// ClickVia walks the pointer from the top-left corner down to pt's row, then
// across to pt, and clicks. Some overlays ignore a pointer that jumps straight
// onto a button.
func (a *Actions) ClickVia(pt image.Point) error {
	waypoints := []image.Point{image.Pt(5, 5), image.Pt(5, pt.Y), pt}
	if a.dev.Mode() == hid.MouseRelative {
		return a.stepVia(waypoints)
	}
	for _, wp := range waypoints {
		if err := a.dev.MoveTo(wp); err != nil {
			return err
		}
		a.dev.Pause(a.cfg.Timing.PathStep)
	}
	return a.ClickAt(pt)
}

// stepVia follows waypoints from the homed corner without re-homing, so the
// pointer travels the same path an absolute bridge would take.
func (a *Actions) stepVia(waypoints []image.Point) error {
	if err := a.dev.Home(); err != nil {
		return err
	}
	var pos image.Point
	for _, wp := range waypoints {
		if err := a.dev.Step(wp.X-pos.X, wp.Y-pos.Y); err != nil {
			return err
		}
		pos = wp
		a.dev.Pause(a.cfg.Timing.PathStep)
	}
	if err := a.dev.ClickButton(hid.ButtonLeft); err != nil {
		return err
	}
	a.dev.Pause(a.cfg.Timing.AfterClick)
	return nil
}

func (a *Actions) typeField(field, text string) error {
	skipped, err := a.dev.TypeText(text)
	if err != nil {
		return fmt.Errorf("typing %s: %w", field, err)
	}
	if len(skipped) > 0 {
		a.log.Warn("characters could not be typed", map[string]any{"field": field, "skipped": len(skipped)})
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}
