package cmd

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
)

var (
	sendRepeat int
	sendButton string
	sendInCrop bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send single keyboard or mouse reports through the bridge",
	Long:  "Manual HID control, for checking the bridge wiring and calibrating click coordinates. Combine with --dry-run to see the encoded reports.",
}

var sendTextCmd = &cobra.Command{
	Use:   "text <string>",
	Short: "Type a string using the US keyboard layout",
	Args:  cobra.ExactArgs(1),
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		skipped, err := dev.TypeText(args[0])
		if err != nil {
			return err
		}
		if len(skipped) > 0 {
			fmt.Fprintf(os.Stderr, "⚠️  %d characters have no key mapping and were skipped\n", len(skipped))
		}
		return nil
	}),
}

var sendKeyCmd = &cobra.Command{
	Use:   "key <chord>",
	Short: "Press a key or chord, e.g. enter, alt+tab, win+r",
	Args:  cobra.ExactArgs(1),
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		mods, key, err := hid.ParseChord(args[0])
		if err != nil {
			return err
		}
		return dev.PressN(mods, key, sendRepeat, 100*time.Millisecond)
	}),
}

var sendMoveCmd = &cobra.Command{
	Use:   "move <x|dx> <y|dy>",
	Short: "Move the pointer: to a screen point (absolute) or by an offset (relative)",
	Args:  cobra.ExactArgs(2),
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		pt, err := parsePoint(args)
		if err != nil {
			return err
		}
		if dev.Mode() == hid.MouseRelative {
			return dev.Step(pt.X, pt.Y)
		}
		return dev.MoveTo(pt)
	}),
}

var sendClickCmd = &cobra.Command{
	Use:   "click",
	Short: "Click a button in place (relative bridges)",
	Args:  cobra.NoArgs,
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		b, ok := hid.ParseButton(sendButton)
		if !ok {
			return fmt.Errorf("unknown mouse button %q", sendButton)
		}
		return dev.ClickButton(b)
	}),
}

var sendDragCmd = &cobra.Command{
	Use:   "drag <dx> <dy>",
	Short: "Hold a button while moving by an offset (relative bridges)",
	Args:  cobra.ExactArgs(2),
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		b, ok := hid.ParseButton(sendButton)
		if !ok {
			return fmt.Errorf("unknown mouse button %q", sendButton)
		}
		d, err := parsePoint(args)
		if err != nil {
			return err
		}
		return dev.Drag(d.X, d.Y, b)
	}),
}

var sendScrollCmd = &cobra.Command{
	Use:   "scroll <vertical> [horizontal]",
	Short: "Scroll the wheel (relative bridges)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid vertical amount %q", args[0])
		}
		h := 0
		if len(args) == 2 {
			if h, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid horizontal amount %q", args[1])
			}
		}
		return dev.Scroll(v, h)
	}),
}

var sendAbsClickCmd = &cobra.Command{
	Use:   "abs-click <x> <y>",
	Short: "Click a screen point (absolute bridges)",
	Args:  cobra.ExactArgs(2),
	RunE: withDevice(func(dev *hid.Device, args []string) error {
		pt, err := parsePoint(args)
		if err != nil {
			return err
		}
		if sendInCrop {
			region := Cfg.Capture.Crop.Rect(dev.Screen().Bounds())
			return dev.ClickIn(pt, region)
		}
		return dev.ClickAt(pt)
	}),
}

func init() {
	sendKeyCmd.Flags().IntVarP(&sendRepeat, "repeat", "n", 1, "Number of presses")
	for _, c := range []*cobra.Command{sendClickCmd, sendDragCmd} {
		c.Flags().StringVar(&sendButton, "button", "left", "Mouse button: left, right or middle")
	}
	sendAbsClickCmd.Flags().BoolVar(&sendInCrop, "in-crop", false, "Treat x,y as relative to the configured capture crop")

	sendCmd.AddCommand(sendTextCmd, sendKeyCmd, sendMoveCmd, sendClickCmd, sendDragCmd, sendScrollCmd, sendAbsClickCmd)
	rootCmd.AddCommand(sendCmd)
}

// withDevice opens the bridge for one send subcommand.
func withDevice(fn func(dev *hid.Device, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dev, closeDev, err := openDevice()
		if err != nil {
			return fail("Failed to open the HID bridge", err, exitFailure, nil)
		}
		defer closeDev()
		if err := fn(dev, args); err != nil {
			return fail("Send failed", err, exitFailure, nil)
		}
		st := dev.Stats()
		fmt.Fprintf(os.Stderr, "✅ %d frames sent, %d failed\n", st.Sent, st.Failed)
		return nil
	}
}

func parsePoint(args []string) (image.Point, error) {
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid x %q", args[0])
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid y %q", args[1])
	}
	return image.Pt(x, y), nil
}
