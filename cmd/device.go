package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
	"github.com/mbilal031/HID-PICO-OCR/internal/serialport"
)

// openDevice connects a HID Device to the serial bridge, or to the dry-run
// transport. The returned func closes the link and logs the send counters.
func openDevice() (*hid.Device, func(), error) {
	hc := Cfg.HID()

	var w io.WriteCloser
	if Cfg.Serial.DryRun {
		w = hid.NewLogTransport(hc.MouseMode, Log)
		fmt.Fprintln(os.Stderr, "🧪 Dry run: HID frames are logged, not sent")
	} else {
		allow, err := Cfg.Allowlist()
		if err != nil {
			return nil, nil, err
		}
		port, name, err := serialport.Open(serialport.Options{
			Port:      Cfg.Serial.Port,
			Baud:      Cfg.Serial.Baud,
			Allowlist: allow,
		})
		if err != nil {
			return nil, nil, err
		}
		w = port
		fmt.Fprintf(os.Stderr, "🔌 Connected to %s @ %d baud (%s mouse)\n", name, Cfg.Serial.Baud, hc.MouseMode)
	}

	dev := hid.New(w, hc, Log)
	closeFn := func() {
		st := dev.Stats()
		Log.Info("hid link closed", map[string]any{"sent": st.Sent, "failed": st.Failed})
		if err := w.Close(); err != nil {
			Log.Warn("closing hid link failed", map[string]any{"error": err})
		}
	}
	return dev, closeFn, nil
}
