// Package serialport opens the link to the HID bridge, discovering the port
// by USB vendor/product ID when none is configured.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// ErrTransport is returned when no port can be found or opened.
var ErrTransport = errors.New("serialport: transport unavailable")

// USBID is a vendor/product pair in lowercase hex, e.g. 0403:6001.
type USBID struct {
	VID string
	PID string
}

// ParseUSBID parses "vvvv:pppp".
func ParseUSBID(s string) (USBID, error) {
	vid, pid, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(vid) != 4 || len(pid) != 4 {
		return USBID{}, fmt.Errorf("invalid usb id %q, want vvvv:pppp", s)
	}
	return USBID{VID: strings.ToLower(vid), PID: strings.ToLower(pid)}, nil
}

func (id USBID) String() string { return id.VID + ":" + id.PID }

// DefaultAllowlist holds the USB-serial adapters the bridge ships with.
var DefaultAllowlist = []USBID{
	{VID: "0403", PID: "6001"}, // FTDI FT232
	{VID: "10c4", PID: "ea60"}, // Silicon Labs CP210x
}

// Port describes one candidate serial device.
type Port struct {
	Name  string
	IsUSB bool
	ID    USBID
}

// Lister enumerates serial devices.
type Lister func() ([]Port, error)

// SystemPorts lists the serial devices present on this machine.
func SystemPorts() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]Port, 0, len(details))
	for _, d := range details {
		ports = append(ports, Port{
			Name:  d.Name,
			IsUSB: d.IsUSB,
			ID:    USBID{VID: strings.ToLower(d.VID), PID: strings.ToLower(d.PID)},
		})
	}
	return ports, nil
}

// Discover picks the first port matching the allowlist, falling back to the
// first port listed.
func Discover(list Lister, allow []USBID) (string, error) {
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("%w: listing ports: %v", ErrTransport, err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("%w: no serial ports found", ErrTransport)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		for _, id := range allow {
			if p.ID == id {
				return p.Name, nil
			}
		}
	}
	return ports[0].Name, nil
}

// Options configures Open.
type Options struct {
	Port        string // empty means discover
	Baud        int
	Allowlist   []USBID
	ReadTimeout time.Duration
}

// Open opens the configured port, discovering one when Options.Port is empty.
// It returns the port name actually used.
func Open(opts Options) (io.ReadWriteCloser, string, error) {
	name := opts.Port
	if name == "" {
		allow := opts.Allowlist
		if len(allow) == 0 {
			allow = DefaultAllowlist
		}
		var err error
		name, err = Discover(SystemPorts, allow)
		if err != nil {
			return nil, "", err
		}
	}
	if opts.Baud <= 0 {
		return nil, name, fmt.Errorf("%w: invalid baud %d", ErrTransport, opts.Baud)
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        opts.Baud,
		ReadTimeout: opts.ReadTimeout,
	})
	if err != nil {
		return nil, name, fmt.Errorf("%w: opening %s: %v", ErrTransport, name, err)
	}
	return port, name, nil
}
