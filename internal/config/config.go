// Package config loads the hidocr YAML configuration.
//
// Values are layered: built-in defaults, then the config file, then CLI
// flags. The resulting Config is read-only once loaded and is handed to
// constructors rather than read globally.
package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/mbilal031/HID-PICO-OCR/internal/actions"
	"github.com/mbilal031/HID-PICO-OCR/internal/capture"
	"github.com/mbilal031/HID-PICO-OCR/internal/controller"
	"github.com/mbilal031/HID-PICO-OCR/internal/guard"
	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/serialport"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

// DefaultPath is read when --config is not given.
const DefaultPath = "hidocr.yaml"

// OCR engines.
const (
	EngineTesseract = "tesseract"
	EngineWorker    = "worker"
)

// Config is the full configuration file.
type Config struct {
	Serial     Serial            `yaml:"serial"`
	Screen     Screen            `yaml:"screen"`
	Capture    Capture           `yaml:"capture"`
	OCR        OCR               `yaml:"ocr"`
	Phrases    vision.PhraseSets `yaml:"phrases"`
	Controller Controller        `yaml:"controller"`
	Account    Account           `yaml:"account"`
	Launch     Launch            `yaml:"launch"`
	Logout     Logout            `yaml:"logout"`
	Journal    Journal           `yaml:"journal"`
	Log        Log               `yaml:"log"`
}

// Serial configures the bridge link and its pacing.
type Serial struct {
	Port      string   `yaml:"port"`
	Baud      int      `yaml:"baud"`
	DryRun    bool     `yaml:"dry_run"`
	MouseMode string   `yaml:"mouse_mode"`
	Allowlist []string `yaml:"allowlist"`
	PacketGap Duration `yaml:"packet_gap"`
	KeyHold   Duration `yaml:"key_hold"`
	CharGap   Duration `yaml:"char_gap"`
}

// Screen is the controlled display resolution.
type Screen struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Capture configures the frame grabber.
type Capture struct {
	Device        string       `yaml:"device"`
	Width         int          `yaml:"width"`
	Height        int          `yaml:"height"`
	SkipFrames    int          `yaml:"skip_frames"`
	FFmpeg        string       `yaml:"ffmpeg"`
	Crop          capture.Crop `yaml:"crop"`
	ArtifactDir   string       `yaml:"artifact_dir"`
	KeepArtifacts bool         `yaml:"keep_artifacts"`
}

// OCR selects and tunes the text recognizer.
type OCR struct {
	Engine        string   `yaml:"engine"`
	Tesseract     string   `yaml:"tesseract"`
	PSM           int      `yaml:"psm"`
	Contrast      float64  `yaml:"contrast"`
	WorkerCommand []string `yaml:"worker_command"`
	WorkerTimeout Duration `yaml:"worker_timeout"`
	// MemoDistance is the pHash distance under which an update-wait frame
	// reuses the previous result. Negative disables the memo.
	MemoDistance int `yaml:"memo_distance"`
}

// Controller holds the state machine's timings and bounds.
type Controller struct {
	PollInterval       Duration `yaml:"poll_interval"`
	PopupPollInterval  Duration `yaml:"popup_poll_interval"`
	UpdatePollInterval Duration `yaml:"update_poll_interval"`
	UpdateTimeout      Duration `yaml:"update_timeout"`
	PostLaunchWatch    Duration `yaml:"post_launch_watch"`
	GuardRetries       int      `yaml:"guard_retries"`
	GuardClearPresses  int      `yaml:"guard_clear_presses"`
	AfterUsernamePause Duration `yaml:"after_username_pause"`
	AfterPasswordPause Duration `yaml:"after_password_pause"`
}

// Account holds the login secrets. Use ${VAR} references rather than
// literals in the file.
type Account struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SharedSecret string `yaml:"shared_secret"`
}

// Point is a screen coordinate.
type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// Launch configures the client start.
type Launch struct {
	SteamPath          string `yaml:"steam_path"`
	Args               string `yaml:"args"`
	PlayAnywayPhrase   string `yaml:"play_anyway_phrase"`
	PlayAnywayFallback Point  `yaml:"play_anyway_fallback"`
}

// Logout configures the shutdown sequence.
type Logout struct {
	CleanerPath string `yaml:"cleaner_path"`
}

// Journal configures the optional run journal. An empty DSN disables it.
type Journal struct {
	DSN string `yaml:"dsn"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration. Account fields and the capture
// device fall back to the environment.
func Default() *Config {
	ht := hid.DefaultTiming()
	ct := controller.DefaultConfig()
	at := actions.DefaultTiming()
	return &Config{
		Serial: Serial{
			Baud:      115200,
			MouseMode: hid.MouseAbsolute.String(),
			Allowlist: allowlistStrings(serialport.DefaultAllowlist),
			PacketGap: Duration{ht.PacketGap},
			KeyHold:   Duration{ht.KeyHold},
			CharGap:   Duration{ht.CharGap},
		},
		Screen: Screen{Width: 1920, Height: 1080},
		Capture: Capture{
			Device:      envOr("CAP_DEVICE", "/dev/video2"),
			Width:       1920,
			Height:      1080,
			SkipFrames:  30,
			FFmpeg:      "ffmpeg",
			Crop:        capture.DefaultCrop,
			ArtifactDir: "cap",
		},
		OCR: OCR{
			Engine:        EngineTesseract,
			Tesseract:     "tesseract",
			PSM:           6,
			Contrast:      vision.DefaultContrast,
			WorkerCommand: []string{"python3", "-u", "python/ocr_worker.py"},
			WorkerTimeout: Duration{30 * time.Second},
			MemoDistance:  2,
		},
		Phrases: vision.DefaultPhrases(),
		Controller: Controller{
			PollInterval:       Duration{ct.PollInterval},
			PopupPollInterval:  Duration{ct.PopupPollInterval},
			UpdatePollInterval: Duration{ct.UpdatePollInterval},
			UpdateTimeout:      Duration{ct.UpdateTimeout},
			PostLaunchWatch:    Duration{ct.PostLaunchWatch},
			GuardRetries:       ct.GuardRetries,
			GuardClearPresses:  ct.GuardClearPresses,
			AfterUsernamePause: Duration{at.AfterUsername},
			AfterPasswordPause: Duration{at.AfterPassword},
		},
		Account: Account{
			Username:     os.Getenv("STEAM_USER"),
			Password:     os.Getenv("STEAM_PASS"),
			SharedSecret: os.Getenv("STEAM_SHARED_SECRET"),
		},
		Launch: Launch{
			SteamPath:          `C:\Program Files (x86)\Steam\steam.exe`,
			Args:               "-silent -nofriendsui -no-dwrite -worldwide -language english -applaunch 730",
			PlayAnywayPhrase:   ct.PlayAnywayPhrase,
			PlayAnywayFallback: Point{X: ct.PlayAnywayFallback.X, Y: ct.PlayAnywayFallback.Y},
		},
		Log: Log{Level: "info"},
	}
}

// Validate checks everything a command needs before touching hardware.
// Account secrets are checked separately by ValidateAccount.
func (c *Config) Validate() error {
	var errs []error
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		errs = append(errs, fmt.Errorf("screen: size must be positive, got %dx%d", c.Screen.Width, c.Screen.Height))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud: must be positive, got %d", c.Serial.Baud))
	}
	if _, err := hid.ParseMouseMode(c.Serial.MouseMode); err != nil {
		errs = append(errs, fmt.Errorf("serial.mouse_mode: %w", err))
	}
	if _, err := c.Allowlist(); err != nil {
		errs = append(errs, fmt.Errorf("serial.allowlist: %w", err))
	}
	if err := c.Capture.Crop.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture.crop: %w", err))
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("capture: size must be positive, got %dx%d", c.Capture.Width, c.Capture.Height))
	}
	switch c.OCR.Engine {
	case EngineTesseract:
	case EngineWorker:
		if len(c.OCR.WorkerCommand) == 0 {
			errs = append(errs, errors.New("ocr.worker_command: required for the worker engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("ocr.engine: unknown engine %q", c.OCR.Engine))
	}
	if err := c.Phrases.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("phrases: %w", err))
	}

	ctl := c.Controller
	for name, d := range map[string]Duration{
		"poll_interval":        ctl.PollInterval,
		"popup_poll_interval":  ctl.PopupPollInterval,
		"update_poll_interval": ctl.UpdatePollInterval,
		"update_timeout":       ctl.UpdateTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("controller.%s: must be positive", name))
		}
	}
	if ctl.PostLaunchWatch.Duration < 0 {
		errs = append(errs, errors.New("controller.post_launch_watch: must not be negative"))
	}
	if ctl.GuardRetries < 0 || ctl.GuardClearPresses < 0 {
		errs = append(errs, errors.New("controller: guard_retries and guard_clear_presses must not be negative"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// ValidateAccount checks the login secrets needed by run.
func (c *Config) ValidateAccount() error {
	var errs []error
	if c.Account.Username == "" {
		errs = append(errs, errors.New("account.username: required (set STEAM_USER)"))
	}
	if c.Account.Password == "" {
		errs = append(errs, errors.New("account.password: required (set STEAM_PASS)"))
	}
	if _, err := guard.ParseSecret(c.Account.SharedSecret); err != nil {
		errs = append(errs, fmt.Errorf("account.shared_secret: %w", err))
	}
	return errors.Join(errs...)
}

// Allowlist parses the serial VID:PID allowlist.
func (c *Config) Allowlist() ([]serialport.USBID, error) {
	out := make([]serialport.USBID, 0, len(c.Serial.Allowlist))
	for _, s := range c.Serial.Allowlist {
		id, err := serialport.ParseUSBID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// HID returns the device configuration. Call after Validate.
func (c *Config) HID() hid.Config {
	mode, _ := hid.ParseMouseMode(c.Serial.MouseMode)
	t := hid.DefaultTiming()
	t.PacketGap = c.Serial.PacketGap.Duration
	t.KeyHold = c.Serial.KeyHold.Duration
	t.CharGap = c.Serial.CharGap.Duration
	return hid.Config{
		Timing:    t,
		MouseMode: mode,
		Screen:    hid.Screen{Width: c.Screen.Width, Height: c.Screen.Height},
	}
}

// Actions returns the host sequence configuration.
func (c *Config) Actions() actions.Config {
	t := actions.DefaultTiming()
	t.AfterUsername = c.Controller.AfterUsernamePause.Duration
	t.AfterPassword = c.Controller.AfterPasswordPause.Duration
	return actions.Config{
		SteamPath:   c.Launch.SteamPath,
		LaunchArgs:  c.Launch.Args,
		CleanerPath: c.Logout.CleanerPath,
		Timing:      t,
	}
}

// ControllerConfig returns the state machine configuration.
func (c *Config) ControllerConfig() controller.Config {
	ctl := c.Controller
	return controller.Config{
		PollInterval:       ctl.PollInterval.Duration,
		PopupPollInterval:  ctl.PopupPollInterval.Duration,
		UpdatePollInterval: ctl.UpdatePollInterval.Duration,
		UpdateTimeout:      ctl.UpdateTimeout.Duration,
		PostLaunchWatch:    ctl.PostLaunchWatch.Duration,
		GuardRetries:       ctl.GuardRetries,
		GuardClearPresses:  ctl.GuardClearPresses,
		PlayAnywayPhrase:   c.Launch.PlayAnywayPhrase,
		PlayAnywayFallback: image.Pt(c.Launch.PlayAnywayFallback.X, c.Launch.PlayAnywayFallback.Y),
		Screen:             hid.Screen{Width: c.Screen.Width, Height: c.Screen.Height},
	}
}

// FFmpeg returns the capture grabber.
func (c *Config) FFmpeg() *capture.FFmpeg {
	return &capture.FFmpeg{
		Device:     c.Capture.Device,
		Width:      c.Capture.Width,
		Height:     c.Capture.Height,
		SkipFrames: c.Capture.SkipFrames,
		Binary:     c.Capture.FFmpeg,
	}
}

func allowlistStrings(ids []serialport.USBID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
