package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/config"
	"github.com/mbilal031/HID-PICO-OCR/internal/log"
	"github.com/mbilal031/HID-PICO-OCR/internal/store"
	"github.com/mbilal031/HID-PICO-OCR/internal/utils"
)

// Exit codes for terminal outcomes of run.
const (
	exitFailure             = 1
	exitCredentialsRejected = 2
	exitGuardRejected       = 3
	exitUpdateTimeout       = 4
)

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Log is the run-scoped structured logger
	Log *log.Logger
	// RunID tags every log line and the journal row of this invocation
	RunID uuid.UUID

	cfgPath       string
	flagPort      string
	flagBaud      int
	flagDevice    string
	flagDSN       string
	flagDryRun    bool
	flagLogLevel  string
	flagMouseMode string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "hidocr",
	Short:         "Drive a login and launch over a serial HID bridge, guided by screen OCR",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		Cfg = cfg

		level, _ := log.ParseLevel(Cfg.Log.Level)
		RunID = uuid.New()
		Log = log.NewLogger(RunID.String(), level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		Log.Sync()
	},
}

// Execute runs the CLI and exits with the code attached to the failure.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	var ee *utils.ExitError
	if err != nil && !errors.As(err, &ee) {
		// Not reported yet: flag parsing and config errors.
		fmt.Fprintln(os.Stderr, err)
	}
	stop()
	os.Exit(utils.ExitCode(err))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	pf.StringVarP(&flagPort, "port", "p", "", "Serial port of the HID bridge (default: auto-discover)")
	pf.IntVarP(&flagBaud, "baud", "b", 0, "Serial baud rate (default 115200)")
	pf.StringVar(&flagDevice, "device", "", "Capture device (default /dev/video2 or $CAP_DEVICE)")
	pf.StringVar(&flagDSN, "db", "", "PostgreSQL connection string for the run journal (default: journal disabled)")
	pf.BoolVar(&flagDryRun, "dry-run", false, "Log decoded HID frames instead of writing to the serial port")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&flagMouseMode, "mouse-mode", "", "Bridge mouse encoding: absolute or relative")
}

// loadConfig layers defaults, the config file and explicitly set flags.
// A missing file is only an error when --config was given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, config.ErrNotFound) && !cmd.Flags().Changed("config") {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = flagPort
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = flagBaud
	}
	if flags.Changed("device") {
		cfg.Capture.Device = flagDevice
	}
	if flags.Changed("db") {
		cfg.Journal.DSN = flagDSN
	}
	if flags.Changed("dry-run") {
		cfg.Serial.DryRun = flagDryRun
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("mouse-mode") {
		cfg.Serial.MouseMode = flagMouseMode
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// openJournal connects to the run journal. It returns nil when no DSN is set.
func openJournal(ctx context.Context) (*store.Store, error) {
	if Cfg.Journal.DSN == "" {
		return nil, nil
	}
	db, err := store.New(ctx, Cfg.Journal.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	return db, nil
}

// fail prints the error box and returns err tagged with code, so Execute
// exits without printing it again.
func fail(context string, err error, code int, s *utils.SafeCommand) error {
	utils.ShowError(context, err, s)
	return utils.WithExitCode(code, err)
}
