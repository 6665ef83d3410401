package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/actions"
	"github.com/mbilal031/HID-PICO-OCR/internal/capture"
	"github.com/mbilal031/HID-PICO-OCR/internal/controller"
	"github.com/mbilal031/HID-PICO-OCR/internal/guard"
	"github.com/mbilal031/HID-PICO-OCR/internal/utils"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

var (
	runKeepArtifacts bool
	runWatch         time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log in, answer the guard prompt, launch the game and handle its popups",
	Long: `Runs the capture, classify, act loop until the game is launched and the
post-launch watch ends, a terminal screen is seen, or the process is interrupted.

Exit codes: 0 finished or interrupted, 1 failure, 2 credentials rejected,
3 guard code rejected after retries, 4 update did not finish in time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("keep-artifacts") {
			Cfg.Capture.KeepArtifacts = runKeepArtifacts
		}
		if cmd.Flags().Changed("watch") {
			Cfg.Controller.PostLaunchWatch.Duration = runWatch
		}
		return runAutomation(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runKeepArtifacts, "keep-artifacts", false, "Keep captured frames in the artifact directory for inspection")
	runCmd.Flags().DurationVar(&runWatch, "watch", 0, "How long to watch for popups after launching (0 = until interrupted)")
	rootCmd.AddCommand(runCmd)
}

// runAutomation wires the capture, OCR, HID and journal collaborators into a
// controller and runs it to completion.
func runAutomation(ctx context.Context) error {
	if err := Cfg.ValidateAccount(); err != nil {
		return fail("Invalid account configuration", err, exitFailure, nil)
	}
	codes, err := guard.NewGenerator(Cfg.Account.SharedSecret)
	if err != nil {
		return fail("Invalid shared secret", err, exitFailure, nil)
	}

	dev, closeDev, err := openDevice()
	if err != nil {
		return fail("Failed to open the HID bridge", err, exitFailure, nil)
	}
	defer closeDev()

	artifacts, err := capture.NewArtifacts(Cfg.Capture.ArtifactDir, Cfg.Capture.KeepArtifacts)
	if err != nil {
		return fail("Failed to prepare the artifact directory", err, exitFailure, nil)
	}
	src := capture.NewSource(Cfg.FFmpeg(), Cfg.Capture.Crop, artifacts, Log)

	cls, closeOCR, err := newClassifier(ctx)
	if err != nil {
		return fail("Failed to start the OCR engine", err, exitFailure, nil)
	}
	defer closeOCR()

	deps := controller.Deps{
		Capture:    src,
		Classifier: cls,
		Actions:    actions.New(dev, Cfg.Actions(), Log),
		Codes:      codes,
		Cleaner:    artifacts,
	}
	if Cfg.OCR.MemoDistance >= 0 {
		deps.UpdateClassifier = vision.NewMemo(cls, Cfg.OCR.MemoDistance)
	}

	db, err := openJournal(ctx)
	if err != nil {
		// Journal failures never block a run.
		fmt.Fprintf(os.Stderr, "⚠️  Journal disabled: %v\n", err)
	}
	if db != nil {
		defer db.Close(context.Background())
		run, err := db.StartRun(ctx, RunID, Cfg.Account.Username, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Journal disabled: %v\n", err)
		} else {
			deps.Recorder = run
		}
	}

	ctl := controller.New(deps, controller.Credentials{
		Username: Cfg.Account.Username,
		Password: Cfg.Account.Password,
	}, Cfg.ControllerConfig(), Log)

	var bar *progressbar.ProgressBar
	ctl.SetHooks(controller.Hooks{
		OnTransition: func(from, to controller.State, sym vision.Symbol) {
			fmt.Fprintf(os.Stderr, "➡️  %s → %s (%s)\n", from, to, renderSymbol(sym))
		},
		OnUpdateWait: func(elapsed, timeout time.Duration) {
			if bar == nil {
				bar = progressbar.NewOptions64(int64(timeout.Seconds()),
					progressbar.OptionSetDescription("⏳ Waiting for the update"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(false),
				)
			}
			bar.Set64(int64(elapsed.Seconds()))
		},
		OnUpdateDone: func(elapsed time.Duration, cleared bool) {
			if bar == nil {
				return
			}
			if cleared {
				bar.Finish()
			} else {
				bar.Exit()
			}
			fmt.Fprintln(os.Stderr)
			bar = nil
		},
	})

	fmt.Fprintf(os.Stderr, "🎮 Run %s: logging in as %s\n", RunID.String()[:8], Cfg.Account.Username)
	err = ctl.Run(ctx)

	outcome := controller.Outcome(err)
	reason := ""
	var se *controller.StopError
	if errors.As(err, &se) {
		reason = se.Reason
	}
	fmt.Fprintln(os.Stderr, renderOutcome(outcome, reason, ctl.State(), dev.Stats()))

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, controller.ErrCredentialsRejected):
		return utils.WithExitCode(exitCredentialsRejected, err)
	case errors.Is(err, controller.ErrGuardRejected):
		return utils.WithExitCode(exitGuardRejected, err)
	case errors.Is(err, controller.ErrUpdateTimeout):
		return utils.WithExitCode(exitUpdateTimeout, err)
	default:
		return fail("Automation failed", err, exitFailure, nil)
	}
}
