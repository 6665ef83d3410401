package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/capture"
)

var (
	classifyLocate   string
	classifyFull     bool
	classifyShowText bool
	classifyLive     bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [image]",
	Short: "Classify a saved screenshot (or one live frame) and optionally locate a phrase",
	Long: `Runs the same preprocessing, OCR and phrase matching as run, without
sending any input. Useful for tuning phrase sets and the crop region.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if classifyLive {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var g capture.Grabber = Cfg.FFmpeg()
		if !classifyLive {
			g = capture.FileGrabber{Path: args[0]}
		}
		src := capture.NewSource(g, Cfg.Capture.Crop, nil, Log)

		cls, closeOCR, err := newClassifier(ctx)
		if err != nil {
			return fail("Failed to start the OCR engine", err, exitFailure, nil)
		}
		defer closeOCR()

		kind := capture.Cropped
		if classifyFull {
			kind = capture.Full
		}
		frame, err := src.Capture(ctx, kind)
		if err != nil {
			return fail("Failed to read the frame", err, exitFailure, nil)
		}

		res, err := cls.Classify(ctx, frame.Image)
		if err != nil {
			return fail("Classification failed", err, exitFailure, nil)
		}
		fmt.Printf("symbol: %s\n", renderSymbol(res.Symbol))
		if classifyShowText {
			fmt.Printf("text:   %q\n", res.Text)
		}

		if classifyLocate == "" {
			return nil
		}
		m, ok, err := cls.Locate(ctx, frame.Image, classifyLocate)
		if err != nil {
			return fail("Phrase location failed", err, exitFailure, nil)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "🔍 %q not found\n", classifyLocate)
			return nil
		}
		box := m.Box.Add(frame.Region.Min)
		center := frame.ToFull(m.Center)
		fmt.Printf("found:  %q box=%v center=%v (frame %dx%d)\n", classifyLocate, box, center, frame.Size.X, frame.Size.Y)
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyLocate, "locate", "l", "", "Phrase to locate, e.g. \"Play Anyway\"")
	classifyCmd.Flags().BoolVar(&classifyFull, "full", false, "Classify the whole frame instead of the login crop")
	classifyCmd.Flags().BoolVarP(&classifyShowText, "text", "t", false, "Print the recognized text")
	classifyCmd.Flags().BoolVar(&classifyLive, "live", false, "Grab one frame from the capture device instead of reading a file")
	rootCmd.AddCommand(classifyCmd)
}
