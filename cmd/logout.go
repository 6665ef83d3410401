package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/actions"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Shut the client down and run the configured cleaner",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, closeDev, err := openDevice()
		if err != nil {
			return fail("Failed to open the HID bridge", err, exitFailure, nil)
		}
		defer closeDev()

		fmt.Fprintln(os.Stderr, "👋 Shutting the client down...")
		if err := actions.New(dev, Cfg.Actions(), Log).Logout(); err != nil {
			return fail("Logout failed", err, exitFailure, nil)
		}
		fmt.Fprintln(os.Stderr, "✨ Logout sequence sent.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
