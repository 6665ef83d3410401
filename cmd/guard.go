package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/guard"
)

var guardAt int64

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Print the current guard code for the configured shared secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := guard.NewGenerator(Cfg.Account.SharedSecret)
		if err != nil {
			return fail("Invalid shared secret (set STEAM_SHARED_SECRET)", err, exitFailure, nil)
		}
		if cmd.Flags().Changed("at") {
			at := time.Unix(guardAt, 0)
			g = g.WithClock(func() time.Time { return at })
		}
		fmt.Printf("%s  (valid for %ds)\n", g.Current(), int(g.Remaining().Seconds()))
		return nil
	},
}

func init() {
	guardCmd.Flags().Int64Var(&guardAt, "at", 0, "Compute the code for this unix time instead of now")
	rootCmd.AddCommand(guardCmd)
}
