package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List journaled runs, or the transitions of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openJournal(ctx)
		if err != nil {
			return fail("Failed to open the journal", err, exitFailure, nil)
		}
		if db == nil {
			return fail("No journal configured", errors.New("set journal.dsn or pass --db"), exitFailure, nil)
		}
		defer db.Close(ctx)

		if len(args) == 1 {
			return showRun(cmd, db, args[0])
		}

		runs, err := db.ListRuns(ctx, historyLimit)
		if err != nil {
			return fail("Failed to list runs", err, exitFailure, nil)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found in journal.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tACCOUNT\tSTARTED\tDURATION\tSTEPS\tOUTCOME\tREASON")
		fmt.Fprintln(w, "---\t-------\t-------\t--------\t-----\t-------\t------")
		for _, r := range runs {
			duration, outcome := "-", r.Outcome
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			if outcome == "" {
				outcome = "(running)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ID.String()[:8], r.Account, r.StartedAt.Local().Format("2006-01-02 15:04"),
				duration, r.Transitions, outcome, r.Reason)
		}
		w.Flush()
		return nil
	},
}

func showRun(cmd *cobra.Command, db *store.Store, prefix string) error {
	ctx := cmd.Context()
	id, err := db.FindRun(ctx, prefix)
	if err != nil {
		return fail("Run lookup failed", err, exitFailure, nil)
	}
	ts, err := db.Transitions(ctx, id)
	if err != nil {
		return fail("Failed to load transitions", err, exitFailure, nil)
	}
	fmt.Printf("Run %s\n", id)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "AT\tFROM\tTO\tSYMBOL")
	fmt.Fprintln(w, "--\t----\t--\t------")
	for _, t := range ts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.At.Local().Format("15:04:05.000"), t.From, t.To, t.Symbol)
	}
	w.Flush()
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
