package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbilal031/HID-PICO-OCR/internal/capture"
)

var (
	cleanArtifacts bool
	cleanJournal   bool
	cleanYes       bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove capture artifacts and, optionally, the run journal",
	Long:  "Deletes leftover captured frames. With --journal, also drops the journal tables. Without flags, only artifacts are removed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cleanArtifacts && !cleanJournal {
			cleanArtifacts = true
		}
		reader := bufio.NewReader(os.Stdin)

		if cleanArtifacts {
			dir := Cfg.Capture.ArtifactDir
			if cleanYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Delete all captured frames in %s?", dir)) {
				a, err := capture.NewArtifacts(dir, false)
				if err != nil {
					return fail("Failed to open the artifact directory", err, exitFailure, nil)
				}
				n, err := a.Clear()
				if err != nil {
					return fail("Failed to clear artifacts", err, exitFailure, nil)
				}
				fmt.Printf("🗑️  Removed %d frames from %s\n", n, dir)
			}
		}

		if cleanJournal {
			db, err := openJournal(cmd.Context())
			if err != nil {
				return fail("Failed to open the journal", err, exitFailure, nil)
			}
			if db == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No journal configured, nothing to drop.")
			} else {
				defer db.Close(cmd.Context())
				if cleanYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the journal tables?") {
					fmt.Println("🗑️  Dropping journal...")
					if err := db.Reset(cmd.Context()); err != nil {
						return fail("Failed to reset the journal", err, exitFailure, nil)
					}
				}
			}
		}

		fmt.Println("✨ Clean complete.")
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanArtifacts, "artifacts", false, "Remove captured frames")
	cleanCmd.Flags().BoolVar(&cleanJournal, "journal", false, "Drop the journal tables")
	cleanCmd.Flags().BoolVarP(&cleanYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(cleanCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
