package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
)

var (
	cleanupMaxAge int
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old snapshots that no run references anymore",
	Long: `Delete snapshots older than the cutoff whose reference count is zero.
Snapshots still referenced by a run survive regardless of age. Dry-run
reports what a real pass would delete without touching anything.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupMaxAge, "max-age", 0,
		"age cutoff in days (default: snapshots.max_age_days from config)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false,
		"report without deleting")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}

	report, err := app.Store.Cleanup(cmd.Context(), cleanupMaxAge, cleanupDryRun)
	if err != nil {
		return err
	}
	if err := cli.PrintJSON(os.Stdout, report); err != nil {
		return err
	}
	if !quiet {
		verb := "deleted"
		if report.DryRun {
			verb = "would delete"
		}
		fmt.Fprintf(os.Stderr, "%s %d snapshots (%d bytes), skipped %d referenced\n",
			verb, len(report.Deleted), report.FreedBytes, len(report.Skipped))
	}
	return nil
}
