package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

var (
	runRunID  string
	runDryRun bool
	runForce  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Roll back an entire run, last-applied change first",
	Long: `Walk the run's manifest in reverse chronological order and restore
each applied integration's snapshot. Entries already rolled back are
skipped. Without --force the first failure halts the walk, leaving
earlier-applied entries untouched; the partial result is reported.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runRunID, "run-id", "", "run to roll back")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"report the plan without locking or mutating anything")
	runCmd.Flags().BoolVar(&runForce, "force", false,
		"continue past failures and diverged documents")
}

func runRun(cmd *cobra.Command, _ []string) error {
	if err := requireFlag(runRunID, "run-id"); err != nil {
		return err
	}
	app, err := initApp()
	if err != nil {
		return err
	}

	result, err := app.Orchestrator.Run(cmd.Context(), core.RunID(runRunID), runDryRun, runForce)
	if err != nil {
		return err
	}
	if err := cli.PrintJSON(os.Stdout, result); err != nil {
		return err
	}
	if !result.DryRun && !result.Completed {
		// Partial rollback is a reported terminal state, and a failure
		// for exit-code purposes.
		return fmt.Errorf("run %s rolled back partially", runRunID)
	}
	if !quiet && !result.DryRun {
		fmt.Fprintf(os.Stderr, "rolled back run %s (%d entries)\n", runRunID, len(result.Entries))
	}
	return nil
}
