package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/rollback"
)

var listRunID string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a run's integrations with rollback eligibility",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listRunID, "run-id", "", "run to list")
}

func runList(_ *cobra.Command, _ []string) error {
	if err := requireFlag(listRunID, "run-id"); err != nil {
		return err
	}
	app, err := initApp()
	if err != nil {
		return err
	}

	entries, err := app.Orchestrator.List(core.RunID(listRunID))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []rollback.ListEntry{}
	}
	return cli.PrintJSON(os.Stdout, entries)
}
