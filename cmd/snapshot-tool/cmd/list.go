package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

var listRunID string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listRunID, "run-id", "",
		"only snapshots owned by this run")
}

func runList(_ *cobra.Command, _ []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}

	metas, err := app.Store.List(core.RunID(listRunID))
	if err != nil {
		return err
	}
	if metas == nil {
		metas = []core.SnapshotMetadata{}
	}
	return cli.PrintJSON(os.Stdout, metas)
}
