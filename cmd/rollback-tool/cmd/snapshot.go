package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

var (
	snapshotSnapshotID string
	snapshotForce      bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Restore a snapshot directly, bypassing manifest bookkeeping",
	Long: `Manual recovery path: restore the exact snapshot content to its
recorded document path without consulting or updating any manifest. The
document lock is still taken and a backup is still written first.`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVar(&snapshotSnapshotID, "snapshot-id", "",
		"snapshot to restore")
	snapshotCmd.Flags().BoolVar(&snapshotForce, "force", false,
		"proceed even if the live document has diverged")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	if err := requireFlag(snapshotSnapshotID, "snapshot-id"); err != nil {
		return err
	}
	app, err := initApp()
	if err != nil {
		return err
	}

	result, err := app.Orchestrator.Snapshot(cmd.Context(),
		core.SnapshotID(snapshotSnapshotID), snapshotForce)
	if err != nil {
		return err
	}
	if err := cli.PrintJSON(os.Stdout, result); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "restored %s from %s\n", result.Document, result.SnapshotID)
	}
	return nil
}
