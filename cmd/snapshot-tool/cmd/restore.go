package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/snapshot"
)

var restoreForce bool

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore a document from a snapshot",
	Long: `Replace the live document with the snapshot content. If the live
document has changed since the snapshot was taken the restore fails with
a divergence error unless --force is given. A change detected during the
restore itself is always fatal. The previous content is backed up next
to the document before it is overwritten.`,
	Args: wrapArgs(cobra.ExactArgs(1)),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreForce, "force", false,
		"proceed even if the live document has diverged")
}

func runRestore(cmd *cobra.Command, args []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}

	result, err := app.Store.Restore(cmd.Context(), core.SnapshotID(args[0]),
		snapshot.RestoreOptions{Force: restoreForce})
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
