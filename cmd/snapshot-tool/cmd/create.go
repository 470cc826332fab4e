package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

var (
	createRunID         string
	createIntegrationID string
)

var createCmd = &cobra.Command{
	Use:   "create <document>",
	Short: "Snapshot a document for an integration run",
	Long: `Create an immutable snapshot of a document. The snapshot is owned by
the given run and protected from cleanup until every owning run releases
its reference. With git commit enabled in config, the snapshot is
secret-scanned and committed; a scanner match keeps the snapshot local.`,
	Args: wrapArgs(cobra.ExactArgs(1)),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createRunID, "run-id", "",
		"owning integration run (default: generated run-<uuid>)")
	createCmd.Flags().StringVar(&createIntegrationID, "integration-id", "",
		"integration within the run that this snapshot belongs to")
}

func runCreate(cmd *cobra.Command, args []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}

	runID := createRunID
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}

	meta, err := app.Store.Create(cmd.Context(), args[0],
		core.RunID(runID), core.IntegrationID(createIntegrationID))
	if meta != nil {
		// Secret detection fails the commit step only; metadata is
		// still printed so callers learn the snapshot id.
		if printErr := cli.PrintJSON(os.Stdout, meta); printErr != nil && err == nil {
			err = printErr
		}
	}
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "snapshot %s created for %s\n", meta.SnapshotID, meta.Document)
	}
	return nil
}
